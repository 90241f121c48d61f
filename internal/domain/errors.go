package domain

import "errors"

var (
	// ErrInvalidTransaction marks a transaction rejected before scoring.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreUnavailable wraps persistence failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockTimeout is returned when the per-user lock could not be acquired in time.
	ErrLockTimeout = errors.New("profile lock timeout")

	// ErrVersionConflict is returned by SaveProfile when the stored version moved underneath us.
	ErrVersionConflict = errors.New("profile version conflict")

	// ErrDuplicateTransaction is returned by RecordScore when the transaction id was already recorded.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrInvalidStatus is returned for unknown alert statuses.
	ErrInvalidStatus = errors.New("invalid alert status")
)

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrVersionConflict)
}
