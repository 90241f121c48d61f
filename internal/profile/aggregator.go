// Package profile maintains the rolling per-user behavioral profile.
//
// Amount statistics cover the last domain.AmountWindowSize amounts.
// Risk statistics and the trust score derived from them cover the full history.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
)

// Aggregator applies scored transactions to user profiles, one user at a time.
type Aggregator struct {
	store  domain.ProfileStore
	locker domain.Locker
	now    func() time.Time
}

// NewAggregator creates an aggregator. Every ApplyTransaction for a user runs
// under locker so concurrent updates cannot interleave.
func NewAggregator(store domain.ProfileStore, locker domain.Locker) *Aggregator {
	return &Aggregator{
		store:  store,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot returns the current profile without locking. A user without a
// profile gets the default one; nothing is written.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return a.load(ctx, userID)
}

// ApplyTransaction folds amount and finalRisk into the user's profile and
// persists it. Read and write happen under the per-user lock; on any error
// nothing is written.
func (a *Aggregator) ApplyTransaction(ctx context.Context, userID string, amount, finalRisk float64) (*domain.UserProfile, error) {
	return a.Commit(ctx, userID, amount, finalRisk, a.store.SaveProfile)
}

// Commit is ApplyTransaction with a caller-supplied write. commit receives the
// next profile while the per-user lock is held and must persist it, along with
// anything that has to land in the same unit. The profile counts as updated
// only when commit returns nil.
func (a *Aggregator) Commit(ctx context.Context, userID string, amount, finalRisk float64, commit func(ctx context.Context, next *domain.UserProfile) error) (*domain.UserProfile, error) {
	release, err := a.locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrLockTimeout) {
			metrics.ProfileLockTimeoutsTotal.Inc()
			slog.Warn("profile lock timeout", "user_id", userID)
		}
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}
	defer release()

	current, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := Apply(current, amount, finalRisk)
	next.UpdatedAt = a.now()

	if err := commit(ctx, next); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrDuplicateTransaction) {
			return nil, fmt.Errorf("failed to save profile: %w", err)
		}
		return nil, fmt.Errorf("failed to save profile: %w: %w", domain.ErrStoreUnavailable, err)
	}

	slog.Debug("profile updated",
		"user_id", userID,
		"version", next.Version,
		"trust_score", next.TrustScore,
		"txn_count", next.RiskStats.TotalTxnCount,
	)

	return next, nil
}

func (a *Aggregator) load(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, err := a.store.LoadProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewUserProfile(userID, a.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}
