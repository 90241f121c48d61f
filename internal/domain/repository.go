// Package domain defines the core interfaces and types for Sentinel.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProfileStore persists user profiles.
type ProfileStore interface {
	// LoadProfile returns ErrNotFound when the user has no profile yet.
	LoadProfile(ctx context.Context, userID string) (*UserProfile, error)

	// SaveProfile writes the full profile as one unit. profile.Version must be
	// exactly one more than the stored version (or 1 for a new profile);
	// otherwise ErrVersionConflict is returned and nothing is written.
	SaveProfile(ctx context.Context, profile *UserProfile) error
}

// Repository defines the interface for data persistence.
type Repository interface {
	ProfileStore

	// Transaction operations
	AppendTransaction(ctx context.Context, st *ScoredTransaction) error
	GetTransaction(ctx context.Context, txnID string) (*ScoredTransaction, error)
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]*ScoredTransaction, error)
	CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	UserBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// RecordScore commits the updated profile, the scored transaction, and its
	// alert (nil when none was raised) in one database transaction: either all
	// three are written or none is. SaveProfile's version rule applies to
	// profile. ErrDuplicateTransaction is returned when st's id is already stored.
	RecordScore(ctx context.Context, profile *UserProfile, st *ScoredTransaction, alert *Alert) error

	// Alert operations
	AppendAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, res AlertResolution) (*Alert, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Locker serializes work per key.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockConfig selects the per-user lock implementation.
type LockConfig struct {
	// Type is "local" or "redis".
	Type    string
	Timeout time.Duration

	// Redis lock settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisLockTTL  time.Duration
}
