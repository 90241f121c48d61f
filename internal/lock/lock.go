// Package lock provides per-key mutual exclusion for profile updates.
//
// Community tier uses an in-process sharded mutex. Pro tier uses a Redis
// lease so several Sentinel instances can share one profile store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// New creates a Locker based on configuration.
func New(cfg domain.LockConfig) (domain.Locker, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocal(cfg.Timeout), nil
	case "redis":
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}

// withTimeout bounds ctx by timeout when one is configured.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// waitError maps a context failure while waiting for a lock onto ErrLockTimeout.
// Cancellation of the caller's own context is returned unchanged.
func waitError(parent context.Context, key string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	}
	return err
}
