// Package velocity provides per-user transaction velocity counters.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// DefaultWindow is the counting window when none is configured.
const DefaultWindow = time.Hour

// TransactionCounter counts stored transactions. Satisfied by domain.Repository.
type TransactionCounter interface {
	CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// Service calculates transaction velocity for users.
type Service struct {
	cache  domain.Cache
	store  TransactionCounter
	window time.Duration
	now    func() time.Time
}

// NewService creates a new velocity service. Either source may be nil.
func NewService(cache domain.Cache, store TransactionCounter, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		cache:  cache,
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Record counts one more transaction for userID and returns the count in the
// current window, the new transaction included. The cache counter is used when
// available; otherwise the stored history is counted.
func (s *Service) Record(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, counterKey(userID), s.window)
		if err == nil {
			return count, nil
		}
		slog.Warn("velocity counter unavailable, counting stored transactions",
			"user_id", userID,
			"error", err,
		)
	}

	if s.store == nil {
		return 0, fmt.Errorf("no velocity source available")
	}

	stored, err := s.store.CountTransactionsSince(ctx, userID, s.now().Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return stored + 1, nil
}

func counterKey(userID string) string {
	return "velocity:" + userID
}
