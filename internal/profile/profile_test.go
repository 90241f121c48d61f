package profile

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/lock"
	"github.com/opensource-finance/sentinel/internal/scoring"
)

// memStore enforces the same version contract as the SQL repository.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.UserProfile
	saves    int
	loadErr  error
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[string]*domain.UserProfile)}
}

func (s *memStore) LoadProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) SaveProfile(_ context.Context, p *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	var stored int64
	if cur, ok := s.profiles[p.UserID]; ok {
		stored = cur.Version
	}
	if p.Version != stored+1 {
		return domain.ErrVersionConflict
	}
	s.profiles[p.UserID] = p.Clone()
	s.saves++
	return nil
}

// blockingLocker never grants the lock.
type blockingLocker struct{}

func (blockingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, domain.ErrLockTimeout
}

func TestApplyTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstTransactionCreatesProfile", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		p, err := agg.ApplyTransaction(ctx, "user-001", 1_200, 90)
		if err != nil {
			t.Fatalf("ApplyTransaction failed: %v", err)
		}

		if p.Version != 1 {
			t.Errorf("expected version 1, got %d", p.Version)
		}
		if p.AmountStats.Avg != 1_200 || p.AmountStats.Std != 0 {
			t.Errorf("expected avg 1200 std 0, got %.2f/%.2f", p.AmountStats.Avg, p.AmountStats.Std)
		}
		// 100 - 0.3*90 - 0.4*100
		if math.Abs(p.TrustScore-33) > 1e-9 {
			t.Errorf("expected trust 33, got %.4f", p.TrustScore)
		}
		if p.RiskStats.HighRiskTxnCount != 1 || p.RiskStats.MaxRiskScore != 90 {
			t.Errorf("unexpected risk stats: %+v", p.RiskStats)
		}
	})

	t.Run("Convergence", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		// Start far away, then flood with a constant amount.
		if _, err := agg.ApplyTransaction(ctx, "user-002", 90_000, 10); err != nil {
			t.Fatalf("ApplyTransaction failed: %v", err)
		}
		var p *domain.UserProfile
		for i := 0; i < 120; i++ {
			var err error
			p, err = agg.ApplyTransaction(ctx, "user-002", 500, 10)
			if err != nil {
				t.Fatalf("ApplyTransaction %d failed: %v", i, err)
			}
		}

		if p.AmountStats.Avg != 500 {
			t.Errorf("expected avg 500, got %.4f", p.AmountStats.Avg)
		}
		if p.AmountStats.Std != 0 {
			t.Errorf("expected std 0, got %.4f", p.AmountStats.Std)
		}
		if p.AmountStats.Max != 500 {
			t.Errorf("expected old max to leave the window, got %.2f", p.AmountStats.Max)
		}
		if len(p.AmountStats.LastN) != domain.AmountWindowSize {
			t.Errorf("expected window of %d, got %d", domain.AmountWindowSize, len(p.AmountStats.LastN))
		}
		if p.RiskStats.TotalTxnCount != 121 {
			t.Errorf("expected 121 transactions, got %d", p.RiskStats.TotalTxnCount)
		}
	})

	t.Run("ConvergenceFractionalAmounts", func(t *testing.T) {
		for _, amount := range []float64{1234.56, 0.1, 99.99} {
			store := newMemStore()
			agg := NewAggregator(store, lock.NewLocal(time.Second))

			var p *domain.UserProfile
			for i := 0; i < 7; i++ {
				var err error
				p, err = agg.ApplyTransaction(ctx, "user-frac", amount, 10)
				if err != nil {
					t.Fatalf("ApplyTransaction %d failed: %v", i, err)
				}
			}

			if p.AmountStats.Avg != amount {
				t.Errorf("expected avg %v, got %v", amount, p.AmountStats.Avg)
			}
			if p.AmountStats.Std != 0 {
				t.Errorf("expected std 0 for constant %v, got %v", amount, p.AmountStats.Std)
			}

			dev := scoring.ComputeDeviation(amount, p.AmountStats)
			if dev.DeviationScore != 0 || dev.AnomalyScore != 0 {
				t.Errorf("expected no deviation for usual amount %v, got %+v", amount, dev)
			}
		}
	})

	t.Run("WindowStats", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		var p *domain.UserProfile
		for _, amt := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
			p, _ = agg.ApplyTransaction(ctx, "user-003", amt, 0)
		}

		if p.AmountStats.Avg != 5 {
			t.Errorf("expected avg 5, got %.4f", p.AmountStats.Avg)
		}
		if p.AmountStats.Std != 2 {
			t.Errorf("expected population std 2, got %.4f", p.AmountStats.Std)
		}
		if p.AmountStats.Min != 2 || p.AmountStats.Max != 9 {
			t.Errorf("expected min 2 max 9, got %.2f/%.2f", p.AmountStats.Min, p.AmountStats.Max)
		}
		if p.TrustScore != 100 {
			t.Errorf("expected trust 100 for zero-risk history, got %.2f", p.TrustScore)
		}
	})

	t.Run("RiskStatsUnbounded", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		var p *domain.UserProfile
		for i := 0; i < 60; i++ {
			risk := 20.0
			if i == 0 {
				risk = 80
			}
			p, _ = agg.ApplyTransaction(ctx, "user-004", 100, risk)
		}

		wantAvg := (80.0 + 59*20.0) / 60
		if math.Abs(p.RiskStats.AvgRiskScore-wantAvg) > 1e-9 {
			t.Errorf("expected avg risk %.4f, got %.4f", wantAvg, p.RiskStats.AvgRiskScore)
		}
		if p.RiskStats.MaxRiskScore != 80 {
			t.Errorf("expected max risk 80 to survive beyond the amount window, got %.2f", p.RiskStats.MaxRiskScore)
		}
		if p.RiskStats.HighRiskTxnCount != 1 {
			t.Errorf("expected 1 high-risk transaction, got %d", p.RiskStats.HighRiskTxnCount)
		}
	})
}

func TestApplyTransactionConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	agg := NewAggregator(store, lock.NewLocal(10*time.Second))

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 1; i <= n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := agg.ApplyTransaction(ctx, "hot-user", float64(i*1000), float64(i)); err != nil {
				t.Errorf("ApplyTransaction %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, err := store.LoadProfile(ctx, "hot-user")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if p.RiskStats.TotalTxnCount != n {
		t.Errorf("expected %d transactions, got %d", n, p.RiskStats.TotalTxnCount)
	}
	if p.Version != n || store.saves != n {
		t.Errorf("expected %d saves and version %d, got %d/%d", n, n, store.saves, p.Version)
	}
	// Mean of 1..100 regardless of arrival order
	if math.Abs(p.RiskStats.AvgRiskScore-50.5) > 1e-9 {
		t.Errorf("expected avg risk 50.5, got %.6f", p.RiskStats.AvgRiskScore)
	}
	if p.RiskStats.HighRiskTxnCount != 31 {
		t.Errorf("expected 31 high-risk transactions, got %d", p.RiskStats.HighRiskTxnCount)
	}

	seen := make(map[float64]bool)
	for _, v := range p.AmountStats.LastN {
		if seen[v] {
			t.Errorf("amount %.0f applied twice", v)
		}
		seen[v] = true
	}
	if len(seen) != domain.AmountWindowSize {
		t.Errorf("expected %d distinct amounts in window, got %d", domain.AmountWindowSize, len(seen))
	}
}

func TestApplyTransactionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("LockTimeout", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, blockingLocker{})

		_, err := agg.ApplyTransaction(ctx, "user-001", 100, 10)
		if !errors.Is(err, domain.ErrLockTimeout) {
			t.Fatalf("expected ErrLockTimeout, got %v", err)
		}
		if store.saves != 0 {
			t.Errorf("expected no save, got %d", store.saves)
		}
	})

	t.Run("LoadFailure", func(t *testing.T) {
		store := newMemStore()
		store.loadErr = errors.New("connection refused")
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		_, err := agg.ApplyTransaction(ctx, "user-001", 100, 10)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("expected store failure to be retryable")
		}
	})

	t.Run("SaveFailureLeavesProfileUntouched", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		if _, err := agg.ApplyTransaction(ctx, "user-001", 100, 10); err != nil {
			t.Fatalf("ApplyTransaction failed: %v", err)
		}

		store.saveErr = errors.New("disk full")
		if _, err := agg.ApplyTransaction(ctx, "user-001", 5_000, 95); !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}

		store.saveErr = nil
		p, _ := store.LoadProfile(ctx, "user-001")
		if p.Version != 1 || p.RiskStats.TotalTxnCount != 1 || p.AmountStats.Avg != 100 {
			t.Errorf("expected untouched profile, got %+v", p)
		}
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("WriterFailureIsRetryable", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		_, err := agg.Commit(ctx, "user-001", 1_000, 10, func(ctx context.Context, next *domain.UserProfile) error {
			return errors.New("database is unavailable")
		})
		if !errors.Is(err, domain.ErrStoreUnavailable) || !domain.IsRetryable(err) {
			t.Fatalf("expected retryable store error, got %v", err)
		}
		if store.saves != 0 {
			t.Errorf("expected no save, got %d", store.saves)
		}
	})

	t.Run("DuplicateIsNotRetryable", func(t *testing.T) {
		agg := NewAggregator(newMemStore(), lock.NewLocal(time.Second))

		_, err := agg.Commit(ctx, "user-001", 1_000, 10, func(ctx context.Context, next *domain.UserProfile) error {
			return domain.ErrDuplicateTransaction
		})
		if !errors.Is(err, domain.ErrDuplicateTransaction) {
			t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
		}
		if domain.IsRetryable(err) {
			t.Error("expected duplicate to be final")
		}
	})

	t.Run("WriterSeesNextProfile", func(t *testing.T) {
		store := newMemStore()
		agg := NewAggregator(store, lock.NewLocal(time.Second))

		var seen *domain.UserProfile
		p, err := agg.Commit(ctx, "user-002", 1_000, 10, func(ctx context.Context, next *domain.UserProfile) error {
			seen = next
			return store.SaveProfile(ctx, next)
		})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if seen != p || p.Version != 1 || p.AmountStats.Avg != 1_000 {
			t.Errorf("expected writer to receive the returned profile, got %+v", seen)
		}
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	agg := NewAggregator(store, lock.NewLocal(time.Second))

	p, err := agg.Snapshot(ctx, "new-user")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if p.TrustScore != domain.DefaultTrustScore || p.Version != 0 {
		t.Errorf("expected default profile, got %+v", p)
	}
	if store.saves != 0 {
		t.Error("expected Snapshot not to write")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	p := domain.NewUserProfile("user-001", time.Now())
	p.AmountStats.LastN = make([]float64, 0, 64)

	next := Apply(p, 100, 50)
	next.AmountStats.LastN[0] = -1

	if len(p.AmountStats.LastN) != 0 || p.RiskStats.TotalTxnCount != 0 {
		t.Errorf("expected input profile unchanged, got %+v", p)
	}
}
