package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeScorer fails the first failures calls with err, then succeeds.
type fakeScorer struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    atomic.Int32
	seen     []*domain.Transaction
	done     chan struct{}
}

func newFakeScorer(failures int, err error) *fakeScorer {
	return &fakeScorer{failures: failures, err: err, done: make(chan struct{}, 10)}
}

func (s *fakeScorer) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error) {
	n := s.calls.Add(1)

	s.mu.Lock()
	s.seen = append(s.seen, tx)
	s.mu.Unlock()

	if int(n) <= s.failures {
		if int(n) == s.failures && s.failures > 0 {
			defer func() { s.done <- struct{}{} }()
		}
		return nil, s.err
	}
	defer func() { s.done <- struct{}{} }()
	return &domain.ScoringResult{
		Scored: domain.ScoredTransaction{
			Transaction: *tx,
			Scores:      domain.Scores{RiskLevel: domain.RiskLevelLow},
		},
	}, nil
}

func newTestWorker(eventBus domain.EventBus, scorer Scorer, retries int) *Worker {
	w := NewWorker(eventBus, scorer, domain.WorkerConfig{Enabled: true, MaxRetries: retries})
	w.initialInterval = time.Millisecond
	w.maxInterval = 5 * time.Millisecond
	return w
}

func publishTxn(t *testing.T, eventBus domain.EventBus, req domain.TransactionRequest) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func waitDone(t *testing.T, s *fakeScorer) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for scorer, %d calls", s.calls.Load())
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := newTestWorker(eventBus, newFakeScorer(0, nil), 3)
		if err := worker.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionIngested, stats.Topics[0])
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := newFakeScorer(0, nil)
		worker := newTestWorker(eventBus, scorer, 3)
		if err := worker.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		publishTxn(t, eventBus, domain.TransactionRequest{
			TxnID:     "txn-async-1",
			UserID:    "user-1",
			Amount:    decimal.RequireFromString("1500.25"),
			Channel:   "NEFT",
			Timestamp: "2025-03-01T12:00:00Z",
		})
		waitDone(t, scorer)

		scorer.mu.Lock()
		defer scorer.mu.Unlock()
		tx := scorer.seen[0]
		if tx.ID != "txn-async-1" {
			t.Errorf("expected txn-async-1, got %s", tx.ID)
		}
		if !tx.Amount.Equal(decimal.RequireFromString("1500.25")) {
			t.Errorf("expected amount 1500.25, got %s", tx.Amount)
		}
		if tx.RawTimestamp != "2025-03-01T12:00:00Z" {
			t.Errorf("expected raw timestamp, got %q", tx.RawTimestamp)
		}
	})

	t.Run("MissingIDUsesMessageID", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := newFakeScorer(0, nil)
		worker := newTestWorker(eventBus, scorer, 0)
		if err := worker.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		publishTxn(t, eventBus, domain.TransactionRequest{UserID: "user-1", Amount: decimal.NewFromInt(5), Channel: "UPI"})
		waitDone(t, scorer)

		scorer.mu.Lock()
		defer scorer.mu.Unlock()
		if scorer.seen[0].ID == "" {
			t.Error("expected message id to stand in for the missing txn id")
		}
	})
}

func TestWorkerRetries(t *testing.T) {
	t.Run("RetryableErrorIsRetried", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := newFakeScorer(2, fmt.Errorf("apply: %w", domain.ErrLockTimeout))
		worker := newTestWorker(eventBus, scorer, 3)
		if err := worker.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		publishTxn(t, eventBus, domain.TransactionRequest{TxnID: "retry-1", UserID: "u", Amount: decimal.NewFromInt(5), Channel: "UPI"})

		// Two failures, then success.
		waitDone(t, scorer)
		waitDone(t, scorer)
		if got := scorer.calls.Load(); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
	})

	t.Run("RetriesAreBounded", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := newFakeScorer(10, domain.ErrStoreUnavailable)
		w := newTestWorker(eventBus, scorer, 2)

		msg := &domain.Message{ID: "m-1", Payload: []byte(`{"txnId":"r","userId":"u","amount":5,"channel":"UPI"}`)}
		err := w.handleMessage(context.Background(), msg)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
		if got := scorer.calls.Load(); got != 3 {
			t.Errorf("expected 1 attempt + 2 retries, got %d", got)
		}
	})

	t.Run("PermanentErrorNotRetried", func(t *testing.T) {
		scorer := newFakeScorer(10, fmt.Errorf("%w: channel is required", domain.ErrInvalidTransaction))
		w := newTestWorker(bus.NewChannelBus(1), scorer, 5)

		msg := &domain.Message{ID: "m-2", Payload: []byte(`{"txnId":"p","userId":"u","amount":5}`)}
		err := w.handleMessage(context.Background(), msg)
		if !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
		if got := scorer.calls.Load(); got != 1 {
			t.Errorf("expected 1 attempt, got %d", got)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		scorer := newFakeScorer(0, nil)
		w := newTestWorker(bus.NewChannelBus(1), scorer, 1)

		err := w.handleMessage(context.Background(), &domain.Message{ID: "m-3", Payload: []byte("{")})
		if err == nil {
			t.Error("expected decode error")
		}
		if scorer.calls.Load() != 0 {
			t.Error("scorer must not be called for malformed payloads")
		}
	})
}
