// Package worker scores transactions published on the ingestion topic.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
)

// Scorer is the part of the pipeline the worker drives.
type Scorer interface {
	Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	scorer     Scorer
	maxRetries int

	// initialInterval is the first retry delay; it doubles up to maxInterval.
	initialInterval time.Duration
	maxInterval     time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer, cfg domain.WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Worker{
		bus:             bus,
		scorer:          scorer,
		maxRetries:      retries,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     2 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"max_retries", w.maxRetries,
	)
	return nil
}

// handleMessage decodes one ingested transaction and scores it.
// Retryable failures are retried with exponential backoff.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := req.ToTransaction()
	// Redelivery of the same message must hit the idempotency check.
	if tx.ID == "" {
		tx.ID = msg.ID
	}

	var result *domain.ScoringResult
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		res, err := w.scorer.Score(ctx, tx)
		if err == nil {
			result = res
			return nil
		}
		if domain.IsRetryable(err) {
			slog.Warn("retrying transaction",
				"txn_id", tx.ID,
				"attempt", attempts,
				"error", err,
			)
			return err
		}
		return backoff.Permanent(err)
	}, w.backOff(ctx))

	if err != nil {
		outcome := "failed"
		if errors.Is(err, domain.ErrInvalidTransaction) {
			outcome = "invalid"
		}
		metrics.WorkerMessagesTotal.WithLabelValues(outcome).Inc()
		slog.Error("transaction processing failed",
			"txn_id", tx.ID,
			"message_id", msg.ID,
			"attempts", attempts,
			"error", err,
		)
		return err
	}

	outcome := "scored"
	if result.Replayed {
		outcome = "replayed"
	}
	metrics.WorkerMessagesTotal.WithLabelValues(outcome).Inc()

	slog.Info("transaction processed",
		"txn_id", tx.ID,
		"user_id", tx.UserID,
		"risk_level", result.Scored.Scores.RiskLevel,
		"alert", result.AlertCreated(),
		"replayed", result.Replayed,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxInterval = w.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.maxRetries)), ctx)
}

// Stop unsubscribes and waits for in-flight messages.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
