// Package pipeline runs one transaction through rules, scoring, the profile
// update, and the alert decision, then records the outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/sentinel/internal/alert"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/profile"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/scoring"
	"github.com/opensource-finance/sentinel/internal/telemetry"
	"github.com/opensource-finance/sentinel/internal/velocity"
	"go.opentelemetry.io/otel/codes"
)

// DefaultResultTTL is how long a scoring result stays in the idempotency cache.
const DefaultResultTTL = 24 * time.Hour

// Options holds the optional collaborators. Nil fields disable the step.
type Options struct {
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Signal   domain.SignalProvider
	Velocity *velocity.Service

	// Policy defaults to rules.DefaultPolicy().
	Policy *rules.Policy

	ResultTTL time.Duration
}

// Pipeline scores transactions.
type Pipeline struct {
	repo      domain.Repository
	profiles  *profile.Aggregator
	decider   *alert.Decider
	policy    rules.Policy
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	signal    domain.SignalProvider
	velocity  *velocity.Service
	resultTTL time.Duration
	now       func() time.Time
}

// New creates a pipeline over repo. Profile updates are serialized per user by locker.
func New(repo domain.Repository, locker domain.Locker, opts Options) *Pipeline {
	policy := rules.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	ttl := opts.ResultTTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Pipeline{
		repo:      repo,
		profiles:  profile.NewAggregator(repo, locker),
		decider:   alert.NewDecider(),
		policy:    policy,
		cache:     opts.Cache,
		bus:       opts.Bus,
		engine:    opts.Engine,
		signal:    opts.Signal,
		velocity:  opts.Velocity,
		resultTTL: ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Profiles exposes the profile aggregator for read-only views.
func (p *Pipeline) Profiles() *profile.Aggregator {
	return p.profiles
}

// Score runs tx through the full pipeline. A transaction id that was already
// scored returns the stored result with Replayed set and changes nothing.
//
// Errors: domain.ErrInvalidTransaction for rejected input; errors matching
// domain.IsRetryable when nothing was committed and the call may be retried.
func (p *Pipeline) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error) {
	start := time.Now()

	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidTransaction)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	t := normalize(tx, p.now())

	ctx, span := telemetry.StartSpan(ctx, "pipeline.Score",
		telemetry.TxnID(t.ID),
		telemetry.UserID(t.UserID),
		telemetry.Amount(t.Amount.String()),
	)
	defer span.End()

	if prior, err := p.replay(ctx, t.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay lookup failed")
		return nil, err
	} else if prior != nil {
		span.SetAttributes(telemetry.RiskLevel(prior.Scored.Scores.RiskLevel))
		slog.Info("transaction replayed", "txn_id", t.ID, "user_id", t.UserID)
		return prior, nil
	}

	velocityCount := p.recordVelocity(ctx, t.UserID)

	snapshot, err := p.profiles.Snapshot(ctx, t.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile snapshot failed")
		return nil, err
	}

	outcome := p.policy.Evaluate(&t, snapshot)
	if p.engine != nil {
		custom := p.engine.EvaluateAll(ctx, &rules.EvaluateInput{
			Tx:            &t,
			Profile:       snapshot,
			VelocityCount: velocityCount,
		})
		outcome = outcome.Append(custom...)
	}

	amount := t.AmountFloat()
	deviation := scoring.ComputeDeviation(amount, snapshot.AmountStats)
	signal := p.externalSignal(ctx, &t, snapshot, outcome, velocityCount)

	scores := scoring.Fuse(scoring.FusionInput{
		Amount:     amount,
		Flagged:    outcome.Flagged,
		Deviation:  deviation,
		TrustScore: snapshot.TrustScore,
		Signal:     signal,
	})

	scoredAt := p.now()
	st := domain.ScoredTransaction{
		Transaction: t,
		Scores:      scores,
		Rules:       outcome,
		ScoredAt:    scoredAt,
	}
	raised := p.decider.Decide(&st, scoredAt)

	updated, err := p.profiles.Commit(ctx, t.UserID, amount, scores.FinalRiskScore,
		func(ctx context.Context, next *domain.UserProfile) error {
			return p.repo.RecordScore(ctx, next, &st, raised)
		})
	if errors.Is(err, domain.ErrDuplicateTransaction) {
		// Another delivery of the same id committed first.
		prior, rerr := p.replay(ctx, t.ID)
		if rerr == nil && prior != nil {
			slog.Info("transaction replayed", "txn_id", t.ID, "user_id", t.UserID)
			return prior, nil
		}
		if rerr != nil {
			err = rerr
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "score commit failed")
		slog.Error("failed to record scored transaction",
			"txn_id", t.ID,
			"user_id", t.UserID,
			"error", err,
		)
		return nil, err
	}

	result := &domain.ScoringResult{
		Scored:  st,
		Profile: updated,
		Alert:   raised,
	}

	p.remember(ctx, result)
	p.publish(ctx, result)
	p.observe(result, time.Since(start))

	span.SetAttributes(
		telemetry.RiskLevel(scores.RiskLevel),
		telemetry.FinalRiskScore(scores.FinalRiskScore),
	)

	slog.Info("transaction scored",
		"txn_id", t.ID,
		"user_id", t.UserID,
		"risk_level", scores.RiskLevel,
		"final_risk_score", scores.FinalRiskScore,
		"fraud_probability", scores.FraudProbability,
		"rules", outcome.Rules,
		"alert", raised != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// Summary returns the user's balance and current profile.
func (p *Pipeline) Summary(ctx context.Context, userID string) (*domain.UserSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidTransaction)
	}

	balance, err := p.repo.UserBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w: %w", domain.ErrStoreUnavailable, err)
	}
	snapshot, err := p.profiles.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.UserSummary{
		UserID:  userID,
		Balance: balance,
		Profile: snapshot,
	}, nil
}

// replay returns the earlier result for txnID, from the cache or the store.
func (p *Pipeline) replay(ctx context.Context, txnID string) (*domain.ScoringResult, error) {
	if p.cache != nil {
		cached, err := p.cache.GetResult(ctx, txnID)
		if err != nil {
			slog.Warn("result cache lookup failed", "txn_id", txnID, "error", err)
		} else if cached != nil {
			cached.Replayed = true
			return cached, nil
		}
	}

	stored, err := p.repo.GetTransaction(ctx, txnID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w: %w", domain.ErrStoreUnavailable, err)
	}

	snapshot, err := p.profiles.Snapshot(ctx, stored.Transaction.UserID)
	if err != nil {
		return nil, err
	}
	alerts, err := p.repo.ListAlerts(ctx, domain.AlertFilter{TxnID: txnID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to look up alert: %w: %w", domain.ErrStoreUnavailable, err)
	}

	result := &domain.ScoringResult{
		Scored:   *stored,
		Profile:  snapshot,
		Replayed: true,
	}
	if len(alerts) > 0 {
		result.Alert = alerts[0]
	}
	return result, nil
}

func (p *Pipeline) recordVelocity(ctx context.Context, userID string) int64 {
	if p.velocity == nil {
		return 0
	}
	count, err := p.velocity.Record(ctx, userID)
	if err != nil {
		slog.Warn("velocity unavailable", "user_id", userID, "error", err)
		return 0
	}
	return count
}

// externalSignal asks the signal provider for a model score. Failures fall
// back to the internal derivation.
func (p *Pipeline) externalSignal(ctx context.Context, tx *domain.Transaction, snapshot *domain.UserProfile, outcome domain.RuleOutcome, velocityCount int64) domain.Signal {
	if p.signal == nil {
		return domain.Signal{}
	}

	features := domain.Features{
		TxnID:           tx.ID,
		UserID:          tx.UserID,
		Amount:          tx.AmountFloat(),
		Channel:         tx.Channel,
		HourOfDay:       tx.Timestamp.UTC().Hour(),
		AvgAmount:       snapshot.AmountStats.Avg,
		StdAmount:       snapshot.AmountStats.Std,
		TrustScore:      snapshot.TrustScore,
		TxnCount:        snapshot.RiskStats.TotalTxnCount,
		VelocityCount1h: velocityCount,
	}
	if outcome.Flagged {
		features.IsFlaggedFraud = 1
	}
	for _, id := range outcome.Rules {
		if id == domain.RuleCrossBorder {
			features.IsCrossBorder = 1
		}
	}

	sig, err := p.signal.Score(ctx, features)
	if err != nil {
		slog.Warn("signal provider failed, using internal scores",
			"txn_id", tx.ID,
			"error", err,
		)
		return domain.Signal{}
	}
	return sig
}

func (p *Pipeline) remember(ctx context.Context, result *domain.ScoringResult) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetResult(ctx, result.Scored.Transaction.ID, result, p.resultTTL); err != nil {
		slog.Warn("failed to cache scoring result",
			"txn_id", result.Scored.Transaction.ID,
			"error", err,
		)
	}
}

func (p *Pipeline) publish(ctx context.Context, result *domain.ScoringResult) {
	if p.bus == nil {
		return
	}
	txnID := result.Scored.Transaction.ID

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode decision", "txn_id", txnID, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision", "txn_id", txnID, "error", err)
	}

	if result.Alert == nil {
		return
	}
	alertPayload, err := json.Marshal(result.Alert)
	if err != nil {
		slog.Error("failed to encode alert", "txn_id", txnID, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicAlert, alertPayload); err != nil {
		slog.Error("failed to publish alert", "txn_id", txnID, "error", err)
	}
}

func (p *Pipeline) observe(result *domain.ScoringResult, elapsed time.Duration) {
	level := string(result.Scored.Scores.RiskLevel)
	metrics.TransactionsScoredTotal.WithLabelValues(level).Inc()
	metrics.ScoringDuration.Observe(elapsed.Seconds())
	for _, id := range result.Scored.Rules.Rules {
		metrics.RulesTriggeredTotal.WithLabelValues(id).Inc()
	}
	if result.Alert != nil {
		metrics.AlertsTotal.WithLabelValues(level).Inc()
	}
}
