package scoring

import (
	"math"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Fusion weights and thresholds.
const (
	amountScale          = 100_000.0
	maxAmountFactor      = 5.0
	amountSigmoidShift   = 1.5
	amountWeight         = 60.0
	deviationWeight      = 0.4
	ruleBoost            = 25.0
	trustWeight          = 0.3
	overrideAmount       = 500_000.0
	overrideProbability  = 90.0
	severeAmount         = 1_000_000.0
	severeProbability    = 95.0
	finalFraudWeight     = 0.6
	finalAnomalyWeight   = 0.2
	finalDeviationWeight = 0.2
	finalFloorRatio      = 0.8

	criticalThreshold = 85.0
	highThreshold     = 65.0
	mediumThreshold   = 40.0

	forceCriticalProbability = 95.0
	forceCriticalFinal       = 90.0
	forceHighProbability     = 85.0
	forceHighFinal           = 75.0
)

// FusionInput is everything the fusion scorer looks at.
type FusionInput struct {
	Amount     float64
	Flagged    bool
	Deviation  Deviation
	TrustScore float64

	// Signal optionally replaces the internally derived fraud probability
	// and anomaly score. Nil fields are derived.
	Signal domain.Signal
}

// Fuse combines the rule flag, deviation, trust, and amount into the final scores.
func Fuse(in FusionInput) domain.Scores {
	trust := clamp(in.TrustScore, 0, 100)
	deviation := clamp(in.Deviation.DeviationScore, 0, 100)

	anomaly := clamp(in.Deviation.AnomalyScore, 0, 100)
	if in.Signal.AnomalyScore != nil && isFinite(*in.Signal.AnomalyScore) {
		anomaly = clamp(*in.Signal.AnomalyScore, 0, 100)
	}
	anomaly = round2(anomaly)

	var fp float64
	if in.Signal.FraudProbability != nil && isFinite(*in.Signal.FraudProbability) {
		fp = clamp(*in.Signal.FraudProbability, 0, 100)
	} else {
		fp = FraudProbability(in.Amount, in.Flagged, deviation, trust)
	}

	if in.Flagged && in.Amount >= overrideAmount {
		fp = math.Max(fp, overrideProbability)
	}
	if in.Flagged && in.Amount >= severeAmount {
		fp = math.Max(fp, severeProbability)
	}
	fp = round2(fp)

	final := fp*finalFraudWeight + anomaly*finalAnomalyWeight + deviation*finalDeviationWeight
	final = math.Max(final, fp*finalFloorRatio)
	final = round2(clamp(final, 0, 100))

	level := Level(final)
	if fp >= forceCriticalProbability {
		level = domain.RiskLevelCritical
		final = math.Max(final, forceCriticalFinal)
	} else if fp >= forceHighProbability && level == domain.RiskLevelMedium {
		level = domain.RiskLevelHigh
		final = math.Max(final, forceHighFinal)
	}

	return domain.Scores{
		FraudProbability: fp,
		AnomalyScore:     anomaly,
		DeviationScore:   round2(deviation),
		FinalRiskScore:   final,
		TrustScore:       round2(trust),
		RiskLevel:        level,
	}
}

// FraudProbability is the internal estimate used when no external signal is supplied.
// It excludes the hard overrides, which Fuse applies regardless of the source.
func FraudProbability(amount float64, flagged bool, deviationScore, trustScore float64) float64 {
	amountFactor := math.Min(math.Max(amount, 0)/amountScale, maxAmountFactor)
	fp := sigmoid(amountFactor-amountSigmoidShift) * amountWeight
	fp += deviationScore * deviationWeight
	if flagged {
		fp += ruleBoost
	}
	fp += (100 - trustScore) * trustWeight
	return clamp(fp, 0, 100)
}

// Level maps a final risk score onto its bucket.
func Level(final float64) domain.RiskLevel {
	switch {
	case final >= criticalThreshold:
		return domain.RiskLevelCritical
	case final >= highThreshold:
		return domain.RiskLevelHigh
	case final >= mediumThreshold:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
