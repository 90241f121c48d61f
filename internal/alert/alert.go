// Package alert decides whether a scored transaction raises an alert and explains why.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// DefaultReason is used when no other reason applies.
const DefaultReason = "Transaction flagged for manual review."

// Decider turns scored transactions into alerts.
type Decider struct {
	// Medium-risk transactions alert at or above either threshold.
	MediumFinalThreshold float64
	MediumFraudThreshold float64

	// Rule-flagged transactions alert at or above this final score.
	FlaggedFinalThreshold float64

	// Reason qualifiers
	VeryHighFraudThreshold float64
	ElevatedFraudThreshold float64
	HighAnomalyThreshold   float64
}

// NewDecider creates a decider with default thresholds.
func NewDecider() *Decider {
	return &Decider{
		MediumFinalThreshold:   65,
		MediumFraudThreshold:   70,
		FlaggedFinalThreshold:  55,
		VeryHighFraudThreshold: 85,
		ElevatedFraudThreshold: 70,
		HighAnomalyThreshold:   70,
	}
}

// ShouldAlert applies the alert policy to one scored transaction.
func (d *Decider) ShouldAlert(scores domain.Scores, rules domain.RuleOutcome) bool {
	switch scores.RiskLevel {
	case domain.RiskLevelHigh, domain.RiskLevelCritical:
		return true
	case domain.RiskLevelMedium:
		if scores.FinalRiskScore >= d.MediumFinalThreshold || scores.FraudProbability >= d.MediumFraudThreshold {
			return true
		}
	}
	return rules.Flagged && scores.FinalRiskScore >= d.FlaggedFinalThreshold
}

// BuildReasons explains a scored transaction in plain language. It never returns an empty list.
func (d *Decider) BuildReasons(st *domain.ScoredTransaction) []string {
	if st == nil {
		return []string{DefaultReason}
	}

	s := st.Scores
	reasons := make([]string, 0, 4)

	if s.RiskLevel != "" {
		reasons = append(reasons, fmt.Sprintf(
			"Transaction of ₹%.2f was scored as %s risk (final risk score %.1f, fraud probability %.1f%%).",
			st.Transaction.AmountFloat(), strings.ToUpper(string(s.RiskLevel)), s.FinalRiskScore, s.FraudProbability,
		))
	}

	if len(st.Rules.Rules) > 0 {
		reasons = append(reasons, fmt.Sprintf("Triggered rules: %s.", strings.Join(st.Rules.Rules, ", ")))
	}

	if s.FraudProbability >= d.VeryHighFraudThreshold {
		reasons = append(reasons, "Very high estimated fraud probability based on amount, deviation from normal behaviour, and trust score.")
	} else if s.FraudProbability >= d.ElevatedFraudThreshold {
		reasons = append(reasons, "Elevated fraud probability compared to this user's historical behaviour.")
	}

	if s.AnomalyScore >= d.HighAnomalyThreshold {
		reasons = append(reasons, "Transaction appears highly anomalous relative to the user's historical pattern.")
	}

	if len(reasons) == 0 {
		return []string{DefaultReason}
	}
	return reasons
}

// Decide returns an open alert for st, or nil when no alert is warranted.
func (d *Decider) Decide(st *domain.ScoredTransaction, now time.Time) *domain.Alert {
	if st == nil || !d.ShouldAlert(st.Scores, st.Rules) {
		return nil
	}

	reasons := d.BuildReasons(st)
	return &domain.Alert{
		ID:               uuid.New().String(),
		UserID:           st.Transaction.UserID,
		TxnID:            st.Transaction.ID,
		RiskLevel:        st.Scores.RiskLevel,
		FinalRiskScore:   st.Scores.FinalRiskScore,
		FraudProbability: st.Scores.FraudProbability,
		RulesTriggered:   append([]string{}, st.Rules.Rules...),
		Reasons:          reasons,
		Status:           domain.AlertStatusOpen,
		Note:             strings.Join(reasons, " "),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
