package domain

// RiskLevel is the categorical bucket of a final risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Scores is the output of the risk-fusion scorer. Every score lies in [0,100].
type Scores struct {
	FraudProbability float64   `json:"fraudProbability"`
	AnomalyScore     float64   `json:"anomalyScore"`
	DeviationScore   float64   `json:"deviationScore"`
	FinalRiskScore   float64   `json:"finalRiskScore"`
	TrustScore       float64   `json:"trustScore"`
	RiskLevel        RiskLevel `json:"riskLevel"`
}

// RuleOutcome is the rule engine output: ordered, de-duplicated rule ids.
type RuleOutcome struct {
	Flagged bool     `json:"isFlagged"`
	Rules   []string `json:"matchedRules"`
}

// NewRuleOutcome de-duplicates ids preserving first occurrence order.
func NewRuleOutcome(ids ...string) RuleOutcome {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return RuleOutcome{Flagged: len(out) > 0, Rules: out}
}

// Append returns a new outcome with extra ids merged after the existing ones.
func (o RuleOutcome) Append(ids ...string) RuleOutcome {
	all := make([]string, 0, len(o.Rules)+len(ids))
	all = append(all, o.Rules...)
	all = append(all, ids...)
	return NewRuleOutcome(all...)
}

// ScoringResult is what the pipeline returns to its caller.
type ScoringResult struct {
	Scored  ScoredTransaction `json:"scored"`
	Profile *UserProfile      `json:"profile"`
	Alert   *Alert            `json:"alert,omitempty"`

	// Replayed is true when the result came from the idempotency cache.
	Replayed bool `json:"replayed"`
}

// AlertCreated reports whether scoring produced an alert.
func (r *ScoringResult) AlertCreated() bool {
	return r.Alert != nil
}
