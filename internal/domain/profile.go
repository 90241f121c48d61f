package domain

import "time"

const (
	// AmountWindowSize bounds the amount history used for avg/std/min/max.
	AmountWindowSize = 50

	// HighRiskThreshold is the final risk score at which a transaction counts as high-risk.
	HighRiskThreshold = 70.0

	// DefaultTrustScore is the trust score of a user with no history.
	DefaultTrustScore = 100.0
)

// UserProfile is the rolling behavioral state kept per user.
type UserProfile struct {
	UserID      string      `json:"userId"`
	AmountStats AmountStats `json:"amountStats"`
	RiskStats   RiskStats   `json:"riskStats"`
	TrustScore  float64     `json:"trustScore"`

	// Version increases by one on every applied transaction.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AmountStats are recomputed from the bounded LastN window on every update.
type AmountStats struct {
	Avg   float64   `json:"avg"`
	Std   float64   `json:"std"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	LastN []float64 `json:"lastN"`
}

// RiskStats cover every transaction the user ever made.
type RiskStats struct {
	AvgRiskScore     float64 `json:"avgRiskScore"`
	MaxRiskScore     float64 `json:"maxRiskScore"`
	HighRiskTxnCount int64   `json:"highRiskTxnCount"`
	TotalTxnCount    int64   `json:"totalTxnCount"`
}

// NewUserProfile returns the default profile for a user seen for the first time.
func NewUserProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:      userID,
		AmountStats: AmountStats{LastN: []float64{}},
		TrustScore:  DefaultTrustScore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.AmountStats.LastN = append([]float64(nil), p.AmountStats.LastN...)
	return &c
}
