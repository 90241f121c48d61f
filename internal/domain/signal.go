package domain

import (
	"context"
	"time"
)

// Features is the input vector sent to an external scoring model.
type Features struct {
	TxnID           string  `json:"txnId"`
	UserID          string  `json:"userId"`
	Amount          float64 `json:"amount"`
	Channel         string  `json:"channel"`
	HourOfDay       int     `json:"hourOfDay"`
	IsFlaggedFraud  int     `json:"isFlaggedFraud"`
	IsCrossBorder   int     `json:"isCrossBorder"`
	AvgAmount       float64 `json:"avgAmount"`
	StdAmount       float64 `json:"stdAmount"`
	TrustScore      float64 `json:"trustScore"`
	TxnCount        int64   `json:"txnCount"`
	VelocityCount1h int64   `json:"velocityCount1h"`
}

// Signal is an optional model output. Nil fields mean "not provided".
type Signal struct {
	FraudProbability *float64 `json:"fraudProbability,omitempty"`
	AnomalyScore     *float64 `json:"anomalyScore,omitempty"`
}

// SignalProvider is an external statistical model. Scoring works without one.
type SignalProvider interface {
	Score(ctx context.Context, features Features) (Signal, error)
}

// SignalConfig configures the HTTP signal provider.
type SignalConfig struct {
	// URL of the model endpoint; empty disables the provider.
	URL     string
	Timeout time.Duration

	// Circuit breaker settings
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// ScoringConfig holds the tunable rule policy.
type ScoringConfig struct {
	HomeCountry        string
	LowFrictionChannel string
	ResultTTL          time.Duration
	VelocityWindow     time.Duration
}
