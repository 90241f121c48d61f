package domain

import (
	"fmt"
	"time"
)

// AlertStatus tracks the external review workflow.
type AlertStatus string

const (
	AlertStatusOpen           AlertStatus = "open"
	AlertStatusClosed         AlertStatus = "closed"
	AlertStatusFalsePositive  AlertStatus = "false_positive"
	AlertStatusConfirmedFraud AlertStatus = "confirmed_fraud"
)

// ParseAlertStatus validates a status string.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch st := AlertStatus(s); st {
	case AlertStatusOpen, AlertStatusClosed, AlertStatusFalsePositive, AlertStatusConfirmedFraud:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Alert is created at most once per transaction, always with status open.
type Alert struct {
	ID               string      `json:"alertId"`
	UserID           string      `json:"userId"`
	TxnID            string      `json:"txnId"`
	RiskLevel        RiskLevel   `json:"riskLevel"`
	FinalRiskScore   float64     `json:"finalRiskScore"`
	FraudProbability float64     `json:"fraudProbability"`
	RulesTriggered   []string    `json:"rulesTriggered"`
	Reasons          []string    `json:"reasons"`
	Status           AlertStatus `json:"status"`
	Note             string      `json:"note,omitempty"`

	// Resolution fields are set by the review workflow only.
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AlertResolution is a reviewer's decision on an alert.
type AlertResolution struct {
	Status     AlertStatus
	Note       string
	ResolvedBy string
	ResolvedAt time.Time
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	UserID string
	TxnID  string
	Status AlertStatus
	Limit  int
}
