package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction says whether money entered or left the user's account.
// It only affects balance display, never scoring.
type Direction string

const (
	DirectionDeposit  Direction = "DEPOSIT"
	DirectionWithdraw Direction = "WITHDRAW"
)

// DefaultCurrency is applied when a transaction arrives without one.
const DefaultCurrency = "INR"

// Transaction represents an incoming transaction to be scored.
type Transaction struct {
	// Core identifiers
	ID     string `json:"txnId"`
	UserID string `json:"userId"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Channel is the transfer rail, e.g. "UPI", "NEFT", "IMPS", "CARD".
	Channel          string    `json:"channel"`
	MerchantCategory string    `json:"merchantCategory,omitempty"`
	Direction        Direction `json:"direction"`

	// Optional context
	Location *Location `json:"location,omitempty"`
	Device   *Device   `json:"device,omitempty"`

	// Temporal. RawTimestamp carries the caller's value until the pipeline normalizes it.
	Timestamp    time.Time `json:"timestamp"`
	RawTimestamp string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Location is where the transaction originated.
type Location struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lon,omitempty"`
}

// Device describes the initiating device.
type Device struct {
	Type string `json:"deviceType,omitempty"`
	OS   string `json:"os,omitempty"`
}

// Country returns the trimmed location country, or "" when no location was sent.
func (t *Transaction) Country() string {
	if t.Location == nil {
		return ""
	}
	return strings.TrimSpace(t.Location.Country)
}

// AmountFloat returns the amount as float64 for scoring math.
func (t *Transaction) AmountFloat() float64 {
	return t.Amount.InexactFloat64()
}

// Validate rejects malformed transactions before they enter the pipeline.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidTransaction)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	if strings.TrimSpace(t.Channel) == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalidTransaction)
	}
	return nil
}

// NormalizeDirection maps any input onto DEPOSIT or WITHDRAW.
// "CREDIT" is accepted as a deposit; everything else is a withdrawal.
func NormalizeDirection(raw string) Direction {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(DirectionDeposit), "CREDIT":
		return DirectionDeposit
	default:
		return DirectionWithdraw
	}
}

// ScoredTransaction is the immutable output of the scoring pipeline.
type ScoredTransaction struct {
	Transaction Transaction `json:"transaction"`
	Scores      Scores      `json:"scores"`
	Rules       RuleOutcome `json:"rules"`
	ScoredAt    time.Time   `json:"scoredAt"`
}

// UserSummary is the balance view over a user's stored transactions.
type UserSummary struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
	Profile *UserProfile    `json:"profile"`
}

// TransactionRequest is the inbound wire shape shared by the HTTP API and the
// async ingestion topic. Timestamp stays a string until the pipeline parses it.
type TransactionRequest struct {
	TxnID            string          `json:"txnId"`
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	Channel          string          `json:"channel"`
	MerchantCategory string          `json:"merchantCategory,omitempty"`
	Direction        string          `json:"direction,omitempty"`
	Location         *Location       `json:"location,omitempty"`
	Device           *Device         `json:"device,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"`
}

// ToTransaction converts the request into an unscored transaction.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:               r.TxnID,
		UserID:           r.UserID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Channel:          r.Channel,
		MerchantCategory: r.MerchantCategory,
		Direction:        Direction(r.Direction),
		Location:         r.Location,
		Device:           r.Device,
		RawTimestamp:     r.Timestamp,
	}
}
