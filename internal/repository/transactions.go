package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `
	id, user_id, amount, currency, channel, merchant_category, direction,
	location, device, timestamp, created_at,
	fraud_probability, anomaly_score, deviation_score, final_risk_score, trust_score,
	risk_level, is_flagged, matched_rules, scored_at
`

// AppendTransaction stores a scored transaction. Transaction ids are unique.
func (r *SQLRepository) AppendTransaction(ctx context.Context, st *domain.ScoredTransaction) error {
	return r.appendTransaction(ctx, r.db, st)
}

func (r *SQLRepository) appendTransaction(ctx context.Context, q querier, st *domain.ScoredTransaction) error {
	if st == nil || st.Transaction.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	tx := st.Transaction

	location, err := nullJSON(tx.Location)
	if err != nil {
		return err
	}
	device, err := nullJSON(tx.Device)
	if err != nil {
		return err
	}
	rules := st.Rules.Rules
	if rules == nil {
		rules = []string{}
	}
	matched, err := json.Marshal(rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount.String(), tx.Currency, tx.Channel, tx.MerchantCategory, string(tx.Direction),
		location, device, tx.Timestamp.UTC(), tx.CreatedAt.UTC(),
		st.Scores.FraudProbability, st.Scores.AnomalyScore, st.Scores.DeviationScore,
		st.Scores.FinalRiskScore, st.Scores.TrustScore,
		string(st.Scores.RiskLevel), boolToInt(st.Rules.Flagged), string(matched), st.ScoredAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a scored transaction by id.
func (r *SQLRepository) GetTransaction(ctx context.Context, txnID string) (*domain.ScoredTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	st, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return st, err
}

// ListTransactionsByUser returns the user's most recent transactions first.
func (r *SQLRepository) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]*domain.ScoredTransaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []*domain.ScoredTransaction{}
	for rows.Next() {
		st, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, st)
	}

	return transactions, rows.Err()
}

// CountTransactionsSince counts the user's transactions with timestamp >= since.
func (r *SQLRepository) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since.UTC()).Scan(&count)
	return count, err
}

// UserBalance sums deposits minus withdrawals. Amounts are summed as decimals.
func (r *SQLRepository) UserBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	query := `SELECT amount, direction FROM transactions WHERE user_id = ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var amount, direction string
		if err := rows.Scan(&amount, &direction); err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		if domain.Direction(direction) == domain.DirectionDeposit {
			balance = balance.Add(v)
		} else {
			balance = balance.Sub(v)
		}
	}

	return balance, rows.Err()
}

func scanTransaction(s scanner) (*domain.ScoredTransaction, error) {
	var st domain.ScoredTransaction
	var amount, direction, riskLevel, matched string
	var location, device sql.NullString
	var flagged int

	err := s.Scan(
		&st.Transaction.ID, &st.Transaction.UserID, &amount, &st.Transaction.Currency,
		&st.Transaction.Channel, &st.Transaction.MerchantCategory, &direction,
		&location, &device, &st.Transaction.Timestamp, &st.Transaction.CreatedAt,
		&st.Scores.FraudProbability, &st.Scores.AnomalyScore, &st.Scores.DeviationScore,
		&st.Scores.FinalRiskScore, &st.Scores.TrustScore,
		&riskLevel, &flagged, &matched, &st.ScoredAt,
	)
	if err != nil {
		return nil, err
	}

	st.Transaction.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	st.Transaction.Direction = domain.Direction(direction)
	st.Scores.RiskLevel = domain.RiskLevel(riskLevel)
	st.Rules.Flagged = flagged == 1

	if location.Valid {
		st.Transaction.Location = &domain.Location{}
		if err := json.Unmarshal([]byte(location.String), st.Transaction.Location); err != nil {
			return nil, fmt.Errorf("failed to parse location: %w", err)
		}
	}
	if device.Valid {
		st.Transaction.Device = &domain.Device{}
		if err := json.Unmarshal([]byte(device.String), st.Transaction.Device); err != nil {
			return nil, fmt.Errorf("failed to parse device: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(matched), &st.Rules.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse matched rules: %w", err)
	}
	if st.Rules.Rules == nil {
		st.Rules.Rules = []string{}
	}

	return &st, nil
}

// RecordScore writes the profile, the scored transaction, and the alert in one
// database transaction.
func (r *SQLRepository) RecordScore(ctx context.Context, p *domain.UserProfile, st *domain.ScoredTransaction, a *domain.Alert) error {
	if st == nil || st.Transaction.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM transactions WHERE id = ?`), st.Transaction.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, st.Transaction.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := r.saveProfile(ctx, tx, p); err != nil {
		return err
	}
	if err := r.appendTransaction(ctx, tx, st); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	if a != nil {
		if err := r.appendAlert(ctx, tx, a); err != nil {
			return fmt.Errorf("failed to record alert: %w", err)
		}
	}

	return tx.Commit()
}
