package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// LoadProfile retrieves a user profile.
func (r *SQLRepository) LoadProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT user_id, avg_amount, std_amount, min_amount, max_amount, last_amounts,
			   avg_risk_score, max_risk_score, high_risk_txn_count, total_txn_count,
			   trust_score, version, created_at, updated_at
		FROM user_profiles
		WHERE user_id = ?
	`

	var p domain.UserProfile
	var lastN string

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&p.UserID,
		&p.AmountStats.Avg, &p.AmountStats.Std, &p.AmountStats.Min, &p.AmountStats.Max, &lastN,
		&p.RiskStats.AvgRiskScore, &p.RiskStats.MaxRiskScore,
		&p.RiskStats.HighRiskTxnCount, &p.RiskStats.TotalTxnCount,
		&p.TrustScore, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(lastN), &p.AmountStats.LastN); err != nil {
		return nil, fmt.Errorf("failed to parse amount history for %s: %w", userID, err)
	}
	if p.AmountStats.LastN == nil {
		p.AmountStats.LastN = []float64{}
	}

	return &p, nil
}

// SaveProfile writes the whole profile in one statement.
// Version 1 inserts; any other version updates only if the stored version is one behind.
func (r *SQLRepository) SaveProfile(ctx context.Context, p *domain.UserProfile) error {
	return r.saveProfile(ctx, r.db, p)
}

func (r *SQLRepository) saveProfile(ctx context.Context, q querier, p *domain.UserProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if p.Version < 1 {
		return fmt.Errorf("%w: profile version must be positive", ErrInvalidInput)
	}

	lastN := p.AmountStats.LastN
	if lastN == nil {
		lastN = []float64{}
	}
	history, err := json.Marshal(lastN)
	if err != nil {
		return err
	}

	var result sql.Result
	if p.Version == 1 {
		query := `
			INSERT INTO user_profiles (
				user_id, avg_amount, std_amount, min_amount, max_amount, last_amounts,
				avg_risk_score, max_risk_score, high_risk_txn_count, total_txn_count,
				trust_score, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING
		`
		result, err = q.ExecContext(ctx, r.rebind(query),
			p.UserID,
			p.AmountStats.Avg, p.AmountStats.Std, p.AmountStats.Min, p.AmountStats.Max, string(history),
			p.RiskStats.AvgRiskScore, p.RiskStats.MaxRiskScore,
			p.RiskStats.HighRiskTxnCount, p.RiskStats.TotalTxnCount,
			p.TrustScore, p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
	} else {
		query := `
			UPDATE user_profiles SET
				avg_amount = ?, std_amount = ?, min_amount = ?, max_amount = ?, last_amounts = ?,
				avg_risk_score = ?, max_risk_score = ?, high_risk_txn_count = ?, total_txn_count = ?,
				trust_score = ?, version = ?, updated_at = ?
			WHERE user_id = ? AND version = ?
		`
		result, err = q.ExecContext(ctx, r.rebind(query),
			p.AmountStats.Avg, p.AmountStats.Std, p.AmountStats.Min, p.AmountStats.Max, string(history),
			p.RiskStats.AvgRiskScore, p.RiskStats.MaxRiskScore,
			p.RiskStats.HighRiskTxnCount, p.RiskStats.TotalTxnCount,
			p.TrustScore, p.Version, p.UpdatedAt.UTC(),
			p.UserID, p.Version-1,
		)
	}
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s at version %d", domain.ErrVersionConflict, p.UserID, p.Version)
	}
	return nil
}
