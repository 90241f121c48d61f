package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

const alertColumns = `
	id, user_id, txn_id, risk_level, final_risk_score, fraud_probability,
	rules_triggered, reasons, status, note, resolution_note, resolved_by, resolved_at,
	created_at, updated_at
`

// AppendAlert stores a new alert. At most one alert exists per transaction.
func (r *SQLRepository) AppendAlert(ctx context.Context, a *domain.Alert) error {
	return r.appendAlert(ctx, r.db, a)
}

func (r *SQLRepository) appendAlert(ctx context.Context, q querier, a *domain.Alert) error {
	if a == nil || a.ID == "" || a.TxnID == "" {
		return fmt.Errorf("%w: alert id and txn id are required", ErrInvalidInput)
	}

	rules := a.RulesTriggered
	if rules == nil {
		rules = []string{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return err
	}

	var resolvedAt sql.NullTime
	if a.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: a.ResolvedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, r.rebind(query),
		a.ID, a.UserID, a.TxnID, string(a.RiskLevel), a.FinalRiskScore, a.FraudProbability,
		string(rulesJSON), string(reasons), string(a.Status), a.Note,
		a.ResolutionNote, a.ResolvedBy, resolvedAt,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	return err
}

// GetAlert retrieves an alert by id.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// ListAlerts returns alerts newest first, narrowed by filter.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TxnID != "" {
		where = append(where, "txn_id = ?")
		args = append(args, filter.TxnID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []*domain.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// UpdateAlertStatus records a reviewer's resolution and returns the updated alert.
// Reopening an alert clears its resolution timestamp.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, res domain.AlertResolution) (*domain.Alert, error) {
	if _, err := domain.ParseAlertStatus(string(res.Status)); err != nil {
		return nil, err
	}

	now := res.ResolvedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var resolvedAt sql.NullTime
	if res.Status != domain.AlertStatusOpen {
		resolvedAt = sql.NullTime{Time: now, Valid: true}
	}

	query := `
		UPDATE alerts
		SET status = ?, resolution_note = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(res.Status), res.Note, res.ResolvedBy, resolvedAt, now, alertID,
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetAlert(ctx, alertID)
}

func scanAlert(s scanner) (*domain.Alert, error) {
	var a domain.Alert
	var riskLevel, status, rules, reasons string
	var resolvedAt sql.NullTime

	err := s.Scan(
		&a.ID, &a.UserID, &a.TxnID, &riskLevel, &a.FinalRiskScore, &a.FraudProbability,
		&rules, &reasons, &status, &a.Note, &a.ResolutionNote, &a.ResolvedBy, &resolvedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RiskLevel = domain.RiskLevel(riskLevel)
	a.Status = domain.AlertStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}

	if err := json.Unmarshal([]byte(rules), &a.RulesTriggered); err != nil {
		return nil, fmt.Errorf("failed to parse alert rules: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
		return nil, fmt.Errorf("failed to parse alert reasons: %w", err)
	}

	return &a, nil
}
