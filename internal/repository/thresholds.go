package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oslsr/kestrel/internal/domain"
)

const thresholdColumns = `
	id, rule_key, display_name, rule_category, threshold_value, weight,
	severity_floor, is_active, effective_from, effective_until, version,
	created_by, created_at, notes`

// ListOpenThresholds returns the open row of every rule key.
func (r *SQLRepository) ListOpenThresholds(ctx context.Context) ([]domain.ThresholdRule, error) {
	query := `SELECT` + thresholdColumns + `
		FROM fraud_thresholds
		WHERE effective_until IS NULL
		ORDER BY rule_category, rule_key
	`
	return r.queryThresholds(ctx, query)
}

// GetOpenThreshold returns the open row of ruleKey.
func (r *SQLRepository) GetOpenThreshold(ctx context.Context, ruleKey string) (*domain.ThresholdRule, error) {
	query := `SELECT` + thresholdColumns + `
		FROM fraud_thresholds
		WHERE rule_key = ? AND effective_until IS NULL
	`
	rule, err := scanThreshold(r.db.QueryRowContext(ctx, r.rebind(query), ruleKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListThresholdHistory returns every version of ruleKey, newest first.
func (r *SQLRepository) ListThresholdHistory(ctx context.Context, ruleKey string) ([]domain.ThresholdRule, error) {
	query := `SELECT` + thresholdColumns + `
		FROM fraud_thresholds
		WHERE rule_key = ?
		ORDER BY version DESC
	`
	rules, err := r.queryThresholds(ctx, query, ruleKey)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, domain.ErrNotFound
	}
	return rules, nil
}

// InsertThreshold opens a new rule key. The open-row index rejects a key
// that already has an open row.
func (r *SQLRepository) InsertThreshold(ctx context.Context, rule *domain.ThresholdRule) error {
	if rule.RuleKey == "" {
		return fmt.Errorf("%w: rule key is required", domain.ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Version == 0 {
		rule.Version = 1
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.EffectiveFrom.IsZero() {
		rule.EffectiveFrom = now
	}
	rule.EffectiveUntil = nil

	return insertThreshold(ctx, r.db, r.rebind, rule)
}

// SupersedeThreshold closes the open row of ruleKey and inserts its
// successor in one transaction. next receives the current row and returns
// the fields of the new one; identity, version and validity are set here.
func (r *SQLRepository) SupersedeThreshold(ctx context.Context, ruleKey string, next func(current domain.ThresholdRule) domain.ThresholdRule) (*domain.ThresholdRule, error) {
	var created domain.ThresholdRule

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT` + thresholdColumns + `
			FROM fraud_thresholds
			WHERE rule_key = ? AND effective_until IS NULL
		`
		current, err := scanThreshold(tx.QueryRowContext(ctx, r.rebind(query), ruleKey))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, r.rebind(`
			UPDATE fraud_thresholds
			SET effective_until = ?
			WHERE id = ? AND effective_until IS NULL
		`), now, current.ID)
		if err != nil {
			return fmt.Errorf("failed to close threshold %s: %w", ruleKey, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("threshold %s was superseded concurrently", ruleKey)
		}

		created = next(*current)
		created.ID = uuid.New().String()
		created.RuleKey = current.RuleKey
		created.Category = current.Category
		created.Version = current.Version + 1
		created.EffectiveFrom = now
		created.EffectiveUntil = nil
		created.CreatedAt = now

		return insertThreshold(ctx, tx, r.rebind, &created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertThreshold(ctx context.Context, db execer, rebind func(string) string, rule *domain.ThresholdRule) error {
	var floor sql.NullString
	if rule.SeverityFloor != nil {
		floor = sql.NullString{String: string(*rule.SeverityFloor), Valid: true}
	}

	query := `
		INSERT INTO fraud_thresholds (` + thresholdColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, rebind(query),
		rule.ID, rule.RuleKey, rule.DisplayName, string(rule.Category),
		rule.ThresholdValue.String(), rule.Weight, floor,
		boolToInt(rule.IsActive), rule.EffectiveFrom.UTC(), nil, rule.Version,
		rule.CreatedBy, rule.CreatedAt.UTC(), rule.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert threshold %s v%d: %w", rule.RuleKey, rule.Version, err)
	}
	return nil
}

func (r *SQLRepository) queryThresholds(ctx context.Context, query string, args ...any) ([]domain.ThresholdRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.ThresholdRule
	for rows.Next() {
		rule, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThreshold(s scanner) (*domain.ThresholdRule, error) {
	var rule domain.ThresholdRule
	var category, value string
	var floor, notes sql.NullString
	var active int
	var until sql.NullTime

	if err := s.Scan(
		&rule.ID, &rule.RuleKey, &rule.DisplayName, &category, &value, &rule.Weight,
		&floor, &active, &rule.EffectiveFrom, &until, &rule.Version,
		&rule.CreatedBy, &rule.CreatedAt, &notes,
	); err != nil {
		return nil, err
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("threshold %s has invalid value %q: %w", rule.RuleKey, value, err)
	}
	rule.ThresholdValue = v
	rule.Category = domain.Category(category)
	rule.IsActive = active == 1
	rule.Notes = notes.String
	if floor.Valid {
		sev := domain.Severity(floor.String)
		rule.SeverityFloor = &sev
	}
	if until.Valid {
		t := until.Time
		rule.EffectiveUntil = &t
	}
	return &rule, nil
}
