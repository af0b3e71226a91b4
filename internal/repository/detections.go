package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oslsr/kestrel/internal/domain"
)

const detectionColumns = `
	d.id, d.submission_id, d.enumerator_id, d.config_version,
	d.gps_score, d.speed_score, d.straightline_score, d.duplicate_score, d.timing_score,
	d.total_score, d.severity, d.details, d.computed_at,
	d.resolution, d.resolution_notes, d.reviewed_by, d.reviewed_at`

const maxClusterCandidates = 500

// SaveDetection inserts a detection. A second detection for the same
// submission and config version is rejected with ErrDuplicateDetection.
func (r *SQLRepository) SaveDetection(ctx context.Context, det *domain.Detection) error {
	if det.SubmissionID == "" {
		return fmt.Errorf("%w: submission id is required", domain.ErrInvalidInput)
	}
	if det.ID == "" {
		det.ID = uuid.New().String()
	}

	details, err := json.Marshal(det.Details)
	if err != nil {
		return fmt.Errorf("failed to encode detection details: %w", err)
	}

	query := `
		INSERT INTO fraud_detections (
			id, submission_id, enumerator_id, config_version,
			gps_score, speed_score, straightline_score, duplicate_score, timing_score,
			total_score, severity, details, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id, config_version) DO NOTHING
	`

	c := det.ComponentScores
	res, err := r.db.ExecContext(ctx, r.rebind(query),
		det.ID, det.SubmissionID, det.EnumeratorID, det.ConfigVersion,
		c.GPS, c.Speed, c.Straightline, c.Duplicate, c.Timing,
		det.TotalScore, string(det.Severity), string(details), det.ComputedAt.UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: submission %s config version %d", domain.ErrDuplicateDetection, det.SubmissionID, det.ConfigVersion)
	}
	return nil
}

// GetDetection retrieves a detection by ID.
func (r *SQLRepository) GetDetection(ctx context.Context, id string) (*domain.Detection, error) {
	query := `SELECT` + detectionColumns + ` FROM fraud_detections d WHERE d.id = ?`
	return r.getDetection(ctx, query, id)
}

// GetDetectionByKey retrieves the detection of a submission under one
// config version.
func (r *SQLRepository) GetDetectionByKey(ctx context.Context, submissionID string, configVersion int64) (*domain.Detection, error) {
	query := `SELECT` + detectionColumns + `
		FROM fraud_detections d
		WHERE d.submission_id = ? AND d.config_version = ?
	`
	return r.getDetection(ctx, query, submissionID, configVersion)
}

func (r *SQLRepository) getDetection(ctx context.Context, query string, args ...any) (*domain.Detection, error) {
	det, err := scanDetection(r.db.QueryRowContext(ctx, r.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return det, nil
}

// GetDetections returns the detections with the given IDs. Unknown IDs are
// absent from the result.
func (r *SQLRepository) GetDetections(ctx context.Context, ids []string) ([]*domain.Detection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT` + detectionColumns + `
		FROM fraud_detections d
		WHERE d.id IN (` + placeholders(len(ids)) + `)
	`
	return r.queryDetections(ctx, query, stringArgs(ids)...)
}

// ListDetections returns one page of detections matching filter, newest
// first, and the total number of matches.
func (r *SQLRepository) ListDetections(ctx context.Context, filter domain.DetectionFilter) ([]*domain.Detection, int, error) {
	if filter.EnumeratorIDs != nil && len(filter.EnumeratorIDs) == 0 {
		return []*domain.Detection{}, 0, nil
	}

	where, args := detectionWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM fraud_detections d` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count detections: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := `SELECT` + detectionColumns + `
		FROM fraud_detections d` + where + `
		ORDER BY d.computed_at DESC, d.id
		LIMIT ? OFFSET ?
	`
	args = append(args, pageSize, (page-1)*pageSize)

	dets, err := r.queryDetections(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if dets == nil {
		dets = []*domain.Detection{}
	}
	return dets, total, nil
}

func detectionWhere(f domain.DetectionFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Severities) > 0 {
		clauses = append(clauses, "d.severity IN ("+placeholders(len(f.Severities))+")")
		for _, s := range f.Severities {
			args = append(args, string(s))
		}
	}
	switch {
	case f.Unreviewed:
		clauses = append(clauses, "d.resolution IS NULL")
	case f.Resolution != nil:
		clauses = append(clauses, "d.resolution = ?")
		args = append(args, string(*f.Resolution))
	}
	if f.Reviewed != nil {
		if *f.Reviewed {
			clauses = append(clauses, "d.reviewed_at IS NOT NULL")
		} else {
			clauses = append(clauses, "d.reviewed_at IS NULL")
		}
	}
	if f.EnumeratorID != "" {
		clauses = append(clauses, "d.enumerator_id = ?")
		args = append(args, f.EnumeratorID)
	}
	if f.EnumeratorIDs != nil {
		clauses = append(clauses, "d.enumerator_id IN ("+placeholders(len(f.EnumeratorIDs))+")")
		args = append(args, stringArgs(f.EnumeratorIDs)...)
	}
	if f.DateFrom != nil {
		clauses = append(clauses, "d.computed_at >= ?")
		args = append(args, f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		clauses = append(clauses, "d.computed_at <= ?")
		args = append(args, f.DateTo.UTC())
	}
	if f.LatestOnly {
		clauses = append(clauses, `d.config_version = (
			SELECT MAX(d2.config_version) FROM fraud_detections d2
			WHERE d2.submission_id = d.submission_id)`)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(clauses, "\n\t\t  AND "), args
}

// ListClusterCandidates returns unreviewed detections with a GPS score.
func (r *SQLRepository) ListClusterCandidates(ctx context.Context, enumeratorIDs []string) ([]*domain.Detection, error) {
	if enumeratorIDs != nil && len(enumeratorIDs) == 0 {
		return nil, nil
	}

	query := `SELECT` + detectionColumns + `
		FROM fraud_detections d
		WHERE d.resolution IS NULL
		  AND d.gps_score > 0`
	var args []any
	if enumeratorIDs != nil {
		query += `
		  AND d.enumerator_id IN (` + placeholders(len(enumeratorIDs)) + `)`
		args = stringArgs(enumeratorIDs)
	}
	query += `
		ORDER BY d.computed_at DESC
		LIMIT ?`
	args = append(args, maxClusterCandidates)

	return r.queryDetections(ctx, query, args...)
}

// ResolveDetections attaches review to every id in one transaction. If any
// id is unknown or already resolved, nothing is written and
// ErrAlreadyResolved is returned.
func (r *SQLRepository) ResolveDetections(ctx context.Context, ids []string, review domain.DetectionReview) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no detections to resolve", domain.ErrInvalidInput)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE fraud_detections
			SET resolution = ?, resolution_notes = ?, reviewed_by = ?, reviewed_at = ?
			WHERE resolution IS NULL
			  AND id IN (` + placeholders(len(ids)) + `)
		`
		args := []any{string(review.Resolution), nullString(review.ResolutionNotes), review.ReviewedBy, review.ReviewedAt.UTC()}
		args = append(args, stringArgs(ids)...)

		res, err := tx.ExecContext(ctx, r.rebind(query), args...)
		if err != nil {
			return fmt.Errorf("failed to resolve detections: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			return fmt.Errorf("%w: %d of %d detections were open", domain.ErrAlreadyResolved, n, len(ids))
		}
		return nil
	})
}

func (r *SQLRepository) queryDetections(ctx context.Context, query string, args ...any) ([]*domain.Detection, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dets []*domain.Detection
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		dets = append(dets, det)
	}
	return dets, rows.Err()
}

func scanDetection(s scanner) (*domain.Detection, error) {
	var det domain.Detection
	var severity, details string
	var resolution, notes, reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	c := &det.ComponentScores

	if err := s.Scan(
		&det.ID, &det.SubmissionID, &det.EnumeratorID, &det.ConfigVersion,
		&c.GPS, &c.Speed, &c.Straightline, &c.Duplicate, &c.Timing,
		&det.TotalScore, &severity, &details, &det.ComputedAt,
		&resolution, &notes, &reviewedBy, &reviewedAt,
	); err != nil {
		return nil, err
	}

	det.Severity = domain.Severity(severity)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &det.Details); err != nil {
			return nil, fmt.Errorf("detection %s has invalid details: %w", det.ID, err)
		}
	}
	if resolution.Valid {
		det.Review = &domain.DetectionReview{
			Resolution:      domain.Resolution(resolution.String),
			ResolutionNotes: notes.String,
			ReviewedBy:      reviewedBy.String,
			ReviewedAt:      reviewedAt.Time,
		}
	}
	return &det, nil
}
