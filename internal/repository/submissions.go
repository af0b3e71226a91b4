package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
)

const (
	defaultRecentLimit = 100
	defaultNearbyLimit = 200
)

// SaveSubmission stores a submission. Re-sending a stored ID is a no-op.
func (r *SQLRepository) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" || sub.EnumeratorID == "" {
		return fmt.Errorf("%w: submission id and enumerator id are required", domain.ErrInvalidInput)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	rawData, err := marshalNullable(sub.RawData)
	if err != nil {
		return fmt.Errorf("failed to encode raw data: %w", err)
	}

	query := `
		INSERT INTO submissions (
			id, enumerator_id, respondent_id, questionnaire_form_id, raw_data,
			gps_latitude, gps_longitude, gps_accuracy_m, completion_time_seconds,
			submitted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		sub.ID, sub.EnumeratorID, nullString(sub.RespondentID), nullString(sub.FormID), rawData,
		nullFloat(sub.GPSLatitude), nullFloat(sub.GPSLongitude), nullFloat(sub.GPSAccuracyM), nullInt(sub.CompletionTimeSeconds),
		sub.SubmittedAt.UTC(), sub.CreatedAt.UTC(),
	)
	return err
}

// GetSubmission retrieves a submission by ID.
func (r *SQLRepository) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	query := `
		SELECT id, enumerator_id, respondent_id, questionnaire_form_id, raw_data,
			   gps_latitude, gps_longitude, gps_accuracy_m, completion_time_seconds,
			   submitted_at, created_at
		FROM submissions
		WHERE id = ?
	`

	var sub domain.Submission
	var respondent, form, rawData sql.NullString
	var lat, lon, acc sql.NullFloat64
	var completion sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&sub.ID, &sub.EnumeratorID, &respondent, &form, &rawData,
		&lat, &lon, &acc, &completion,
		&sub.SubmittedAt, &sub.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.RespondentID = respondent.String
	sub.FormID = form.String
	sub.GPSLatitude = floatPtr(lat)
	sub.GPSLongitude = floatPtr(lon)
	sub.GPSAccuracyM = floatPtr(acc)
	sub.CompletionTimeSeconds = intPtr(completion)
	if sub.RawData, err = unmarshalMap(rawData); err != nil {
		return nil, fmt.Errorf("submission %s has invalid raw data: %w", id, err)
	}

	return &sub, nil
}

// SaveForm stores or replaces a form definition.
func (r *SQLRepository) SaveForm(ctx context.Context, form *domain.Form) error {
	if form.ID == "" {
		return fmt.Errorf("%w: form id is required", domain.ErrInvalidInput)
	}
	if form.CreatedAt.IsZero() {
		form.CreatedAt = time.Now().UTC()
	}

	schema, err := json.Marshal(form.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode form schema: %w", err)
	}

	query := `
		INSERT INTO forms (id, name, form_schema, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			form_schema = excluded.form_schema
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), form.ID, form.Name, string(schema), form.CreatedAt.UTC())
	return err
}

// GetForm retrieves a form by ID.
func (r *SQLRepository) GetForm(ctx context.Context, id string) (*domain.Form, error) {
	query := `SELECT id, name, form_schema, created_at FROM forms WHERE id = ?`

	var form domain.Form
	var schema sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&form.ID, &form.Name, &schema, &form.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if form.Schema, err = unmarshalMap(schema); err != nil {
		return nil, fmt.Errorf("form %s has invalid schema: %w", id, err)
	}
	return &form, nil
}

// LoadSubmissionContext assembles the submission, its form schema, the
// enumerator's earlier submissions and other enumerators' geolocated
// submissions. Windows are measured back from the submission's own
// timestamp so re-evaluation sees the same history.
func (r *SQLRepository) LoadSubmissionContext(ctx context.Context, id string, window domain.ContextWindow) (*domain.SubmissionContext, error) {
	sub, err := r.GetSubmission(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubmissionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission %s: %w", id, err)
	}

	sc := &domain.SubmissionContext{
		SubmissionID:          sub.ID,
		EnumeratorID:          sub.EnumeratorID,
		RespondentID:          sub.RespondentID,
		FormID:                sub.FormID,
		SubmittedAt:           sub.SubmittedAt,
		RawData:               sub.RawData,
		GPSLatitude:           sub.GPSLatitude,
		GPSLongitude:          sub.GPSLongitude,
		GPSAccuracyM:          sub.GPSAccuracyM,
		CompletionTimeSeconds: sub.CompletionTimeSeconds,
	}

	if sub.FormID != "" {
		form, err := r.GetForm(ctx, sub.FormID)
		switch {
		case err == nil:
			sc.FormSchema = form.Schema
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("failed to load form %s: %w", sub.FormID, err)
		}
	}

	if sc.RecentSubmissions, err = r.recentSubmissions(ctx, sub, window); err != nil {
		return nil, fmt.Errorf("failed to load recent submissions: %w", err)
	}
	if sc.NearbySubmissions, err = r.nearbySubmissions(ctx, sub, window); err != nil {
		return nil, fmt.Errorf("failed to load nearby submissions: %w", err)
	}

	return sc, nil
}

func (r *SQLRepository) recentSubmissions(ctx context.Context, sub *domain.Submission, window domain.ContextWindow) ([]domain.RecentSubmission, error) {
	limit := window.RecentLimit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	at := sub.SubmittedAt.UTC()

	query := `
		SELECT id, enumerator_id, questionnaire_form_id, submitted_at,
			   gps_latitude, gps_longitude, completion_time_seconds, raw_data
		FROM submissions
		WHERE enumerator_id = ?
		  AND id <> ?
		  AND submitted_at >= ?
		  AND submitted_at <= ?
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sub.EnumeratorID, sub.ID, at.Add(-window.Recent), at, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecentSubmission
	for rows.Next() {
		var s domain.RecentSubmission
		var form, rawData sql.NullString
		var lat, lon sql.NullFloat64
		var completion sql.NullInt64

		if err := rows.Scan(&s.ID, &s.EnumeratorID, &form, &s.SubmittedAt, &lat, &lon, &completion, &rawData); err != nil {
			return nil, err
		}
		s.FormID = form.String
		s.GPSLatitude = floatPtr(lat)
		s.GPSLongitude = floatPtr(lon)
		s.CompletionTimeSeconds = intPtr(completion)
		if s.RawData, err = unmarshalMap(rawData); err != nil {
			return nil, fmt.Errorf("submission %s has invalid raw data: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLRepository) nearbySubmissions(ctx context.Context, sub *domain.Submission, window domain.ContextWindow) ([]domain.NearbySubmission, error) {
	if !sub.HasGPS() {
		return nil, nil
	}
	limit := window.NearbyLimit
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	at := sub.SubmittedAt.UTC()

	query := `
		SELECT id, enumerator_id, submitted_at, gps_latitude, gps_longitude
		FROM submissions
		WHERE enumerator_id <> ?
		  AND gps_latitude IS NOT NULL
		  AND gps_longitude IS NOT NULL
		  AND submitted_at >= ?
		  AND submitted_at <= ?
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sub.EnumeratorID, at.Add(-window.Nearby), at, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NearbySubmission
	for rows.Next() {
		var s domain.NearbySubmission
		if err := rows.Scan(&s.ID, &s.EnumeratorID, &s.SubmittedAt, &s.GPSLatitude, &s.GPSLongitude); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func marshalNullable(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
