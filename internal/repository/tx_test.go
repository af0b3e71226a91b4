package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslsr/kestrel/internal/domain"
)

func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, "sqlite"), mock
}

func TestSupersedeThresholdRollsBackOnInsertFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	cols := []string{
		"id", "rule_key", "display_name", "rule_category", "threshold_value", "weight",
		"severity_floor", "is_active", "effective_from", "effective_until", "version",
		"created_by", "created_at", "notes",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM fraud_thresholds`).
		WithArgs("gps_weight").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"t1", "gps_weight", "GPS weight", "gps", "25", "25",
			nil, 1, now, nil, 3,
			"system", now, nil,
		))
	mock.ExpectExec(`UPDATE fraud_thresholds`).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO fraud_thresholds`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.SupersedeThreshold(context.Background(), "gps_weight", func(cur domain.ThresholdRule) domain.ThresholdRule {
		return cur
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gps_weight v4")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupersedeThresholdDetectsConcurrentClose(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM fraud_thresholds`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rule_key", "display_name", "rule_category", "threshold_value", "weight",
			"severity_floor", "is_active", "effective_from", "effective_until", "version",
			"created_by", "created_at", "notes",
		}).AddRow("t1", "gps_weight", "GPS weight", "gps", "25", nil, nil, 1, now, nil, 1, "system", now, nil))
	mock.ExpectExec(`UPDATE fraud_thresholds`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.SupersedeThreshold(context.Background(), "gps_weight", func(cur domain.ThresholdRule) domain.ThresholdRule {
		return cur
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "superseded concurrently")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDetectionsRollsBackOnPartialMatch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE fraud_detections`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	err := repo.ResolveDetections(context.Background(), []string{"a", "b", "c"}, domain.DetectionReview{
		Resolution: domain.ResolutionDismissed,
		ReviewedBy: "assessor-1",
		ReviewedAt: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDetectionsCommits(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE fraud_detections`).
		WithArgs("false_positive", nil, "assessor-1", sqlmock.AnyArg(), "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.ResolveDetections(context.Background(), []string{"a", "b"}, domain.DetectionReview{
		Resolution: domain.ResolutionFalsePositive,
		ReviewedBy: "assessor-1",
		ReviewedAt: time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
