// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	ThresholdStore
	SubmissionStore
	DetectionStore
	TeamStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ThresholdStore persists versioned threshold rules.
type ThresholdStore interface {
	// ListOpenThresholds returns the open row of every rule key, active or not.
	ListOpenThresholds(ctx context.Context) ([]ThresholdRule, error)
	GetOpenThreshold(ctx context.Context, ruleKey string) (*ThresholdRule, error)
	ListThresholdHistory(ctx context.Context, ruleKey string) ([]ThresholdRule, error)

	// InsertThreshold opens a new rule key at version 1.
	InsertThreshold(ctx context.Context, rule *ThresholdRule) error

	// SupersedeThreshold closes the open row of ruleKey and inserts the row
	// built by next at version+1, in one transaction.
	SupersedeThreshold(ctx context.Context, ruleKey string, next func(current ThresholdRule) ThresholdRule) (*ThresholdRule, error)
}

// SubmissionStore persists submissions and forms and loads evaluation
// context.
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	SaveForm(ctx context.Context, form *Form) error
	GetForm(ctx context.Context, id string) (*Form, error)

	// LoadSubmissionContext returns ErrSubmissionNotFound when id is unknown.
	LoadSubmissionContext(ctx context.Context, id string, window ContextWindow) (*SubmissionContext, error)
}

// DetectionStore persists detections and their reviews.
type DetectionStore interface {
	// SaveDetection inserts a detection. It returns ErrDuplicateDetection
	// when one already exists for the same submission and config version.
	SaveDetection(ctx context.Context, det *Detection) error
	GetDetection(ctx context.Context, id string) (*Detection, error)
	GetDetectionByKey(ctx context.Context, submissionID string, configVersion int64) (*Detection, error)
	GetDetections(ctx context.Context, ids []string) ([]*Detection, error)
	ListDetections(ctx context.Context, filter DetectionFilter) ([]*Detection, int, error)

	// ListClusterCandidates returns unreviewed detections with a positive
	// GPS score, optionally restricted to some enumerators.
	ListClusterCandidates(ctx context.Context, enumeratorIDs []string) ([]*Detection, error)

	// ResolveDetections attaches the same review to every id or to none.
	ResolveDetections(ctx context.Context, ids []string, review DetectionReview) error
}

// TeamStore persists supervisor to enumerator assignments.
type TeamStore interface {
	TeamScope
	AssignEnumerator(ctx context.Context, supervisorID, enumeratorID string) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
