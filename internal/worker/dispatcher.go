package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oslsr/kestrel/internal/bus"
	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/metrics"
)

const jobPrefix = "fraud-detection:"

// JobID is the stable identity of the evaluation job of a submission.
func JobID(submissionID string) string {
	return jobPrefix + submissionID
}

// Job asks for the evaluation of one submission.
type Job struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	RequestedBy  string    `json:"requestedBy,omitempty"`
	RequestedAt  time.Time `json:"requestedAt"`
}

// Dispatcher enqueues evaluation jobs, collapsing duplicates of a job that
// is still pending.
type Dispatcher struct {
	bus     domain.EventBus
	claims  domain.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. Claims live for ttl unless the
// worker releases them first.
func NewDispatcher(eventBus domain.EventBus, claims domain.Cache, ttl time.Duration, m *metrics.Metrics) *Dispatcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Dispatcher{
		bus:     eventBus,
		claims:  claims,
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
	}
}

// Enqueue publishes job unless the same submission is already queued, in
// which case it returns nil, nil.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) (*Job, error) {
	if job.SubmissionID == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrInvalidInput)
	}
	job.ID = JobID(job.SubmissionID)
	if job.RequestedAt.IsZero() {
		job.RequestedAt = d.now().UTC()
	}

	claimed, err := d.claims.SetNX(ctx, job.ID, []byte(job.RequestedAt.Format(time.RFC3339Nano)), d.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	if !claimed {
		d.metrics.Job(metrics.JobDuplicate)
		slog.Debug("evaluation already queued",
			"job_id", job.ID,
			"submission_id", job.SubmissionID,
		)
		return nil, nil
	}

	if err := bus.PublishJSONWithID(ctx, d.bus, job.ID, domain.TopicEvaluationRequested, job); err != nil {
		if derr := d.claims.Delete(context.WithoutCancel(ctx), job.ID); derr != nil {
			slog.Error("failed to release job claim",
				"job_id", job.ID,
				"error", derr,
			)
		}
		return nil, fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}

	d.metrics.Job(metrics.JobEnqueued)
	slog.Debug("evaluation queued",
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
	)
	return &job, nil
}
