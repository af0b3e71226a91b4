// Package worker is the queue boundary of the evaluation pipeline: a
// dispatcher that enqueues one job per submission and a worker that runs
// them with bounded concurrency and retries.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oslsr/kestrel/internal/alerting"
	"github.com/oslsr/kestrel/internal/bus"
	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/metrics"
)

// Evaluator scores a stored submission.
type Evaluator interface {
	Evaluate(ctx context.Context, submissionID string) (*domain.Detection, error)
}

// Worker consumes evaluation jobs from the EventBus.
type Worker struct {
	bus       domain.EventBus
	claims    domain.Cache
	evaluator Evaluator
	policy    *alerting.Policy
	cfg       domain.WorkerConfig
	metrics   *metrics.Metrics
	now       func() time.Time

	sem           chan struct{}
	subscriptions []domain.Subscription
	mu            sync.Mutex
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Failure is published when a job exhausts its attempts.
type Failure struct {
	JobID        string    `json:"jobId"`
	SubmissionID string    `json:"submissionId"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failedAt"`
}

// NewWorker creates a worker. policy and m may be nil.
func NewWorker(eventBus domain.EventBus, claims domain.Cache, evaluator Evaluator, policy *alerting.Policy, cfg domain.WorkerConfig, m *metrics.Metrics) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		claims:    claims,
		evaluator: evaluator,
		policy:    policy,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
		sem:       make(chan struct{}, cfg.Concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to evaluation requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluationRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("evaluation worker started",
		"topic", domain.TopicEvaluationRequested,
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts,
	)
	return nil
}

// handleMessage waits for a free slot and runs the job in the background,
// so the subscription keeps at most Concurrency jobs in flight.
func (w *Worker) handleMessage(_ context.Context, msg *domain.Message) error {
	var job Job
	if err := bus.Decode(msg, &job); err != nil {
		slog.Error("failed to parse evaluation job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if job.ID == "" {
		job.ID = JobID(job.SubmissionID)
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(w.ctx, job)
	}()
	return nil
}

// process evaluates one job with retries and publishes the outcome.
func (w *Worker) process(ctx context.Context, job Job) {
	start := time.Now()
	defer w.release(ctx, job)

	var det *domain.Detection
	attempts := 0
	op := func() error {
		attempts++
		d, err := w.evaluator.Evaluate(ctx, job.SubmissionID)
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		det = d
		return nil
	}

	err := backoff.RetryNotify(op, w.backoff(ctx), func(err error, wait time.Duration) {
		w.metrics.Job(metrics.JobRetried)
		slog.Warn("evaluation attempt failed",
			"job_id", job.ID,
			"submission_id", job.SubmissionID,
			"attempt", attempts,
			"retry_in", wait.String(),
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("evaluation abandoned on shutdown",
				"job_id", job.ID,
				"submission_id", job.SubmissionID,
			)
			return
		}
		w.fail(ctx, job, attempts, err)
		return
	}

	w.metrics.Job(metrics.JobCompleted)
	w.publish(ctx, job, det)

	attrs := []any{
		"job_id", job.ID,
		"submission_id", det.SubmissionID,
		"detection_id", det.ID,
		"severity", det.Severity,
		"total_score", det.TotalScore,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if det.Severity.Rank() >= domain.SeverityHigh.Rank() {
		slog.Warn("high severity detection", attrs...)
		return
	}
	slog.Info("evaluation job completed", attrs...)
}

func (w *Worker) backoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)
}

func (w *Worker) publish(ctx context.Context, job Job, det *domain.Detection) {
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicDetectionComputed, det); err != nil {
		slog.Error("failed to publish detection",
			"job_id", job.ID,
			"detection_id", det.ID,
			"error", err,
		)
	}

	if w.policy == nil {
		return
	}
	matched, err := w.policy.Match(det)
	if err != nil {
		slog.Error("alert policy failed",
			"detection_id", det.ID,
			"expression", w.policy.Expression(),
			"error", err,
		)
		return
	}
	if !matched {
		return
	}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicDetectionAlert, w.policy.NewAlert(det, w.now())); err != nil {
		slog.Error("failed to publish alert",
			"detection_id", det.ID,
			"error", err,
		)
	}
}

func (w *Worker) fail(ctx context.Context, job Job, attempts int, cause error) {
	w.metrics.Job(metrics.JobFailed)
	slog.Error("evaluation job failed",
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
		"attempts", attempts,
		"error", cause,
	)

	failure := Failure{
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		Attempts:     attempts,
		Error:        cause.Error(),
		FailedAt:     w.now().UTC(),
	}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicEvaluationFailed, failure); err != nil {
		slog.Error("failed to publish evaluation failure",
			"job_id", job.ID,
			"error", err,
		)
	}
}

// release frees the job identity so the submission can be queued again.
func (w *Worker) release(ctx context.Context, job Job) {
	if w.claims == nil {
		return
	}
	if err := w.claims.Delete(context.WithoutCancel(ctx), job.ID); err != nil {
		slog.Error("failed to release job claim",
			"job_id", job.ID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight jobs to return.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("evaluation worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
	Concurrency       int      `json:"concurrency"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
		Concurrency:       w.cfg.Concurrency,
	}
}
