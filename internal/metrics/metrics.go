// Package metrics holds the Prometheus collectors for Kestrel.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	heuristicErrors    *prometheus.CounterVec
	jobs               *prometheus.CounterVec
	reviews            *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_evaluations_total",
				Help: "Fraud evaluations by resulting severity",
			},
			[]string{"severity"},
		),
		evaluationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kestrel_evaluation_duration_seconds",
				Help:    "Time to evaluate one submission",
				Buckets: prometheus.DefBuckets,
			},
		),
		heuristicErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_heuristic_errors_total",
				Help: "Heuristic failures recovered during evaluation",
			},
			[]string{"heuristic"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_evaluation_jobs_total",
				Help: "Evaluation queue jobs by outcome",
			},
			[]string{"outcome"},
		),
		reviews: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_detection_reviews_total",
				Help: "Detections resolved by resolution",
			},
			[]string{"resolution"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveEvaluation records a completed evaluation.
func (m *Metrics) ObserveEvaluation(severity string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(severity).Inc()
	m.evaluationDuration.Observe(d.Seconds())
}

// HeuristicError records a recovered heuristic failure.
func (m *Metrics) HeuristicError(key string) {
	if m == nil {
		return
	}
	m.heuristicErrors.WithLabelValues(key).Inc()
}

// Job outcomes.
const (
	JobEnqueued  = "enqueued"
	JobDuplicate = "duplicate"
	JobCompleted = "completed"
	JobRetried   = "retried"
	JobFailed    = "failed"
)

// Job records a queue job outcome.
func (m *Metrics) Job(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// Reviewed records n detections resolved with resolution.
func (m *Metrics) Reviewed(resolution string, n int) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(resolution).Add(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// RegisterGauge exposes fn as a gauge sampled at scrape time.
func RegisterGauge(reg prometheus.Registerer, name, help string, fn func() float64) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}
