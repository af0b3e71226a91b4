// Package engine orchestrates one fraud evaluation: it reads the threshold
// snapshot, loads the submission context, runs every heuristic, classifies
// the composite score and persists the detection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/heuristics"
	"github.com/oslsr/kestrel/internal/metrics"
)

var tracer = otel.Tracer("kestrel-engine")

const (
	recentLimit = 100
	nearbyLimit = 200
)

// Store is the persistence the engine needs.
type Store interface {
	LoadSubmissionContext(ctx context.Context, id string, window domain.ContextWindow) (*domain.SubmissionContext, error)
	SaveDetection(ctx context.Context, det *domain.Detection) error
	GetDetectionByKey(ctx context.Context, submissionID string, configVersion int64) (*domain.Detection, error)
}

// Snapshotter supplies the threshold snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*domain.ThresholdSnapshot, error)
}

// Engine is the fraud evaluation orchestrator.
type Engine struct {
	store      Store
	thresholds Snapshotter
	registry   heuristics.Registry
	maxWorkers int
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an engine. m may be nil.
func New(store Store, thresholds Snapshotter, registry heuristics.Registry, cfg domain.EngineConfig, m *metrics.Metrics) *Engine {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	return &Engine{
		store:      store,
		thresholds: thresholds,
		registry:   registry,
		maxWorkers: maxWorkers,
		metrics:    m,
		logger:     slog.Default().With("component", "engine"),
		now:        time.Now,
	}
}

// Evaluate scores a stored submission and persists the detection. If a
// detection already exists for the submission under the current config
// version, that detection is returned unchanged.
func (e *Engine) Evaluate(ctx context.Context, submissionID string) (*domain.Detection, error) {
	ctx, span := tracer.Start(ctx, "engine.Evaluate",
		trace.WithAttributes(attribute.String("submission.id", submissionID)),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("evaluation started",
		"event", "fraud.engine.evaluate_start",
		"submission_id", submissionID,
	)

	det, fresh, err := e.evaluate(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("detection.severity", string(det.Severity)),
		attribute.Float64("detection.total_score", det.TotalScore),
		attribute.Int64("detection.config_version", det.ConfigVersion),
		attribute.Bool("detection.reused", !fresh),
	)

	if !fresh {
		e.logger.Info("evaluation already recorded",
			"submission_id", submissionID,
			"config_version", det.ConfigVersion,
			"detection_id", det.ID,
		)
		return det, nil
	}

	elapsed := time.Since(start)
	e.metrics.ObserveEvaluation(string(det.Severity), elapsed)
	e.logger.Info("evaluation complete",
		"event", "fraud.engine.evaluate_complete",
		"submission_id", submissionID,
		"detection_id", det.ID,
		"total_score", det.TotalScore,
		"severity", det.Severity,
		"config_version", det.ConfigVersion,
		"duration_ms", elapsed.Milliseconds(),
	)
	return det, nil
}

// evaluate reports fresh=false when the detection was already stored.
func (e *Engine) evaluate(ctx context.Context, submissionID string) (*domain.Detection, bool, error) {
	snap, err := e.thresholds.Snapshot(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load threshold snapshot: %w", err)
	}

	sc, err := e.store.LoadSubmissionContext(ctx, submissionID, Window(snap))
	if err != nil {
		return nil, false, err
	}

	det := e.Score(ctx, sc, snap)

	err = e.store.SaveDetection(ctx, det)
	if errors.Is(err, domain.ErrDuplicateDetection) {
		existing, err := e.store.GetDetectionByKey(ctx, submissionID, snap.ConfigVersion)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load recorded detection: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to persist detection: %w", err)
	}
	return det, true, nil
}

// Window derives the history bounds from the snapshot: the enumerator's own
// submissions cover the longer of the GPS window and the duplicate lookback,
// other enumerators' submissions cover the GPS window.
func Window(snap *domain.ThresholdSnapshot) domain.ContextWindow {
	rules := snap.Active()
	gpsWindow := time.Duration(heuristics.GetThreshold(rules, "gps_cluster_time_window_h", 4) * float64(time.Hour))
	lookback := time.Duration(heuristics.GetThreshold(rules, "duplicate_lookback_days", 7) * float64(24*time.Hour))

	return domain.ContextWindow{
		Recent:      max(gpsWindow, lookback),
		Nearby:      gpsWindow,
		RecentLimit: recentLimit,
		NearbyLimit: nearbyLimit,
	}
}

// Score runs every heuristic against sc and builds an unsaved detection.
// Heuristics run concurrently, at most maxWorkers at a time.
func (e *Engine) Score(ctx context.Context, sc *domain.SubmissionContext, snap *domain.ThresholdSnapshot) *domain.Detection {
	results := make([]heuristics.Result, len(e.registry))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, h := range e.registry {
		wg.Add(1)
		go func(idx int, h heuristics.Heuristic) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.run(ctx, h, sc, snap)
		}(i, h)
	}

	wg.Wait()

	var scores domain.ComponentScores
	details := map[domain.Category]map[string]any{}
	for i, h := range e.registry {
		cat := h.Category()
		scores.Set(cat, clamp(scores.Get(cat)+results[i].Score, cat.MaxScore()))
		details[cat] = results[i].Details
	}

	total := round2(clamp(scores.Sum(), 100))
	class := Classify(total, scores, snap.Active())

	composite := map[string]any{
		"band":   class.Band,
		"action": class.Severity.Action(),
	}
	if class.FloorRule != "" {
		composite["floorRule"] = class.FloorRule
	}
	details[domain.CategoryComposite] = composite

	return &domain.Detection{
		ID:              uuid.New().String(),
		SubmissionID:    sc.SubmissionID,
		EnumeratorID:    sc.EnumeratorID,
		ConfigVersion:   snap.ConfigVersion,
		ComponentScores: scores,
		TotalScore:      total,
		Severity:        class.Severity,
		Details:         details,
		ComputedAt:      e.now().UTC(),
	}
}

// run evaluates one heuristic. Errors and panics become a zero score.
func (e *Engine) run(ctx context.Context, h heuristics.Heuristic, sc *domain.SubmissionContext, snap *domain.ThresholdSnapshot) (res heuristics.Result) {
	cat := h.Category()
	if snap.Disabled(cat) {
		return heuristics.Result{Score: 0, Details: map[string]any{"reason": "heuristic_disabled"}}
	}

	defer func() {
		if r := recover(); r != nil {
			res = e.failed(h, sc, fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := h.Evaluate(ctx, sc, snap.Active(cat))
	if err != nil {
		return e.failed(h, sc, err)
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	return res
}

func (e *Engine) failed(h heuristics.Heuristic, sc *domain.SubmissionContext, err error) heuristics.Result {
	e.metrics.HeuristicError(h.Key())
	e.logger.Error("heuristic failed",
		"event", "fraud.engine.heuristic_error",
		"heuristic", h.Key(),
		"submission_id", sc.SubmissionID,
		"error", err,
	)
	return heuristics.Result{Score: 0, Details: map[string]any{
		"reason": "heuristic_error",
		"error":  err.Error(),
	}}
}

// clamp bounds v to [0, limit]; NaN counts as 0.
func clamp(v, limit float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, limit)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
