// Package heuristics provides the fraud scoring heuristics and their
// registry.
//
// Each heuristic scores one risk category of a submission from its context
// and the active threshold rules of that category. Heuristics are pure:
// the same context and rules always produce the same result, so they can run
// concurrently within an evaluation.
package heuristics

import (
	"context"
	"math"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/geo"
)

// Heuristic scores one category of fraud risk.
type Heuristic interface {
	// Key uniquely identifies the heuristic.
	Key() string

	// Category is the risk category the score contributes to.
	Category() domain.Category

	// Evaluate scores the submission. Missing or insufficient data yields a
	// zero score with a reason in the details rather than an error.
	Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error)
}

// Result is a heuristic's score and diagnostics.
type Result struct {
	Score   float64        `json:"score"`
	Details map[string]any `json:"details"`
}

// Registry is the ordered set of heuristics run for every evaluation.
type Registry []Heuristic

// Default returns the built-in heuristics using dist for coordinate
// distances. A nil dist falls back to geo.Haversine.
func Default(dist geo.DistanceFunc) Registry {
	if dist == nil {
		dist = geo.Haversine
	}
	return Registry{
		NewGPSClustering(dist),
		NewSpeedRun(),
		NewStraightLining(dist),
		NewDuplicateResponse(),
		NewOffHours(),
	}
}

// Lookup returns the heuristic registered under key.
func (r Registry) Lookup(key string) (Heuristic, bool) {
	for _, h := range r {
		if h.Key() == key {
			return h, true
		}
	}
	return nil, false
}

// GetThreshold returns the value of the active rule with the given key, or
// def when no such rule exists.
func GetThreshold(rules []domain.ThresholdRule, key string, def float64) float64 {
	for _, r := range rules {
		if r.RuleKey == key && r.IsActive {
			return r.ThresholdValue.InexactFloat64()
		}
	}
	return def
}

func skipped(reason string) Result {
	return Result{Score: 0, Details: map[string]any{"reason": reason}}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
