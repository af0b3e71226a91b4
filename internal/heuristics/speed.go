package heuristics

import (
	"context"
	"math"
	"sort"

	"github.com/oslsr/kestrel/internal/domain"
)

// SpeedRun flags interviews completed implausibly fast compared with the
// median for the form, or with a theoretical minimum derived from the form
// schema while there is too little history.
type SpeedRun struct{}

// NewSpeedRun creates the speed heuristic.
func NewSpeedRun() *SpeedRun { return &SpeedRun{} }

func (h *SpeedRun) Key() string               { return "speed_run" }
func (h *SpeedRun) Category() domain.Category { return domain.CategorySpeed }

func (h *SpeedRun) Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error) {
	if sc.CompletionTimeSeconds == nil {
		return skipped("no_completion_time"), nil
	}
	completion := float64(*sc.CompletionTimeSeconds)

	superPct := GetThreshold(rules, "speed_superspeeder_pct", 25)
	speederPct := GetThreshold(rules, "speed_speeder_pct", 50)
	bootstrapN := int(GetThreshold(rules, "speed_bootstrap_n", 30))
	weight := GetThreshold(rules, "speed_weight", 25)

	var history []float64
	for _, s := range sc.RecentSubmissions {
		if s.CompletionTimeSeconds == nil || *s.CompletionTimeSeconds <= 0 || s.FormID != sc.FormID {
			continue
		}
		history = append(history, float64(*s.CompletionTimeSeconds))
	}

	var reference float64
	var referenceType string
	if len(history) >= bootstrapN {
		reference = Median(history)
		referenceType = "empirical_median"
	} else {
		reference = TheoreticalMinimum(sc.FormSchema)
		referenceType = "theoretical_minimum"
	}

	if reference <= 0 {
		return Result{Score: 0, Details: map[string]any{
			"reason":        "invalid_reference_time",
			"referenceTime": reference,
			"referenceType": referenceType,
		}}, nil
	}

	ratio := completion / reference
	score := 0.0
	tier := "normal"
	switch {
	case ratio < superPct/100:
		score = weight
		tier = "superspeeder"
	case ratio < speederPct/100:
		score = math.Round(weight * 0.48)
		tier = "speeder"
	}

	return Result{
		Score: score,
		Details: map[string]any{
			"completionTimeSeconds": *sc.CompletionTimeSeconds,
			"referenceTime":         math.Round(reference),
			"referenceType":         referenceType,
			"ratio":                 round2(ratio),
			"tier":                  tier,
			"historicalSampleSize":  len(history),
			"thresholds": map[string]any{
				"superspeederPct": superPct,
				"speederPct":      speederPct,
				"bootstrapN":      bootstrapN,
			},
		},
	}, nil
}

// Median returns the median of values, or 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 != 0 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

var (
	closedTypes  = map[string]bool{"select_one": true, "select_multiple": true, "radio": true, "checkbox": true, "boolean": true, "likert": true}
	openTypes    = map[string]bool{"text": true, "textarea": true, "string": true}
	numericTypes = map[string]bool{"number": true, "integer": true, "decimal": true, "numeric": true}
)

// TheoreticalMinimum estimates the fastest plausible completion time in
// seconds: 3s per closed question, 8s per open question, 4s per numeric
// question, plus 30s overhead. Unknown types count as closed. Without a
// schema it is 60s.
func TheoreticalMinimum(schema map[string]any) float64 {
	if schema == nil {
		return 60
	}

	var closed, open, numeric int
	for _, sec := range parseSections(schema) {
		for _, q := range sec.Questions {
			switch {
			case closedTypes[q.Type]:
				closed++
			case openTypes[q.Type]:
				open++
			case numericTypes[q.Type]:
				numeric++
			default:
				closed++
			}
		}
	}

	minimum := float64(closed*3 + open*8 + numeric*4 + 30)
	return math.Max(minimum, 30)
}
