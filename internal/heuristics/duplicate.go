package heuristics

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/oslsr/kestrel/internal/domain"
)

// maxReportedMatches bounds the matches kept in the details.
const maxReportedMatches = 5

// DuplicateResponse flags submissions whose answers repeat one of the
// enumerator's recent submissions.
type DuplicateResponse struct{}

// NewDuplicateResponse creates the duplicate heuristic.
func NewDuplicateResponse() *DuplicateResponse { return &DuplicateResponse{} }

func (h *DuplicateResponse) Key() string               { return "duplicate_response" }
func (h *DuplicateResponse) Category() domain.Category { return domain.CategoryDuplicate }

// Match is one compared submission and its field match ratio.
type Match struct {
	SubmissionID string  `json:"submissionId"`
	Ratio        float64 `json:"ratio"`
}

func (h *DuplicateResponse) Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error) {
	if sc.RawData == nil || len(sc.RecentSubmissions) == 0 {
		return skipped("no_data_or_history"), nil
	}

	exact := GetThreshold(rules, "duplicate_exact_threshold", 1.0)
	partial := GetThreshold(rules, "duplicate_partial_threshold", 0.7)
	weight := GetThreshold(rules, "duplicate_weight", 20)

	var matches []Match
	compared := 0
	bestID, bestRatio := "", 0.0
	for _, s := range sc.RecentSubmissions {
		if s.RawData == nil {
			continue
		}
		compared++
		ratio := FieldMatchRatio(sc.RawData, s.RawData)
		if ratio > bestRatio || bestID == "" {
			bestID, bestRatio = s.ID, ratio
		}
		if ratio >= partial {
			matches = append(matches, Match{SubmissionID: s.ID, Ratio: round2(ratio)})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Ratio > matches[j].Ratio })

	score := 0.0
	matchType := "none"
	switch {
	case compared > 0 && bestRatio >= exact:
		score = weight
		matchType = "exact"
	case compared > 0 && bestRatio >= partial:
		score = weight * 0.5
		matchType = "partial"
	}

	if len(matches) > maxReportedMatches {
		matches = matches[:maxReportedMatches]
	}
	if matches == nil {
		matches = []Match{}
	}

	details := map[string]any{
		"matchType":     matchType,
		"matches":       matches,
		"totalCompared": compared,
		"thresholds": map[string]any{
			"exactThreshold":   exact,
			"partialThreshold": partial,
		},
	}
	if bestID != "" {
		details["bestMatchId"] = bestID
		details["bestMatchRatio"] = round2(bestRatio)
	}

	return Result{Score: round2(score), Details: details}, nil
}

// FieldMatchRatio returns matching fields over the union of field keys,
// ignoring keys that start with an underscore. Two empty maps give 0.
func FieldMatchRatio(a, b map[string]any) float64 {
	keys := map[string]struct{}{}
	for k := range a {
		if !strings.HasPrefix(k, "_") {
			keys[k] = struct{}{}
		}
	}
	for k := range b {
		if !strings.HasPrefix(k, "_") {
			keys[k] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return 0
	}

	matching := 0
	for k := range keys {
		va, okA := a[k]
		vb, okB := b[k]
		if okA && okB && sameValue(va, vb) {
			matching++
		}
	}
	return float64(matching) / float64(len(keys))
}

// sameValue compares two decoded JSON values by their canonical encoding.
func sameValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}
