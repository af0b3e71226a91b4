package heuristics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/geo"
)

// minPathSpanMeters is the shortest first-to-last span for the linear path
// signal; shorter tracks are indistinguishable from standing still.
const minPathSpanMeters = 100.0

var scaleTypes = map[string]bool{"select_one": true, "likert": true, "radio": true}

// StraightLining flags two fabrication signatures: identical answers across
// rating batteries, and recent submission locations lying on one straight
// line.
type StraightLining struct {
	dist geo.DistanceFunc
}

// NewStraightLining creates the straight-lining heuristic.
func NewStraightLining(dist geo.DistanceFunc) *StraightLining {
	return &StraightLining{dist: dist}
}

func (h *StraightLining) Key() string               { return "straight_lining" }
func (h *StraightLining) Category() domain.Category { return domain.CategoryStraightline }

// Battery is a group of rating questions in one form section.
type Battery struct {
	SectionID     string
	QuestionNames []string
}

// BatteryResult holds the answer-pattern statistics of one battery.
type BatteryResult struct {
	SectionID     string  `json:"sectionId"`
	QuestionCount int     `json:"questionCount"`
	PIR           float64 `json:"pir"`
	LIS           int     `json:"lis"`
	Entropy       float64 `json:"entropy"`
	Flagged       bool    `json:"flagged"`
}

func (h *StraightLining) Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error) {
	pirThreshold := GetThreshold(rules, "straightline_pir_threshold", 0.8)
	minBattery := int(GetThreshold(rules, "straightline_min_battery_size", 5))
	entropyThreshold := GetThreshold(rules, "straightline_entropy_threshold", 0.5)
	minFlagged := int(GetThreshold(rules, "straightline_min_flagged_batteries", 2))
	tolerance := GetThreshold(rules, "straightline_path_tolerance_m", 15)
	minPathPoints := int(GetThreshold(rules, "straightline_path_min_points", 4))
	weight := GetThreshold(rules, "straightline_weight", 20)

	batteries := IdentifyBatteries(sc.FormSchema, minBattery)
	path, pathOK := h.linearPath(sc, minPathPoints, tolerance)

	if len(batteries) == 0 && !pathOK {
		return Result{Score: 0, Details: map[string]any{
			"reason":       "no_batteries_found",
			"batteryCount": 0,
		}}, nil
	}

	results := []BatteryResult{}
	flagged := 0
	for _, b := range batteries {
		var responses []string
		for _, name := range b.QuestionNames {
			v, ok := sc.RawData[name]
			if !ok || v == nil {
				continue
			}
			s := fmt.Sprint(v)
			if s == "" {
				continue
			}
			responses = append(responses, s)
		}
		if len(responses) < minBattery {
			continue
		}

		pir := PIR(responses)
		r := BatteryResult{
			SectionID:     b.SectionID,
			QuestionCount: len(responses),
			PIR:           round2(pir),
			LIS:           LIS(responses),
			Entropy:       ShannonEntropy(responses),
			Flagged:       pir >= pirThreshold,
		}
		if r.Flagged {
			flagged++
		}
		results = append(results, r)
	}

	score := 0.0
	flags := []string{}

	switch {
	case flagged >= minFlagged:
		score = weight
		flags = append(flags, "multi_battery_straight_lining")
	case flagged == 1:
		score = weight * 0.5
		flags = append(flags, "single_battery_straight_lining")
	}

	maxLIS := 0
	minEntropy := math.Inf(1)
	for _, r := range results {
		if r.LIS > maxLIS {
			maxLIS = r.LIS
		}
		if r.Entropy < minEntropy {
			minEntropy = r.Entropy
		}
	}

	if maxLIS >= 8 && score < weight {
		score = math.Min(score+weight*0.25, weight)
		flags = append(flags, "long_identical_string")
	}
	if minEntropy < entropyThreshold && score < weight {
		score = math.Min(score+weight*0.25, weight)
		flags = append(flags, "low_entropy")
	}
	if path.Linear && score < weight {
		score = math.Min(score+weight*0.25, weight)
		flags = append(flags, "linear_path")
	}

	score = round2(math.Min(score, weight))

	var minEntropyOut any
	if !math.IsInf(minEntropy, 1) {
		minEntropyOut = minEntropy
	}

	return Result{
		Score: score,
		Details: map[string]any{
			"batteryCount":      len(batteries),
			"analyzedBatteries": len(results),
			"flaggedBatteries":  flagged,
			"maxLIS":            maxLIS,
			"minEntropy":        minEntropyOut,
			"batteryResults":    results,
			"path":              path,
			"flags":             flags,
			"thresholds": map[string]any{
				"pirThreshold":        pirThreshold,
				"minBatterySize":      minBattery,
				"entropyThreshold":    entropyThreshold,
				"minFlaggedBatteries": minFlagged,
				"pathToleranceM":      tolerance,
				"pathMinPoints":       minPathPoints,
			},
		},
	}, nil
}

// PathResult describes the linear movement analysis.
type PathResult struct {
	PointCount    int     `json:"pointCount"`
	SpanMeters    float64 `json:"spanMeters"`
	MaxDeviationM float64 `json:"maxDeviationM"`
	Linear        bool    `json:"linear"`
}

// linearPath checks whether the current point and the enumerator's recent
// points, in time order, all lie within tolerance meters of the line through
// the first and last of them. ok is false when there are too few points.
func (h *StraightLining) linearPath(sc *domain.SubmissionContext, minPoints int, tolerance float64) (PathResult, bool) {
	type stamped struct {
		p  geo.Point
		at time.Time
	}

	var pts []stamped
	for _, s := range sc.RecentSubmissions {
		if s.HasGPS() {
			pts = append(pts, stamped{geo.Point{Lat: *s.GPSLatitude, Lon: *s.GPSLongitude}, s.SubmittedAt})
		}
	}
	if sc.HasGPS() {
		pts = append(pts, stamped{geo.Point{Lat: *sc.GPSLatitude, Lon: *sc.GPSLongitude}, sc.SubmittedAt})
	}

	res := PathResult{PointCount: len(pts)}
	if len(pts) < minPoints || minPoints < 3 {
		return res, false
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	first, last := pts[0].p, pts[len(pts)-1].p

	res.SpanMeters = round1(h.dist(first.Lat, first.Lon, last.Lat, last.Lon))
	maxDev := 0.0
	for _, s := range pts[1 : len(pts)-1] {
		if d := geo.CrossTrackDistance(s.p, first, last); d > maxDev {
			maxDev = d
		}
	}
	res.MaxDeviationM = round1(maxDev)
	res.Linear = res.SpanMeters >= minPathSpanMeters && maxDev <= tolerance
	return res, true
}

// IdentifyBatteries returns the sections holding at least minSize rating
// questions (select_one, likert or radio).
func IdentifyBatteries(schema map[string]any, minSize int) []Battery {
	var out []Battery
	for _, sec := range parseSections(schema) {
		var names []string
		for _, q := range sec.Questions {
			if scaleTypes[q.Type] {
				names = append(names, q.Name)
			}
		}
		if len(names) >= minSize {
			out = append(out, Battery{SectionID: sec.ID, QuestionNames: names})
		}
	}
	return out
}

// PIR is the share of responses equal to the most frequent response.
func PIR(responses []string) float64 {
	if len(responses) == 0 {
		return 0
	}
	freq := map[string]int{}
	maxCount := 0
	for _, r := range responses {
		freq[r]++
		if freq[r] > maxCount {
			maxCount = freq[r]
		}
	}
	return float64(maxCount) / float64(len(responses))
}

// LIS is the longest run of consecutive identical responses.
func LIS(responses []string) int {
	if len(responses) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(responses); i++ {
		if responses[i] == responses[i-1] {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 1
		}
	}
	return longest
}

// ShannonEntropy returns the entropy of the responses in bits, rounded to
// two decimals.
func ShannonEntropy(responses []string) float64 {
	if len(responses) == 0 {
		return 0
	}
	freq := map[string]int{}
	for _, r := range responses {
		freq[r]++
	}
	n := float64(len(responses))
	entropy := 0.0
	for _, c := range freq {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return round2(entropy)
}
