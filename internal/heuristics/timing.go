package heuristics

import (
	"context"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
)

// wat is West Africa Time. It has no daylight saving, so a fixed zone avoids
// depending on the host tz database.
var wat = time.FixedZone("WAT", 60*60)

// OffHours flags submissions made at night or on weekends, West Africa Time.
type OffHours struct {
	now func() time.Time
}

// NewOffHours creates the off-hours heuristic.
func NewOffHours() *OffHours { return &OffHours{now: time.Now} }

func (h *OffHours) Key() string               { return "off_hours" }
func (h *OffHours) Category() domain.Category { return domain.CategoryTiming }

func (h *OffHours) Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error) {
	nightStart := int(GetThreshold(rules, "timing_night_start_hour", 23))
	nightEnd := int(GetThreshold(rules, "timing_night_end_hour", 5))
	weekendPenalty := GetThreshold(rules, "timing_weekend_penalty", 5)
	weight := GetThreshold(rules, "timing_weight", 10)

	at := sc.SubmittedAt
	if at.IsZero() {
		at = h.now()
	}
	local := at.In(wat)
	hour := local.Hour()
	day := local.Weekday()

	night := IsNightHour(hour, nightStart, nightEnd)
	weekend := day == time.Saturday || day == time.Sunday

	score := 0.0
	flags := []string{}
	if night {
		score += weight
		flags = append(flags, "night_hours")
	}
	if weekend {
		score += weekendPenalty
		flags = append(flags, "weekend")
	}
	score = min(score, weight)

	return Result{
		Score: round2(score),
		Details: map[string]any{
			"watHour":   hour,
			"watDay":    day.String(),
			"isNight":   night,
			"isWeekend": weekend,
			"flags":     flags,
			"thresholds": map[string]any{
				"nightStartHour": nightStart,
				"nightEndHour":   nightEnd,
				"weekendPenalty": weekendPenalty,
			},
		},
	}, nil
}

// IsNightHour reports whether hour falls in [start, end). The window wraps
// past midnight when start > end.
func IsNightHour(hour, start, end int) bool {
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}
