package thresholds

import (
	"github.com/shopspring/decimal"

	"github.com/oslsr/kestrel/internal/domain"
)

type seedRule struct {
	key      string
	name     string
	category domain.Category
	value    string
	weight   string
	floor    domain.Severity
	notes    string
}

var defaultRules = []seedRule{
	{"gps_cluster_radius_m", "GPS Cluster Radius (meters)", domain.CategoryGPS, "50", "", "", "Cluster neighbourhood radius. Allows for consumer handset GPS error."},
	{"gps_cluster_min_samples", "GPS Cluster Minimum Samples", domain.CategoryGPS, "3", "", "", "Points needed to form a cluster."},
	{"gps_cluster_time_window_h", "GPS Cluster Time Window (hours)", domain.CategoryGPS, "4", "", "", "Hours of history used for clustering."},
	{"gps_max_accuracy_m", "GPS Maximum Accuracy (meters)", domain.CategoryGPS, "50", "", "", "Readings with a larger reported accuracy are unreliable."},
	{"gps_teleport_speed_kmh", "GPS Teleportation Speed (km/h)", domain.CategoryGPS, "120", "", "", "Fastest plausible travel between consecutive interviews."},
	{"gps_weight", "GPS Heuristic Weight", domain.CategoryGPS, "25", "25", "", "Maximum GPS contribution to the composite score."},

	{"speed_superspeeder_pct", "Superspeeder Threshold (%)", domain.CategorySpeed, "25", "", "", "Below this share of the reference time is implausible."},
	{"speed_speeder_pct", "Speeder Threshold (%)", domain.CategorySpeed, "50", "", "", "Below this share of the reference time is suspicious."},
	{"speed_bootstrap_n", "Speed Bootstrap Minimum Interviews", domain.CategorySpeed, "30", "", "", "History needed before the empirical median replaces the theoretical minimum."},
	{"speed_weight", "Speed Heuristic Weight", domain.CategorySpeed, "25", "25", "", "Maximum speed contribution to the composite score."},

	{"straightline_pir_threshold", "PIR Threshold", domain.CategoryStraightline, "0.8", "", "", "Share of identical answers that flags a battery."},
	{"straightline_min_battery_size", "Minimum Battery Size", domain.CategoryStraightline, "5", "", "", "Rating questions needed to analyse a section."},
	{"straightline_entropy_threshold", "Shannon Entropy Threshold (bits)", domain.CategoryStraightline, "0.5", "", "", "Answer entropy below this is low variety."},
	{"straightline_min_flagged_batteries", "Minimum Flagged Batteries", domain.CategoryStraightline, "2", "", "", "Flagged batteries needed for the full score."},
	{"straightline_weight", "Straight-lining Heuristic Weight", domain.CategoryStraightline, "20", "20", "", "Maximum straight-lining contribution to the composite score."},

	{"duplicate_exact_threshold", "Exact Duplicate Match Ratio", domain.CategoryDuplicate, "1.0", "", "", "Field match ratio treated as an exact copy."},
	{"duplicate_partial_threshold", "Partial Duplicate Match Ratio", domain.CategoryDuplicate, "0.7", "", "", "Field match ratio treated as a partial copy."},
	{"duplicate_lookback_days", "Duplicate Lookback Window (days)", domain.CategoryDuplicate, "7", "", "", "Days of the enumerator's history compared."},
	{"duplicate_weight", "Duplicate Response Heuristic Weight", domain.CategoryDuplicate, "20", "20", "", "Maximum duplicate contribution to the composite score."},

	{"timing_night_start_hour", "Night Window Start Hour", domain.CategoryTiming, "23", "", "", "First night hour, West Africa Time."},
	{"timing_night_end_hour", "Night Window End Hour", domain.CategoryTiming, "5", "", "", "First hour after the night window, West Africa Time."},
	{"timing_weekend_penalty", "Weekend Submission Penalty (points)", domain.CategoryTiming, "5", "", "", "Points added for Saturday and Sunday submissions."},
	{"timing_weight", "Off-Hours Timing Heuristic Weight", domain.CategoryTiming, "10", "10", "", "Maximum timing contribution to the composite score."},

	{"severity_low_min", "Low Severity Minimum Score", domain.CategoryComposite, "25", "", domain.SeverityLow, ""},
	{"severity_medium_min", "Medium Severity Minimum Score", domain.CategoryComposite, "50", "", domain.SeverityMedium, ""},
	{"severity_high_min", "High Severity Minimum Score", domain.CategoryComposite, "70", "", domain.SeverityHigh, ""},
	{"severity_critical_min", "Critical Severity Minimum Score", domain.CategoryComposite, "85", "", domain.SeverityCritical, ""},
}

// DefaultRules returns the version 1 rows seeded into an empty store.
func DefaultRules() []domain.ThresholdRule {
	out := make([]domain.ThresholdRule, 0, len(defaultRules))
	for _, s := range defaultRules {
		r := domain.ThresholdRule{
			RuleKey:        s.key,
			DisplayName:    s.name,
			Category:       s.category,
			ThresholdValue: decimal.RequireFromString(s.value),
			IsActive:       true,
			Version:        1,
			CreatedBy:      "system",
			Notes:          s.notes,
		}
		if s.weight != "" {
			r.Weight = decimal.NewNullDecimal(decimal.RequireFromString(s.weight))
		}
		if s.floor != "" {
			floor := s.floor
			r.SeverityFloor = &floor
		}
		out = append(out, r)
	}
	return out
}
