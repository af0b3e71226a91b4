package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups threshold rules and heuristics by risk dimension.
type Category string

const (
	CategoryGPS          Category = "gps"
	CategorySpeed        Category = "speed"
	CategoryStraightline Category = "straightline"
	CategoryDuplicate    Category = "duplicate"
	CategoryTiming       Category = "timing"
	CategoryComposite    Category = "composite"
)

// ScoringCategories lists the categories that produce a component score,
// in the order they are reported.
var ScoringCategories = []Category{
	CategoryGPS,
	CategorySpeed,
	CategoryStraightline,
	CategoryDuplicate,
	CategoryTiming,
}

// categoryMax holds the per-category score ceiling. The values sum to 100.
var categoryMax = map[Category]float64{
	CategoryGPS:          25,
	CategorySpeed:        25,
	CategoryStraightline: 20,
	CategoryDuplicate:    20,
	CategoryTiming:       10,
}

// MaxScore returns the ceiling for a scoring category, or 0 for composite
// and unknown categories.
func (c Category) MaxScore() float64 {
	return categoryMax[c]
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	if c == CategoryComposite {
		return true
	}
	_, ok := categoryMax[c]
	return ok
}

// ThresholdRule is one version of a configurable fraud threshold.
//
// Rows are append-only. Exactly one row per RuleKey is open
// (EffectiveUntil == nil); superseding a value closes that row and opens a
// new one with Version+1.
type ThresholdRule struct {
	ID             string              `json:"id"`
	RuleKey        string              `json:"ruleKey"`
	DisplayName    string              `json:"displayName"`
	Category       Category            `json:"ruleCategory"`
	ThresholdValue decimal.Decimal     `json:"thresholdValue"`
	Weight         decimal.NullDecimal `json:"weight"`
	SeverityFloor  *Severity           `json:"severityFloor,omitempty"`
	IsActive       bool                `json:"isActive"`
	EffectiveFrom  time.Time           `json:"effectiveFrom"`
	EffectiveUntil *time.Time          `json:"effectiveUntil,omitempty"`
	Version        int                 `json:"version"`
	CreatedBy      string              `json:"createdBy"`
	CreatedAt      time.Time           `json:"createdAt"`
	Notes          string              `json:"notes,omitempty"`
}

// Open reports whether the row is the current version of its key.
func (r *ThresholdRule) Open() bool {
	return r.EffectiveUntil == nil
}

// ThresholdSnapshot is the set of open threshold rows read once for an
// evaluation, together with the version identifier derived from it.
type ThresholdSnapshot struct {
	Rules         []ThresholdRule `json:"rules"`
	ConfigVersion int64           `json:"configVersion"`
	LoadedAt      time.Time       `json:"loadedAt"`
}

// NewThresholdSnapshot builds a snapshot from open rows. The config version
// is the sum of the row versions: every supersede adds exactly one, so the
// value grows with each change and depends only on the rows.
func NewThresholdSnapshot(rules []ThresholdRule, loadedAt time.Time) *ThresholdSnapshot {
	var version int64
	for _, r := range rules {
		version += int64(r.Version)
	}
	return &ThresholdSnapshot{
		Rules:         rules,
		ConfigVersion: version,
		LoadedAt:      loadedAt,
	}
}

// Active returns the active rows, restricted to the given categories when
// any are passed.
func (s *ThresholdSnapshot) Active(categories ...Category) []ThresholdRule {
	out := make([]ThresholdRule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if !r.IsActive {
			continue
		}
		if len(categories) > 0 && !containsCategory(categories, r.Category) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Disabled reports whether the category has open rows but none of them is
// active.
func (s *ThresholdSnapshot) Disabled(category Category) bool {
	seen := false
	for _, r := range s.Rules {
		if r.Category != category {
			continue
		}
		if r.IsActive {
			return false
		}
		seen = true
	}
	return seen
}

func containsCategory(list []Category, c Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
