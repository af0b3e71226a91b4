package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/oslsr/kestrel/internal/domain"
)

func floorRule(key string, cat domain.Category, value int64, floor domain.Severity) domain.ThresholdRule {
	return domain.ThresholdRule{
		RuleKey:        key,
		Category:       cat,
		ThresholdValue: decimal.NewFromInt(value),
		SeverityFloor:  &floor,
		IsActive:       true,
	}
}

func TestBand(t *testing.T) {
	cases := []struct {
		total float64
		want  domain.Severity
	}{
		{0, domain.SeverityClean},
		{24.99, domain.SeverityClean},
		{25, domain.SeverityLow},
		{49.99, domain.SeverityLow},
		{50, domain.SeverityMedium},
		{69.99, domain.SeverityMedium},
		{70, domain.SeverityHigh},
		{84.99, domain.SeverityHigh},
		{85, domain.SeverityCritical},
		{100, domain.SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Band(tc.total), "total %v", tc.total)
	}
}

func TestClassify(t *testing.T) {
	t.Run("no floors", func(t *testing.T) {
		c := Classify(55, domain.ComponentScores{}, nil)
		assert.Equal(t, domain.SeverityMedium, c.Severity)
		assert.Equal(t, domain.SeverityMedium, c.Band)
		assert.Empty(t, c.FloorRule)
	})

	t.Run("category floor applies when the category scored", func(t *testing.T) {
		rules := []domain.ThresholdRule{floorRule("gps_weight", domain.CategoryGPS, 25, domain.SeverityHigh)}

		c := Classify(15, domain.ComponentScores{GPS: 15}, rules)
		assert.Equal(t, domain.SeverityHigh, c.Severity)
		assert.Equal(t, domain.SeverityClean, c.Band)
		assert.Equal(t, "gps_weight", c.FloorRule)

		c = Classify(15, domain.ComponentScores{Speed: 15}, rules)
		assert.Equal(t, domain.SeverityClean, c.Severity)
	})

	t.Run("composite floor applies at its threshold", func(t *testing.T) {
		rules := []domain.ThresholdRule{floorRule("review_min", domain.CategoryComposite, 40, domain.SeverityMedium)}

		assert.Equal(t, domain.SeverityLow, Classify(39.99, domain.ComponentScores{}, rules).Severity)
		assert.Equal(t, domain.SeverityMedium, Classify(40, domain.ComponentScores{}, rules).Severity)
	})

	t.Run("floors never lower", func(t *testing.T) {
		rules := []domain.ThresholdRule{floorRule("severity_low_min", domain.CategoryComposite, 25, domain.SeverityLow)}
		c := Classify(90, domain.ComponentScores{}, rules)
		assert.Equal(t, domain.SeverityCritical, c.Severity)
		assert.Empty(t, c.FloorRule)
	})

	t.Run("highest floor wins", func(t *testing.T) {
		rules := []domain.ThresholdRule{
			floorRule("a", domain.CategoryTiming, 0, domain.SeverityMedium),
			floorRule("b", domain.CategoryGPS, 0, domain.SeverityCritical),
			floorRule("c", domain.CategoryDuplicate, 0, domain.SeverityHigh),
		}
		c := Classify(30, domain.ComponentScores{Timing: 10, GPS: 5, Duplicate: 15}, rules)
		assert.Equal(t, domain.SeverityCritical, c.Severity)
		assert.Equal(t, "b", c.FloorRule)
	})

	t.Run("inactive floors are ignored", func(t *testing.T) {
		r := floorRule("gps_weight", domain.CategoryGPS, 25, domain.SeverityHigh)
		r.IsActive = false
		c := Classify(10, domain.ComponentScores{GPS: 10}, []domain.ThresholdRule{r})
		assert.Equal(t, domain.SeverityClean, c.Severity)
	})
}
