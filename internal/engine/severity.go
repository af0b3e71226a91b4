package engine

import (
	"github.com/oslsr/kestrel/internal/domain"
)

// Band returns the fixed severity band of a composite score.
func Band(total float64) domain.Severity {
	switch {
	case total >= 85:
		return domain.SeverityCritical
	case total >= 70:
		return domain.SeverityHigh
	case total >= 50:
		return domain.SeverityMedium
	case total >= 25:
		return domain.SeverityLow
	default:
		return domain.SeverityClean
	}
}

// Classification is the outcome of severity classification.
type Classification struct {
	Severity domain.Severity
	Band     domain.Severity
	// FloorRule is the key of the floor that raised the band, if any.
	FloorRule string
}

// Classify bands total and raises the result to the highest applicable
// severity floor. A composite floor applies when total reaches its
// threshold value; a floor on another category applies when that
// category scored above zero. Floors never lower the band.
func Classify(total float64, scores domain.ComponentScores, rules []domain.ThresholdRule) Classification {
	band := Band(total)
	out := Classification{Severity: band, Band: band}

	for _, r := range rules {
		if !r.IsActive || r.SeverityFloor == nil || !r.SeverityFloor.Valid() {
			continue
		}

		var applies bool
		if r.Category == domain.CategoryComposite {
			applies = total >= r.ThresholdValue.InexactFloat64()
		} else {
			applies = scores.Get(r.Category) > 0
		}
		if !applies {
			continue
		}

		if r.SeverityFloor.Rank() > out.Severity.Rank() {
			out.Severity = *r.SeverityFloor
			out.FloorRule = r.RuleKey
		}
	}
	return out
}
