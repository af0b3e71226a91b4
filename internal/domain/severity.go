package domain

import "fmt"

// Severity is the discrete risk band of a detection.
type Severity string

const (
	SeverityClean    Severity = "clean"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every band from lowest to highest.
var Severities = []Severity{
	SeverityClean,
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// Rank orders severities; unknown values rank below clean.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the defined bands.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Action is the downstream response associated with the band.
func (s Severity) Action() string {
	switch s {
	case SeverityClean:
		return "auto_accept"
	case SeverityLow:
		return "weekly_review"
	case SeverityMedium:
		return "next_day_callback"
	case SeverityHigh:
		return "notify_and_hold_payment"
	case SeverityCritical:
		return "quarantine_and_block"
	default:
		return ""
	}
}

// ParseSeverity validates a severity string.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, v)
	}
	return s, nil
}
