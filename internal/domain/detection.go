package domain

import (
	"fmt"
	"time"
)

// ComponentScores holds one bounded score per scoring category.
type ComponentScores struct {
	GPS          float64 `json:"gps"`
	Speed        float64 `json:"speed"`
	Straightline float64 `json:"straightline"`
	Duplicate    float64 `json:"duplicate"`
	Timing       float64 `json:"timing"`
}

// Get returns the score for a category.
func (c ComponentScores) Get(cat Category) float64 {
	switch cat {
	case CategoryGPS:
		return c.GPS
	case CategorySpeed:
		return c.Speed
	case CategoryStraightline:
		return c.Straightline
	case CategoryDuplicate:
		return c.Duplicate
	case CategoryTiming:
		return c.Timing
	}
	return 0
}

// Set stores the score for a category. Composite and unknown categories
// are ignored.
func (c *ComponentScores) Set(cat Category, v float64) {
	switch cat {
	case CategoryGPS:
		c.GPS = v
	case CategorySpeed:
		c.Speed = v
	case CategoryStraightline:
		c.Straightline = v
	case CategoryDuplicate:
		c.Duplicate = v
	case CategoryTiming:
		c.Timing = v
	}
}

// Sum adds every component.
func (c ComponentScores) Sum() float64 {
	return c.GPS + c.Speed + c.Straightline + c.Duplicate + c.Timing
}

// Resolution is a reviewer's decision on a detection.
type Resolution string

const (
	ResolutionConfirmedFraud      Resolution = "confirmed_fraud"
	ResolutionFalsePositive       Resolution = "false_positive"
	ResolutionNeedsInvestigation  Resolution = "needs_investigation"
	ResolutionDismissed           Resolution = "dismissed"
	ResolutionEnumeratorWarned    Resolution = "enumerator_warned"
	ResolutionEnumeratorSuspended Resolution = "enumerator_suspended"
)

// Resolutions lists every accepted resolution.
var Resolutions = []Resolution{
	ResolutionConfirmedFraud,
	ResolutionFalsePositive,
	ResolutionNeedsInvestigation,
	ResolutionDismissed,
	ResolutionEnumeratorWarned,
	ResolutionEnumeratorSuspended,
}

// Valid reports whether r is an accepted resolution.
func (r Resolution) Valid() bool {
	for _, v := range Resolutions {
		if v == r {
			return true
		}
	}
	return false
}

// AffectsAccount reports whether the resolution changes the enumerator's
// account status.
func (r Resolution) AffectsAccount() bool {
	return r == ResolutionEnumeratorWarned || r == ResolutionEnumeratorSuspended
}

// ParseResolution validates a resolution string.
func ParseResolution(v string) (Resolution, error) {
	r := Resolution(v)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, v)
	}
	return r, nil
}

// DetectionReview is the one-time human decision attached to a detection.
type DetectionReview struct {
	Resolution      Resolution `json:"resolution"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ReviewedBy      string     `json:"reviewedBy"`
	ReviewedAt      time.Time  `json:"reviewedAt"`
}

// Detection is the immutable outcome of one evaluation of one submission
// under one threshold snapshot.
type Detection struct {
	ID              string                      `json:"id"`
	SubmissionID    string                      `json:"submissionId"`
	EnumeratorID    string                      `json:"enumeratorId"`
	ConfigVersion   int64                       `json:"configVersion"`
	ComponentScores ComponentScores             `json:"componentScores"`
	TotalScore      float64                     `json:"totalScore"`
	Severity        Severity                    `json:"severity"`
	Details         map[Category]map[string]any `json:"details"`
	ComputedAt      time.Time                   `json:"computedAt"`

	Review *DetectionReview `json:"review,omitempty"`
}

// Resolved reports whether a review has been attached.
func (d *Detection) Resolved() bool {
	return d.Review != nil
}

// DetectionFilter narrows a detection listing.
type DetectionFilter struct {
	Severities    []Severity
	Resolution    *Resolution
	Unreviewed    bool
	Reviewed      *bool
	EnumeratorID  string
	EnumeratorIDs []string // caller scope; nil means unrestricted
	DateFrom      *time.Time
	DateTo        *time.Time
	LatestOnly    bool
	Page          int
	PageSize      int
}

// DetectionPage is one page of a detection listing.
type DetectionPage struct {
	Data     []*Detection `json:"data"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}
