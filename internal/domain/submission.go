package domain

import (
	"time"
)

// Submission is a stored survey submission as captured in the field.
type Submission struct {
	ID                    string         `json:"id"`
	EnumeratorID          string         `json:"enumeratorId"`
	RespondentID          string         `json:"respondentId,omitempty"`
	FormID                string         `json:"questionnaireFormId,omitempty"`
	RawData               map[string]any `json:"rawData,omitempty"`
	GPSLatitude           *float64       `json:"gpsLatitude,omitempty"`
	GPSLongitude          *float64       `json:"gpsLongitude,omitempty"`
	GPSAccuracyM          *float64       `json:"gpsAccuracyM,omitempty"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty"`
	SubmittedAt           time.Time      `json:"submittedAt"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// HasGPS reports whether both coordinates are present.
func (s *Submission) HasGPS() bool {
	return s.GPSLatitude != nil && s.GPSLongitude != nil
}

// Form is a questionnaire definition. Schema holds the raw form document
// (sections/pages containing questions/fields).
type Form struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"formSchema"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RecentSubmission is a prior submission by the same enumerator.
type RecentSubmission struct {
	ID                    string         `json:"id"`
	EnumeratorID          string         `json:"enumeratorId"`
	FormID                string         `json:"questionnaireFormId,omitempty"`
	SubmittedAt           time.Time      `json:"submittedAt"`
	GPSLatitude           *float64       `json:"gpsLatitude,omitempty"`
	GPSLongitude          *float64       `json:"gpsLongitude,omitempty"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty"`
	RawData               map[string]any `json:"rawData,omitempty"`
}

// HasGPS reports whether both coordinates are present.
func (s *RecentSubmission) HasGPS() bool {
	return s.GPSLatitude != nil && s.GPSLongitude != nil
}

// NearbySubmission is a geolocated submission by another enumerator inside
// the GPS time window.
type NearbySubmission struct {
	ID           string    `json:"id"`
	EnumeratorID string    `json:"enumeratorId"`
	SubmittedAt  time.Time `json:"submittedAt"`
	GPSLatitude  float64   `json:"gpsLatitude"`
	GPSLongitude float64   `json:"gpsLongitude"`
}

// SubmissionContext is everything the heuristics need to score one
// submission.
type SubmissionContext struct {
	SubmissionID          string
	EnumeratorID          string
	RespondentID          string
	FormID                string
	SubmittedAt           time.Time
	RawData               map[string]any
	GPSLatitude           *float64
	GPSLongitude          *float64
	GPSAccuracyM          *float64
	CompletionTimeSeconds *int
	FormSchema            map[string]any
	RecentSubmissions     []RecentSubmission
	NearbySubmissions     []NearbySubmission
}

// HasGPS reports whether the submission carries coordinates.
func (c *SubmissionContext) HasGPS() bool {
	return c.GPSLatitude != nil && c.GPSLongitude != nil
}

// ContextWindow bounds the history loaded alongside a submission.
type ContextWindow struct {
	// Recent covers the enumerator's own submissions.
	Recent time.Duration
	// Nearby covers other enumerators' geolocated submissions.
	Nearby time.Duration

	RecentLimit int
	NearbyLimit int
}
