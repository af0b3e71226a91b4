package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslsr/kestrel/internal/domain"
)

func detection(sev domain.Severity, total float64, scores domain.ComponentScores) *domain.Detection {
	return &domain.Detection{
		ID:              "d1",
		SubmissionID:    "s1",
		EnumeratorID:    "e1",
		ConfigVersion:   27,
		ComponentScores: scores,
		TotalScore:      total,
		Severity:        sev,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p, err := Compile("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAlertExpression, p.Expression())

	cases := map[domain.Severity]bool{
		domain.SeverityClean:    false,
		domain.SeverityLow:      false,
		domain.SeverityMedium:   false,
		domain.SeverityHigh:     true,
		domain.SeverityCritical: true,
	}
	for sev, want := range cases {
		got, err := p.Match(detection(sev, 50, domain.ComponentScores{}))
		require.NoError(t, err)
		assert.Equal(t, want, got, string(sev))
	}
}

func TestCustomPolicy(t *testing.T) {
	p, err := Compile(`scores["gps"] >= 20.0 && total_score > 30.0 && config_version > 0`)
	require.NoError(t, err)

	ok, err := p.Match(detection(domain.SeverityLow, 45, domain.ComponentScores{GPS: 25, Timing: 20}))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Match(detection(domain.SeverityLow, 45, domain.ComponentScores{GPS: 10, Speed: 35}))
	require.NoError(t, err)
	assert.False(t, ok)

	p, err = Compile(`enumerator_id == "e1" && submission_id.startsWith("s")`)
	require.NoError(t, err)
	ok, err = p.Match(detection(domain.SeverityClean, 0, domain.ComponentScores{}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(`severity ==`)
	assert.ErrorContains(t, err, "failed to compile alert expression")

	_, err = Compile(`total_score * 2.0`)
	assert.ErrorContains(t, err, "must return bool")

	_, err = Compile(`unknown_var > 1`)
	assert.Error(t, err)
}

func TestNewAlert(t *testing.T) {
	p, err := Compile("")
	require.NoError(t, err)

	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.FixedZone("WAT", 3600))
	a := p.NewAlert(detection(domain.SeverityCritical, 91, domain.ComponentScores{}), at)

	assert.Equal(t, "quarantine_and_block", a.Action)
	assert.Equal(t, "d1", a.DetectionID)
	assert.EqualValues(t, 27, a.ConfigVersion)
	assert.Equal(t, time.UTC, a.RaisedAt.Location())
	assert.Equal(t, domain.DefaultAlertExpression, a.Expression)
}
