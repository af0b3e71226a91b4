package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvaluation("high", 20*time.Millisecond)
	m.ObserveEvaluation("high", 10*time.Millisecond)
	m.ObserveEvaluation("clean", time.Millisecond)
	m.HeuristicError("gps_clustering")
	m.Job(JobEnqueued)
	m.Job(JobDuplicate)
	m.Job(JobDuplicate)
	m.Reviewed("dismissed", 3)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	m.ObserveHTTP("GET", "/health", 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("clean")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heuristicErrors.WithLabelValues("gps_clustering")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues(JobDuplicate)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reviews.WithLabelValues("dismissed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/health", "5xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.evaluationDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation("low", time.Second)
		m.HeuristicError("x")
		m.Job(JobFailed)
		m.Reviewed("dismissed", 1)
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(500))
}

func TestRegisterGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	inFlight := 0
	RegisterGauge(reg, "kestrel_test_in_flight", "test gauge", func() float64 { return float64(inFlight) })

	inFlight = 3
	n, err := testutil.GatherAndCount(reg, "kestrel_test_in_flight")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	families, err := reg.Gather()
	assert.NoError(t, err)
	if assert.Len(t, families, 1) {
		assert.Equal(t, 3.0, families[0].GetMetric()[0].GetGauge().GetValue())
	}
}
