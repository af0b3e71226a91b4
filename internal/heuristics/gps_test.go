package heuristics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/geo"
)

func TestGPSClustering(t *testing.T) {
	h := NewGPSClustering(geo.Haversine)
	ctx := context.Background()

	t.Run("no gps", func(t *testing.T) {
		res, err := h.Evaluate(ctx, &domain.SubmissionContext{SubmissionID: "s"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Score)
		assert.Equal(t, "no_gps_data", res.Details["reason"])
	})

	t.Run("current point inside a cluster", func(t *testing.T) {
		sc := &domain.SubmissionContext{
			SubmissionID: "s",
			EnumeratorID: "e",
			SubmittedAt:  base,
			GPSLatitude:  f64(6.5),
			GPSLongitude: f64(3.3),
			RecentSubmissions: []domain.RecentSubmission{
				{ID: "r1", SubmittedAt: base.Add(-10 * time.Minute), GPSLatitude: f64(6.5001), GPSLongitude: f64(3.3)},
				{ID: "r2", SubmittedAt: base.Add(-20 * time.Minute), GPSLatitude: f64(6.5), GPSLongitude: f64(3.3001)},
				{ID: "r3", SubmittedAt: base.Add(-30 * time.Minute), GPSLatitude: f64(6.4999), GPSLongitude: f64(3.3)},
			},
		}
		res, err := h.Evaluate(ctx, sc, nil)
		require.NoError(t, err)

		assert.Equal(t, 15.0, res.Score)
		assert.Equal(t, true, res.Details["inCluster"])
		assert.Equal(t, 1, res.Details["clusterCount"])
		assert.Equal(t, []string{"in_spatial_cluster"}, res.Details["flags"])
		members := res.Details["clusterMembers"].([]ClusterMember)
		assert.Len(t, members, 3)
	})

	t.Run("too few points never cluster", func(t *testing.T) {
		sc := &domain.SubmissionContext{
			SubmissionID: "s",
			SubmittedAt:  base,
			GPSLatitude:  f64(6.5),
			GPSLongitude: f64(3.3),
			RecentSubmissions: []domain.RecentSubmission{
				{ID: "r1", SubmittedAt: base.Add(-10 * time.Minute), GPSLatitude: f64(6.5), GPSLongitude: f64(3.3)},
			},
		}
		res, err := h.Evaluate(ctx, sc, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Score)
		assert.Equal(t, false, res.Details["inCluster"])
	})

	t.Run("teleportation", func(t *testing.T) {
		sc := &domain.SubmissionContext{
			SubmissionID: "s",
			SubmittedAt:  base,
			GPSLatitude:  f64(8.5),
			GPSLongitude: f64(3.3),
			RecentSubmissions: []domain.RecentSubmission{
				{ID: "r1", SubmittedAt: base.Add(-time.Hour), GPSLatitude: f64(6.5), GPSLongitude: f64(3.3)},
			},
		}
		res, err := h.Evaluate(ctx, sc, nil)
		require.NoError(t, err)

		assert.Equal(t, 5.0, res.Score)
		assert.Equal(t, []string{"teleportation_detected"}, res.Details["flags"])
		tp := res.Details["teleportations"].([]Teleportation)
		require.Len(t, tp, 1)
		assert.InDelta(t, 222.4, tp[0].DistanceKm, 0.2)
		assert.InDelta(t, 222.4, tp[0].SpeedKmh, 0.2)
	})

	t.Run("duplicate coordinates and low accuracy", func(t *testing.T) {
		sc := &domain.SubmissionContext{
			SubmissionID: "s",
			EnumeratorID: "e",
			SubmittedAt:  base,
			GPSLatitude:  f64(6.5),
			GPSLongitude: f64(3.3),
			GPSAccuracyM: f64(120),
			NearbySubmissions: []domain.NearbySubmission{
				{ID: "n1", EnumeratorID: "other", SubmittedAt: base.Add(-time.Minute), GPSLatitude: 6.5, GPSLongitude: 3.3},
				{ID: "n2", EnumeratorID: "e", SubmittedAt: base.Add(-time.Minute), GPSLatitude: 6.5, GPSLongitude: 3.3},
				{ID: "n3", EnumeratorID: "far", SubmittedAt: base.Add(-time.Minute), GPSLatitude: 6.6, GPSLongitude: 3.3},
			},
		}
		res, err := h.Evaluate(ctx, sc, nil)
		require.NoError(t, err)

		assert.Equal(t, 10.0, res.Score)
		assert.Equal(t, []string{"duplicate_coordinates", "low_gps_accuracy"}, res.Details["flags"])
		dups := res.Details["duplicateCoords"].([]DuplicateCoord)
		require.Len(t, dups, 1)
		assert.Equal(t, "n1", dups[0].SubmissionID)
	})

	t.Run("score is capped at the weight", func(t *testing.T) {
		sc := &domain.SubmissionContext{
			SubmissionID: "s",
			EnumeratorID: "e",
			SubmittedAt:  base,
			GPSLatitude:  f64(6.5),
			GPSLongitude: f64(3.3),
			GPSAccuracyM: f64(500),
			RecentSubmissions: []domain.RecentSubmission{
				{ID: "r1", SubmittedAt: base.Add(-10 * time.Minute), GPSLatitude: f64(6.5), GPSLongitude: f64(3.3)},
				{ID: "r2", SubmittedAt: base.Add(-20 * time.Minute), GPSLatitude: f64(6.5), GPSLongitude: f64(3.3)},
				{ID: "r3", SubmittedAt: base.Add(-30 * time.Second), GPSLatitude: f64(7.5), GPSLongitude: f64(3.3)},
			},
			NearbySubmissions: []domain.NearbySubmission{
				{ID: "n1", EnumeratorID: "other", GPSLatitude: 6.5, GPSLongitude: 3.3},
			},
		}
		rules := []domain.ThresholdRule{rule(domain.CategoryGPS, "gps_weight", 20)}
		res, err := h.Evaluate(ctx, sc, rules)
		require.NoError(t, err)
		assert.Equal(t, 20.0, res.Score)
	})
}
