package heuristics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/geo"
)

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// GPSClustering flags submissions that sit inside a dense spatial cluster of
// the enumerator's recent points, jump implausibly far between consecutive
// submissions, share coordinates with another enumerator, or carry a poor
// accuracy fix.
type GPSClustering struct {
	dist geo.DistanceFunc
}

// NewGPSClustering creates the GPS heuristic.
func NewGPSClustering(dist geo.DistanceFunc) *GPSClustering {
	return &GPSClustering{dist: dist}
}

func (h *GPSClustering) Key() string               { return "gps_clustering" }
func (h *GPSClustering) Category() domain.Category { return domain.CategoryGPS }

// ClusterMember is another submission in the cluster containing the current
// point.
type ClusterMember struct {
	SubmissionID string    `json:"submissionId"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// Teleportation is a pair of consecutive submissions too far apart for the
// time between them.
type Teleportation struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	SpeedKmh   float64   `json:"speedKmh"`
	DistanceKm float64   `json:"distanceKm"`
}

// DuplicateCoord is another enumerator's submission at nearly the same spot.
type DuplicateCoord struct {
	EnumeratorID   string  `json:"enumeratorId"`
	SubmissionID   string  `json:"submissionId"`
	DistanceMeters float64 `json:"distanceMeters"`
}

type gpsPoint struct {
	id  string
	lat float64
	lon float64
	at  time.Time
}

func (h *GPSClustering) Evaluate(ctx context.Context, sc *domain.SubmissionContext, rules []domain.ThresholdRule) (Result, error) {
	if !sc.HasGPS() {
		return skipped("no_gps_data"), nil
	}

	radius := GetThreshold(rules, "gps_cluster_radius_m", 50)
	minSamples := int(GetThreshold(rules, "gps_cluster_min_samples", 3))
	teleportKmh := GetThreshold(rules, "gps_teleport_speed_kmh", 120)
	dupThreshold := GetThreshold(rules, "gps_duplicate_coord_threshold_m", 5)
	maxAccuracy := GetThreshold(rules, "gps_max_accuracy_m", 50)
	weight := GetThreshold(rules, "gps_weight", 25)

	current := gpsPoint{id: sc.SubmissionID, lat: *sc.GPSLatitude, lon: *sc.GPSLongitude, at: sc.SubmittedAt}

	// The current point is always last.
	points := make([]gpsPoint, 0, len(sc.RecentSubmissions)+1)
	for _, s := range sc.RecentSubmissions {
		if !s.HasGPS() {
			continue
		}
		points = append(points, gpsPoint{id: s.ID, lat: *s.GPSLatitude, lon: *s.GPSLongitude, at: s.SubmittedAt})
	}
	points = append(points, current)

	score := 0.0
	flags := []string{}

	clusterCount := 0
	inCluster := false
	members := []ClusterMember{}

	if len(points) >= minSamples {
		labels := h.dbscan(points, radius, minSamples)
		unique := map[int]struct{}{}
		for _, l := range labels {
			if l >= 0 {
				unique[l] = struct{}{}
			}
		}
		clusterCount = len(unique)

		own := labels[len(labels)-1]
		inCluster = own >= 0
		if inCluster {
			score += weight * 0.6
			flags = append(flags, "in_spatial_cluster")
			for i, l := range labels[:len(labels)-1] {
				if l == own {
					p := points[i]
					members = append(members, ClusterMember{SubmissionID: p.id, Lat: p.lat, Lng: p.lon, SubmittedAt: p.at})
				}
			}
		}
	}

	teleportations := h.teleportations(points, teleportKmh)
	if len(teleportations) > 0 {
		score += weight * 0.2
		flags = append(flags, "teleportation_detected")
	}

	duplicates := h.duplicateCoords(sc, current, dupThreshold)
	if len(duplicates) > 0 {
		score += weight * 0.2
		flags = append(flags, "duplicate_coordinates")
	}

	if sc.GPSAccuracyM != nil && *sc.GPSAccuracyM > maxAccuracy {
		score += weight * 0.2
		flags = append(flags, "low_gps_accuracy")
	}

	score = round2(math.Min(score, weight))

	return Result{
		Score: score,
		Details: map[string]any{
			"clusterCount":    clusterCount,
			"inCluster":       inCluster,
			"clusterMembers":  members,
			"teleportations":  teleportations,
			"duplicateCoords": duplicates,
			"flags":           flags,
			"gpsPointCount":   len(points),
			"thresholds": map[string]any{
				"clusterRadiusM":       radius,
				"clusterMinSamples":    minSamples,
				"teleportSpeedKmh":     teleportKmh,
				"duplicateCoordMeters": dupThreshold,
				"maxAccuracyM":         maxAccuracy,
			},
		},
	}, nil
}

// dbscan labels each point with a cluster index, or labelNoise. A point is
// a core point when it has at least minSamples-1 neighbours within eps
// meters (the point itself counts towards minSamples).
func (h *GPSClustering) dbscan(points []gpsPoint, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnvisited
	}

	regionQuery := func(idx int) []int {
		var neighbors []int
		p := points[idx]
		for i := 0; i < n; i++ {
			if i == idx {
				continue
			}
			if h.dist(p.lat, p.lon, points[i].lat, points[i].lon) <= eps {
				neighbors = append(neighbors, i)
			}
		}
		return neighbors
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbors := regionQuery(i)
		if len(neighbors) < minSamples-1 {
			labels[i] = labelNoise
			continue
		}

		labels[i] = cluster
		seeds := append([]int(nil), neighbors...)
		inSeeds := make(map[int]bool, len(seeds))
		for _, s := range seeds {
			inSeeds[s] = true
		}

		for j := 0; j < len(seeds); j++ {
			q := seeds[j]
			if labels[q] == labelNoise {
				// border point
				labels[q] = cluster
			}
			if labels[q] != labelUnvisited {
				continue
			}

			labels[q] = cluster
			qNeighbors := regionQuery(q)
			if len(qNeighbors) >= minSamples-1 {
				for _, nb := range qNeighbors {
					if !inSeeds[nb] {
						seeds = append(seeds, nb)
						inSeeds[nb] = true
					}
				}
			}
		}
		cluster++
	}

	return labels
}

func (h *GPSClustering) teleportations(points []gpsPoint, limitKmh float64) []Teleportation {
	sorted := append([]gpsPoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].at.Before(sorted[j].at) })

	out := []Teleportation{}
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		hours := curr.at.Sub(prev.at).Hours()
		if hours <= 0 {
			continue
		}
		meters := h.dist(prev.lat, prev.lon, curr.lat, curr.lon)
		kmh := (meters / 1000) / hours
		if kmh > limitKmh {
			out = append(out, Teleportation{
				From:       prev.at,
				To:         curr.at,
				SpeedKmh:   round1(kmh),
				DistanceKm: round1(meters / 1000),
			})
		}
	}
	return out
}

func (h *GPSClustering) duplicateCoords(sc *domain.SubmissionContext, current gpsPoint, limitMeters float64) []DuplicateCoord {
	out := []DuplicateCoord{}
	for _, s := range sc.NearbySubmissions {
		if s.EnumeratorID == sc.EnumeratorID {
			continue
		}
		d := h.dist(current.lat, current.lon, s.GPSLatitude, s.GPSLongitude)
		if d < limitMeters {
			out = append(out, DuplicateCoord{
				EnumeratorID:   s.EnumeratorID,
				SubmissionID:   s.ID,
				DistanceMeters: round1(d),
			})
		}
	}
	return out
}
