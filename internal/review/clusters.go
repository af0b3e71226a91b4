package review

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/geo"
	"github.com/oslsr/kestrel/internal/heuristics"
)

// Cluster is a group of detections whose GPS clusters share submissions.
type Cluster struct {
	DetectionIDs   []string        `json:"detectionIds"`
	DetectionCount int             `json:"detectionCount"`
	TotalScoreAvg  float64         `json:"totalScoreAvg"`
	Center         *geo.Point      `json:"center,omitempty"`
	RadiusMeters   float64         `json:"radiusMeters"`
	EnumeratorIDs  []string        `json:"enumeratorIds"`
	Members        []ClusterMember `json:"members"`
	TimeRange      *TimeRange      `json:"timeRange,omitempty"`
}

// ClusterMember is one detection in a cluster. Coordinates are known when
// another detection in the group recorded the submission as a member.
type ClusterMember struct {
	DetectionID  string          `json:"detectionId"`
	SubmissionID string          `json:"submissionId"`
	EnumeratorID string          `json:"enumeratorId"`
	TotalScore   float64         `json:"totalScore"`
	Severity     domain.Severity `json:"severity"`
	GPSLatitude  *float64        `json:"gpsLatitude,omitempty"`
	GPSLongitude *float64        `json:"gpsLongitude,omitempty"`
	SubmittedAt  *time.Time      `json:"submittedAt,omitempty"`
}

// TimeRange spans the submissions of a cluster.
type TimeRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// BuildClusters links detections that share a submission, either their own
// or one listed in their GPS cluster members, and returns the groups of two
// or more, largest first. dist defaults to geo.Haversine.
func BuildClusters(dets []*domain.Detection, dist geo.DistanceFunc) []Cluster {
	if dist == nil {
		dist = geo.Haversine
	}

	parent := make([]int, len(dets))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	owner := map[string]int{}
	points := map[string]heuristics.ClusterMember{}
	subsOf := make([][]string, len(dets))

	for i, d := range dets {
		subs := []string{d.SubmissionID}
		for _, m := range clusterMembers(d) {
			points[m.SubmissionID] = m
			subs = append(subs, m.SubmissionID)
		}
		subsOf[i] = subs
		for _, sid := range subs {
			if j, ok := owner[sid]; ok {
				union(j, i)
			} else {
				owner[sid] = i
			}
		}
	}

	groups := map[int][]int{}
	var roots []int
	for i := range dets {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	clusters := []Cluster{}
	for _, r := range roots {
		idx := groups[r]
		if len(idx) < 2 {
			continue
		}
		clusters = append(clusters, buildCluster(dets, idx, subsOf, points, dist))
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].DetectionCount > clusters[j].DetectionCount
	})
	return clusters
}

func buildCluster(dets []*domain.Detection, idx []int, subsOf [][]string, points map[string]heuristics.ClusterMember, dist geo.DistanceFunc) Cluster {
	c := Cluster{DetectionCount: len(idx)}

	var scoreSum float64
	enumerators := map[string]bool{}
	for _, i := range idx {
		d := dets[i]
		c.DetectionIDs = append(c.DetectionIDs, d.ID)
		scoreSum += d.TotalScore
		enumerators[d.EnumeratorID] = true

		m := ClusterMember{
			DetectionID:  d.ID,
			SubmissionID: d.SubmissionID,
			EnumeratorID: d.EnumeratorID,
			TotalScore:   d.TotalScore,
			Severity:     d.Severity,
		}
		if p, ok := points[d.SubmissionID]; ok {
			lat, lng, at := p.Lat, p.Lng, p.SubmittedAt
			m.GPSLatitude, m.GPSLongitude, m.SubmittedAt = &lat, &lng, &at
		}
		c.Members = append(c.Members, m)
	}
	c.TotalScoreAvg = math.Round(scoreSum/float64(len(idx))*100) / 100

	for e := range enumerators {
		c.EnumeratorIDs = append(c.EnumeratorIDs, e)
	}
	sort.Strings(c.EnumeratorIDs)

	seen := map[string]bool{}
	var pts []geo.Point
	var tr *TimeRange
	for _, i := range idx {
		for _, sid := range subsOf[i] {
			p, ok := points[sid]
			if !ok || seen[sid] {
				continue
			}
			seen[sid] = true
			pts = append(pts, geo.Point{Lat: p.Lat, Lon: p.Lng})

			if p.SubmittedAt.IsZero() {
				continue
			}
			if tr == nil {
				tr = &TimeRange{Earliest: p.SubmittedAt, Latest: p.SubmittedAt}
			}
			if p.SubmittedAt.Before(tr.Earliest) {
				tr.Earliest = p.SubmittedAt
			}
			if p.SubmittedAt.After(tr.Latest) {
				tr.Latest = p.SubmittedAt
			}
		}
	}
	c.TimeRange = tr

	if len(pts) > 0 {
		center := geo.Centroid(pts)
		c.Center = &center
		radius := 0.0
		for _, p := range pts {
			radius = math.Max(radius, dist(center.Lat, center.Lon, p.Lat, p.Lon))
		}
		c.RadiusMeters = math.Round(radius*10) / 10
	}
	return c
}

// clusterMembers decodes the GPS cluster members of a detection. Details
// read back from storage hold generic JSON values, so they are normalised
// through an encode and decode.
func clusterMembers(d *domain.Detection) []heuristics.ClusterMember {
	gps := d.Details[domain.CategoryGPS]
	if gps == nil {
		return nil
	}
	raw, ok := gps["clusterMembers"]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var members []heuristics.ClusterMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil
	}
	return members
}
