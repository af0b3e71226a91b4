// Package geo provides the coordinate primitives used by the GPS heuristics.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
const EarthRadiusMeters = 6_371_000.0

// DistanceFunc returns the distance in meters between two coordinates.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Point is a coordinate pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// Centroid returns the arithmetic mean of the points. Adequate for the
// small extents of a spatial cluster.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: lat / n, Lon: lon / n}
}

// CrossTrackDistance returns the distance in meters from p to the line
// through a and b, using an equirectangular projection centred on a.
// When a and b coincide it returns the distance from p to a.
func CrossTrackDistance(p, a, b Point) float64 {
	ax, ay := 0.0, 0.0
	bx, by := project(b, a)
	px, py := project(p, a)

	dx, dy := bx-ax, by-ay
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(px, py)
	}
	return math.Abs(dx*(ay-py)-(ax-px)*dy) / length
}

// project maps p to meters east/north of origin.
func project(p, origin Point) (x, y float64) {
	x = toRad(p.Lon-origin.Lon) * math.Cos(toRad((p.Lat+origin.Lat)/2)) * EarthRadiusMeters
	y = toRad(p.Lat-origin.Lat) * EarthRadiusMeters
	return x, y
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
