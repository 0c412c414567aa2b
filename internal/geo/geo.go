// Package geo holds the flat-earth geometry used for coverage planning
// and waypoint following. All distances are in raw degrees of latitude and
// longitude unless a function says otherwise.
package geo

import (
	"math"

	"golang.org/x/exp/constraints"
)

// MetersPerDegree converts degrees to meters at the equator. Only used for
// diagnostics; control decisions are made in degrees.
const MetersPerDegree = 111139

type Point struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether p is a usable GPS fix. (0,0) is the value reported
// by receivers without a fix and is rejected.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if p.Latitude <= -90 || p.Latitude >= 90 {
		return false
	}
	if p.Longitude <= -180 || p.Longitude >= 180 {
		return false
	}
	return !(p.Latitude == 0 && p.Longitude == 0)
}

func (p Point) Sub(q Point) Point {
	return Point{Latitude: p.Latitude - q.Latitude, Longitude: p.Longitude - q.Longitude}
}

func (p Point) Add(q Point) Point {
	return Point{Latitude: p.Latitude + q.Latitude, Longitude: p.Longitude + q.Longitude}
}

func (p Point) Scale(s float64) Point {
	return Point{Latitude: p.Latitude * s, Longitude: p.Longitude * s}
}

func dot(a, b Point) float64 {
	return a.Latitude*b.Latitude + a.Longitude*b.Longitude
}

func SquaredDistance(a, b Point) float64 {
	d := a.Sub(b)
	return dot(d, d)
}

func Distance(a, b Point) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}

// DistanceToSegment returns the distance from p to the closest point of the
// segment [a, b].
func DistanceToSegment(a, b, p Point) float64 {
	ab := b.Sub(a)
	l2 := dot(ab, ab)
	if l2 == 0 {
		return Distance(a, p)
	}
	t := Clamp(dot(p.Sub(a), ab)/l2, 0, 1)
	return Distance(p, a.Add(ab.Scale(t)))
}

// PointInPolygon treats polygon as an open ring; the closing edge from the
// last vertex back to the first is implied. Points exactly on a bottom or
// left edge count as inside, points on a top or right edge do not.
func PointInPolygon(p Point, polygon []Point) bool {
	inside := false
	for i := 0; i < len(polygon); i++ {
		p0, p1 := polygon[i], polygon[(i+1)%len(polygon)]
		if (p0.Latitude <= p.Latitude && p.Latitude < p1.Latitude) ||
			(p1.Latitude <= p.Latitude && p.Latitude < p0.Latitude) {
			lon := p0.Longitude + (p.Latitude-p0.Latitude)*(p1.Longitude-p0.Longitude)/(p1.Latitude-p0.Latitude)
			if lon > p.Longitude {
				inside = !inside
			}
		}
	}
	return inside
}

// InsertionIndex returns the index at which p should be inserted into
// polygon so that the new vertex lands on its nearest edge. An index equal
// to len(polygon) means the closing edge.
func InsertionIndex(polygon []Point, p Point) int {
	if len(polygon) < 2 {
		return len(polygon)
	}
	best, bestDist := len(polygon), math.Inf(1)
	for i := range polygon {
		a, b := polygon[i], polygon[(i+1)%len(polygon)]
		if d := DistanceToSegment(a, b, p); d < bestDist {
			best, bestDist = i+1, d
		}
	}
	return best
}

// InsertVertex returns a copy of polygon with p inserted at InsertionIndex.
func InsertVertex(polygon []Point, p Point) []Point {
	idx := InsertionIndex(polygon, p)
	out := make([]Point, 0, len(polygon)+1)
	out = append(out, polygon[:idx]...)
	out = append(out, p)
	return append(out, polygon[idx:]...)
}

// Extent is an axis-aligned bounding box.
type Extent struct {
	Min, Max Point
}

func EmptyExtent() Extent {
	return Extent{
		Min: Point{Latitude: math.Inf(1), Longitude: math.Inf(1)},
		Max: Point{Latitude: math.Inf(-1), Longitude: math.Inf(-1)},
	}
}

func Bounds(points []Point) Extent {
	e := EmptyExtent()
	for _, p := range points {
		e.Min.Latitude = math.Min(e.Min.Latitude, p.Latitude)
		e.Min.Longitude = math.Min(e.Min.Longitude, p.Longitude)
		e.Max.Latitude = math.Max(e.Max.Latitude, p.Latitude)
		e.Max.Longitude = math.Max(e.Max.Longitude, p.Longitude)
	}
	return e
}

func (e Extent) Empty() bool {
	return e.Min.Latitude > e.Max.Latitude || e.Min.Longitude > e.Max.Longitude
}

func (e Extent) Inside(p Point) bool {
	return p.Latitude >= e.Min.Latitude && p.Latitude <= e.Max.Latitude &&
		p.Longitude >= e.Min.Longitude && p.Longitude <= e.Max.Longitude
}

const earthRadiusMeters = 6371000

// GreatCircleDistance is the haversine distance between a and b in meters.
func GreatCircleDistance(a, b Point) float64 {
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*math.Pi/180)*math.Cos(b.Latitude*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OffsetMeters splits the distance from a to b into signed east and north
// components in meters.
func OffsetMeters(a, b Point) (east, north float64) {
	east = GreatCircleDistance(a, Point{Latitude: a.Latitude, Longitude: b.Longitude})
	north = GreatCircleDistance(a, Point{Latitude: b.Latitude, Longitude: a.Longitude})
	return math.Copysign(east, b.Longitude-a.Longitude), math.Copysign(north, b.Latitude-a.Latitude)
}

func DegreesToMeters(d float64) float64 {
	return d * MetersPerDegree
}

func Clamp[T constraints.Ordered](x, low, high T) T {
	if x < low {
		return low
	} else if x > high {
		return high
	}
	return x
}

func Abs[V constraints.Integer | constraints.Float](x V) V {
	if x < 0 {
		return -x
	}
	return x
}
