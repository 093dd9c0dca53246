package geo

import (
	"math"

	"bus-tracker/internal/fleet"
)

const earthRadiusM = 6371000.0

type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DistanceOrFar is Haversine, except that a malformed coordinate on either
// side yields +Inf so it can never win a nearest-stop comparison.
func DistanceOrFar(lat1, lon1, lat2, lon2 float64) float64 {
	if !ValidCoordinate(lat1, lon1) || !ValidCoordinate(lat2, lon2) {
		return math.Inf(1)
	}
	return Haversine(lat1, lon1, lat2, lon2)
}

// NearestStop returns the index of the stop closest to (lat, lon) and its
// distance. idx is -1 when no stop has a usable coordinate.
func NearestStop(lat, lon float64, stops []fleet.RouteStop) (idx int, dist float64) {
	idx = -1
	dist = math.Inf(1)
	for i, s := range stops {
		d := DistanceOrFar(lat, lon, s.Latitude, s.Longitude)
		if d < dist {
			idx, dist = i, d
		}
	}
	return idx, dist
}

func BearingDeg(a, b Point) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// CumDistances returns the running haversine length along pts.
func CumDistances(pts []Point) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
		cum[i] = sum
	}
	return cum
}

// Interpolate walks dist meters along the polyline and returns the point
// reached and the bearing of the segment it lies on.
func Interpolate(pts []Point, cum []float64, dist float64) (Point, float64) {
	n := len(pts)
	if n == 0 {
		return Point{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return pts[0], 0
	}
	if dist <= 0 {
		return pts[0], BearingDeg(pts[0], pts[1])
	}
	if dist >= cum[n-1] {
		return pts[n-1], BearingDeg(pts[n-2], pts[n-1])
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	p0, p1 := pts[i-1], pts[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, BearingDeg(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return Point{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}, BearingDeg(p0, p1)
}

func StopPoints(stops []fleet.RouteStop) []Point {
	pts := make([]Point, 0, len(stops))
	for _, s := range stops {
		if !ValidCoordinate(s.Latitude, s.Longitude) {
			continue
		}
		pts = append(pts, Point{Lat: s.Latitude, Lon: s.Longitude})
	}
	return pts
}
