package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/fleet"
)

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{17.385, 78.486, 17.390, 78.490},
		{0, 0, 0, 1},
		{-33.8688, 151.2093, 51.5074, -0.1278},
		{89.9, 10, -89.9, -170},
	}
	for _, p := range pairs {
		ab := Haversine(p[0], p[1], p[2], p[3])
		ba := Haversine(p[2], p[3], p[0], p[1])
		assert.InDelta(t, ab, ba, 1e-6)
	}
}

func TestHaversineZeroIffIdentical(t *testing.T) {
	assert.Zero(t, Haversine(17.385, 78.486, 17.385, 78.486))
	assert.Greater(t, Haversine(17.385, 78.486, 17.385, 78.48601), 0.0)
	assert.Greater(t, Haversine(17.385, 78.486, 17.38501, 78.486), 0.0)
}

func TestHaversineKnownDistance(t *testing.T) {
	d := Haversine(17.385, 78.486, 17.390, 78.490)
	assert.InDelta(t, 699.5, d, 5)
	// one degree of longitude at the equator
	assert.InDelta(t, 111195, Haversine(0, 0, 0, 1), 1)
}

func TestDistanceOrFar(t *testing.T) {
	assert.True(t, math.IsInf(DistanceOrFar(math.NaN(), 0, 0, 0), 1))
	assert.True(t, math.IsInf(DistanceOrFar(0, 0, 91, 0), 1))
	assert.True(t, math.IsInf(DistanceOrFar(0, 0, 0, 181), 1))
	assert.False(t, math.IsInf(DistanceOrFar(0, 0, 0, 0.5), 1))
}

func TestNearestStop(t *testing.T) {
	stops := []fleet.RouteStop{
		{StopName: "broken", Latitude: math.NaN(), Longitude: 78.486, StopOrder: 1},
		{StopName: "far", Latitude: 17.50, Longitude: 78.60, StopOrder: 2},
		{StopName: "near", Latitude: 17.3851, Longitude: 78.4861, StopOrder: 3},
	}
	idx, d := NearestStop(17.385, 78.486, stops)
	require.Equal(t, 2, idx)
	assert.Less(t, d, 20.0)

	idx, d = NearestStop(17.385, 78.486, stops[:1])
	assert.Equal(t, -1, idx)
	assert.True(t, math.IsInf(d, 1))

	idx, _ = NearestStop(17.385, 78.486, nil)
	assert.Equal(t, -1, idx)
}

func TestInterpolate(t *testing.T) {
	pts := []Point{{0, 0}, {0, 0.01}, {0.01, 0.01}}
	cum := CumDistances(pts)
	require.Len(t, cum, 3)
	assert.Zero(t, cum[0])
	assert.InDelta(t, 2*cum[1], cum[2], 1)

	p, brng := Interpolate(pts, cum, cum[1]/2)
	assert.InDelta(t, 0.005, p.Lon, 1e-9)
	assert.InDelta(t, 0, p.Lat, 1e-9)
	assert.InDelta(t, 90, brng, 0.01)

	p, _ = Interpolate(pts, cum, -5)
	assert.Equal(t, pts[0], p)
	p, brng = Interpolate(pts, cum, cum[2]+100)
	assert.Equal(t, pts[2], p)
	assert.InDelta(t, 0, brng, 0.01)
}

func TestStopPointsSkipsMalformed(t *testing.T) {
	stops := []fleet.RouteStop{
		{Latitude: 17.1, Longitude: 78.1},
		{Latitude: 200, Longitude: 78.1},
		{Latitude: 17.2, Longitude: 78.2},
	}
	assert.Equal(t, []Point{{17.1, 78.1}, {17.2, 78.2}}, StopPoints(stops))
}
