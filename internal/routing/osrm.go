// Package routing fetches road-snapped polylines from an OSRM server.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/geo"
)

var ErrNoRoute = errors.New("no route")

type Route struct {
	Points    []geo.Point `json:"points"`
	DistanceM float64     `json:"distance_m"`
	// Snapped is false when at least one leg fell back to a straight line.
	Snapped bool `json:"snapped"`
}

type OSRMClient struct {
	baseURL string
	http    *http.Client
	cache   *gocache.Cache
}

func NewOSRMClient(baseURL string, cacheTTL time.Duration) *OSRMClient {
	return &OSRMClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   gocache.New(cacheTTL, cacheTTL/2+time.Minute),
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"` // lon, lat
		} `json:"geometry"`
	} `json:"routes"`
}

func legKey(from, to geo.Point) string {
	return fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", from.Lon, from.Lat, to.Lon, to.Lat)
}

// Leg returns the road polyline between two points.
func (c *OSRMClient) Leg(ctx context.Context, from, to geo.Point) ([]geo.Point, float64, error) {
	key := legKey(from, to)
	if v, ok := c.cache.Get(key); ok {
		r := v.(Route)
		return r.Points, r.DistanceM, nil
	}

	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, fmt.Errorf("osrm decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 || len(body.Routes[0].Geometry.Coordinates) == 0 {
		return nil, 0, fmt.Errorf("%w: osrm code %q", ErrNoRoute, body.Code)
	}
	r := body.Routes[0]
	pts := make([]geo.Point, len(r.Geometry.Coordinates))
	for i, xy := range r.Geometry.Coordinates {
		pts[i] = geo.Point{Lat: xy[1], Lon: xy[0]}
	}
	c.cache.SetDefault(key, Route{Points: pts, DistanceM: r.Distance, Snapped: true})
	return pts, r.Distance, nil
}

// RouteThrough joins the legs between consecutive stops. A leg that cannot
// be routed is replaced by the straight segment so the caller always gets a
// drawable line through every valid stop.
func (c *OSRMClient) RouteThrough(ctx context.Context, stops []fleet.RouteStop) (Route, error) {
	pts := geo.StopPoints(stops)
	if len(pts) == 0 {
		return Route{}, ErrNoRoute
	}
	out := Route{Points: []geo.Point{pts[0]}, Snapped: true}
	for i := 1; i < len(pts); i++ {
		if err := ctx.Err(); err != nil {
			return Route{}, err
		}
		leg, dist, err := c.Leg(ctx, pts[i-1], pts[i])
		if err != nil {
			log.Printf("routing: leg %d falls back to straight line: %v", i, err)
			leg = []geo.Point{pts[i-1], pts[i]}
			dist = geo.Haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
			out.Snapped = false
		}
		// first point of each leg repeats the last point of the previous one
		out.Points = append(out.Points, leg[1:]...)
		out.DistanceM += dist
	}
	return out, nil
}
