// Package sim replays buses along their stops on the day's schedule and
// feeds the positions through the same ingest path a driver uses.
package sim

import (
	"context"
	"log"
	"sync"
	"time"

	"bus-tracker/internal/eta"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/routing"
)

const (
	source = "simulator"
	dwell  = 30 * time.Second
)

type Store interface {
	ListBuses(ctx context.Context) ([]fleet.Bus, error)
	ListStops(ctx context.Context, busNumber string) ([]fleet.RouteStop, error)
	ResetStops(ctx context.Context, busNumber string) error
}

type Ingester interface {
	Location(ctx context.Context, source string, loc fleet.BusLocation) (bool, error)
}

// Router snaps the stop sequence to roads. Optional.
type Router interface {
	RouteThrough(ctx context.Context, stops []fleet.RouteStop) (routing.Route, error)
}

type Metrics interface {
	SimulatedSet(n int)
}

type Options struct {
	Store           Store
	Ingest          Ingester
	Router          Router
	PublishInterval time.Duration
	SpeedMultiplier float64
	RefreshInterval time.Duration
	PreloadHorizon  time.Duration
	Location        *time.Location
	Metrics         Metrics
}

// trip is one bus run for the current day.
type trip struct {
	bus   string
	stops []fleet.RouteStop
	start time.Time
	end   time.Time
}

type Manager struct {
	store           Store
	ingest          Ingester
	router          Router
	publishInterval time.Duration
	speedMultiplier float64
	tz              *time.Location
	refreshInterval time.Duration
	preloadHorizon  time.Duration
	metrics         Metrics
	now             func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc // bus -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup

	scheduled   map[string]context.CancelFunc // bus -> cancel (not yet started)
	scheduledWG sync.WaitGroup

	// start of the last completed trip per bus; a trip runs once a day
	finished map[string]time.Time
}

func NewManager(o Options) *Manager {
	tz := o.Location
	if tz == nil {
		tz = time.Local
	}
	interval := o.PublishInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	mult := o.SpeedMultiplier
	if mult <= 0 {
		mult = 1
	}
	return &Manager{
		store:           o.Store,
		ingest:          o.Ingest,
		router:          o.Router,
		publishInterval: interval,
		speedMultiplier: mult,
		tz:              tz,
		refreshInterval: o.RefreshInterval,
		preloadHorizon:  o.PreloadHorizon,
		metrics:         o.Metrics,
		now:             time.Now,
		running:         make(map[string]context.CancelFunc),
		scheduled:       make(map[string]context.CancelFunc),
		finished:        make(map[string]time.Time),
	}
}

// planTrip places the stops on the day containing now. ok is false when
// fewer than two stops carry a usable scheduled time.
func planTrip(bus string, stops []fleet.RouteStop, now time.Time) (trip, bool) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	t := trip{bus: bus, stops: stops}
	n := 0
	for _, st := range stops {
		mins, err := eta.ParseClock(st.ScheduledTime)
		if err != nil {
			continue
		}
		at := midnight.Add(time.Duration(mins) * time.Minute)
		if n == 0 || at.Before(t.start) {
			t.start = at
		}
		if at.After(t.end) {
			t.end = at
		}
		n++
	}
	return t, n >= 2 && t.end.After(t.start)
}

// RefreshActive loads every bus, starts those whose trip is under way and
// schedules those starting within the preload horizon.
func (m *Manager) RefreshActive(ctx context.Context) error {
	buses, err := m.store.ListBuses(ctx)
	if err != nil {
		return err
	}
	now := m.now().In(m.tz)
	for _, b := range buses {
		stops, err := m.store.ListStops(ctx, b.BusNumber)
		if err != nil {
			log.Printf("sim: bus %s: load stops: %v", b.BusNumber, err)
			continue
		}
		t, ok := planTrip(b.BusNumber, stops, now)
		if !ok || now.After(t.end) {
			continue
		}
		if now.Before(t.start) {
			if m.preloadHorizon > 0 && t.start.Sub(now) <= m.preloadHorizon {
				m.scheduleTrip(ctx, t)
			}
			continue
		}
		m.startTrip(ctx, t)
	}
	return nil
}

func (m *Manager) setGauge() {
	if m.metrics != nil {
		m.metrics.SimulatedSet(len(m.running))
	}
}

func (m *Manager) startTrip(parent context.Context, t trip) {
	m.mu.Lock()
	if _, exists := m.running[t.bus]; exists {
		m.mu.Unlock()
		return
	}
	if last, ok := m.finished[t.bus]; ok && last.Equal(t.start) {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[t.bus] = cancel
	m.wg.Add(1)
	m.setGauge()
	m.mu.Unlock()

	log.Printf("sim: starting bus %s (%s - %s)", t.bus, t.start.Format("15:04"), t.end.Format("15:04"))
	go func() {
		defer m.wg.Done()
		if err := m.runTrip(ctx, t); err != nil && ctx.Err() == nil {
			log.Printf("sim: bus %s error: %v", t.bus, err)
		}
		m.mu.Lock()
		delete(m.running, t.bus)
		m.setGauge()
		m.mu.Unlock()
	}()
}

func (m *Manager) path(ctx context.Context, stops []fleet.RouteStop) []geo.Point {
	if m.router != nil {
		r, err := m.router.RouteThrough(ctx, stops)
		if err == nil && len(r.Points) >= 2 {
			return r.Points
		}
		if err != nil {
			log.Printf("sim: route lookup failed, using straight segments: %v", err)
		}
	}
	return geo.StopPoints(stops)
}

func (m *Manager) runTrip(ctx context.Context, t trip) error {
	if err := m.store.ResetStops(ctx, t.bus); err != nil {
		return err
	}
	pts := m.path(ctx, t.stops)
	cum := geo.CumDistances(pts)
	if len(cum) < 2 || cum[len(cum)-1] == 0 {
		return nil
	}
	times, dists := buildSchedule(t.stops, t.start, pts, cum)
	if len(times) < 2 {
		return nil
	}

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	var lastAt time.Time
	var last geo.Point
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			now := m.now().In(m.tz)
			elapsed := now.Sub(t.start).Seconds() * m.speedMultiplier
			target := t.start.Add(time.Duration(elapsed * float64(time.Second)))
			done := !target.Before(t.end)
			if done {
				target = t.end
			}
			p, bearing := geo.Interpolate(pts, cum, interpolateDistAtTime(times, dists, target))

			loc := fleet.BusLocation{BusNumber: t.bus, Latitude: p.Lat, Longitude: p.Lon, LastUpdated: now.UTC(), Heading: &bearing}
			if !lastAt.IsZero() {
				if dt := now.Sub(lastAt).Seconds(); dt > 0 {
					speed := geo.Haversine(last.Lat, last.Lon, p.Lat, p.Lon) / dt
					loc.Speed = &speed
				}
			}
			lastAt, last = now, p

			if _, err := m.ingest.Location(ctx, source, loc); err != nil {
				log.Printf("sim: bus %s: ingest: %v", t.bus, err)
			}
			if done {
				m.mu.Lock()
				m.finished[t.bus] = t.start
				m.mu.Unlock()
				log.Printf("sim: finished bus %s", t.bus)
				return nil
			}
		}
	}
}

// nearestAlong returns the distance along the polyline of the vertex
// closest to p.
func nearestAlong(pts []geo.Point, cum []float64, p geo.Point) float64 {
	best, bestD := 0.0, -1.0
	for i, q := range pts {
		d := geo.Haversine(p.Lat, p.Lon, q.Lat, q.Lon)
		if bestD < 0 || d < bestD {
			best, bestD = cum[i], d
		}
	}
	return best
}

// buildSchedule turns the stops into time -> distance keyframes. Every stop
// contributes its scheduled time and, except the last, a departure keyframe
// after a short dwell so the bus sits at the stop long enough to be seen
// arriving. Distances never decrease.
func buildSchedule(stops []fleet.RouteStop, start time.Time, pts []geo.Point, cum []float64) ([]time.Time, []float64) {
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	var times []time.Time
	var dists []float64
	prev := 0.0
	for i, st := range stops {
		mins, err := eta.ParseClock(st.ScheduledTime)
		if err != nil || !geo.ValidCoordinate(st.Latitude, st.Longitude) {
			continue
		}
		d := nearestAlong(pts, cum, geo.Point{Lat: st.Latitude, Lon: st.Longitude})
		if d < prev {
			d = prev
		}
		prev = d
		at := midnight.Add(time.Duration(mins) * time.Minute)
		if n := len(times); n > 0 && at.Before(times[n-1]) {
			continue
		}
		times = append(times, at)
		dists = append(dists, d)
		if i < len(stops)-1 {
			times = append(times, at.Add(dwell))
			dists = append(dists, d)
		}
	}
	return times, dists
}

func interpolateDistAtTime(times []time.Time, dists []float64, at time.Time) float64 {
	n := len(times)
	if n == 0 {
		return 0
	}
	if !at.After(times[0]) {
		return dists[0]
	}
	if !at.Before(times[n-1]) {
		return dists[n-1]
	}
	i := 0
	for i+1 < n && at.After(times[i+1]) {
		i++
	}
	t0, t1 := times[i], times[i+1]
	d0, d1 := dists[i], dists[i+1]
	dt := t1.Sub(t0)
	if dt <= 0 {
		return d1
	}
	frac := float64(at.Sub(t0)) / float64(dt)
	return d0 + (d1-d0)*frac
}

func (m *Manager) scheduleTrip(parent context.Context, t trip) {
	m.mu.Lock()
	if _, running := m.running[t.bus]; running {
		m.mu.Unlock()
		return
	}
	if _, exists := m.scheduled[t.bus]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.scheduled[t.bus] = cancel
	m.scheduledWG.Add(1)
	m.mu.Unlock()

	log.Printf("sim: scheduled bus %s for %s", t.bus, t.start.Format(time.RFC3339))
	go func() {
		defer m.scheduledWG.Done()
		defer func() {
			m.mu.Lock()
			delete(m.scheduled, t.bus)
			m.mu.Unlock()
		}()
		d := t.start.Sub(m.now())
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if m.now().After(t.end) {
			return
		}
		m.startTrip(parent, t)
	}()
}

// StartRefresher periodically rescans the buses and starts trips that
// became active.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		if err := m.RefreshActive(ctx); err != nil {
			log.Printf("sim: refresh error: %v", err)
		}
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("sim: refresh error: %v", err)
				}
			}
		}
	}()
}

// Running lists the buses currently being simulated.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for b := range m.running {
		out = append(out, b)
	}
	return out
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.scheduled {
		cancel()
	}
	m.mu.Unlock()
	m.scheduledWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
