// Package monitor runs one proximity watcher per bus. Each watcher follows
// the bus location and advances the status of the stop it is nearest to,
// persisting, publishing and notifying every change.
package monitor

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"bus-tracker/internal/db"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/proximity"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/watch"
)

type Store interface {
	ListBuses(ctx context.Context) ([]fleet.Bus, error)
	ListStops(ctx context.Context, busNumber string) ([]fleet.RouteStop, error)
	LatestLocation(ctx context.Context, busNumber string) (fleet.BusLocation, error)
	UpdateStopStatus(ctx context.Context, busNumber string, stopOrder int, from, to fleet.StopStatus, clock string) error
}

type EventPublisher interface {
	Publish(kind publisher.Kind, busNumber string, payload any) error
}

type Metrics interface {
	StopTransition(to string)
	MonitoredSet(n int)
}

type Options struct {
	Store           Store
	Subscriber      watch.Subscriber // nil: poll only
	Publisher       EventPublisher   // nil: no change events
	Notifier        notify.Notifier
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Location        *time.Location
	Metrics         Metrics
}

type Manager struct {
	store           Store
	sub             watch.Subscriber
	pub             EventPublisher
	notifier        notify.Notifier
	pollInterval    time.Duration
	refreshInterval time.Duration
	tz              *time.Location
	metrics         Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc // bus -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(o Options) *Manager {
	tz := o.Location
	if tz == nil {
		tz = time.Local
	}
	n := o.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Manager{
		store:           o.Store,
		sub:             o.Subscriber,
		pub:             o.Publisher,
		notifier:        n,
		pollInterval:    o.PollInterval,
		refreshInterval: o.RefreshInterval,
		tz:              tz,
		metrics:         o.Metrics,
		running:         make(map[string]context.CancelFunc),
	}
}

func (m *Manager) Start(ctx context.Context, buses []fleet.Bus) {
	for _, b := range buses {
		m.startBus(ctx, b.BusNumber)
	}
}

// Running lists the monitored buses in order.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for b := range m.running {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) setGauge() {
	if m.metrics != nil {
		m.metrics.MonitoredSet(len(m.running))
	}
}

func (m *Manager) startBus(parent context.Context, bus string) {
	m.mu.Lock()
	if _, exists := m.running[bus]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[bus] = cancel
	m.wg.Add(1)
	m.setGauge()
	m.mu.Unlock()

	log.Printf("monitor: watching bus %s", bus)
	go func() {
		defer m.wg.Done()
		if err := m.runBus(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("monitor: bus %s error: %v", bus, err)
		}
		m.mu.Lock()
		delete(m.running, bus)
		m.setGauge()
		m.mu.Unlock()
	}()
}

func (m *Manager) stopBus(bus string) {
	m.mu.Lock()
	cancel, ok := m.running[bus]
	m.mu.Unlock()
	if ok {
		log.Printf("monitor: bus %s removed, stopping", bus)
		cancel()
	}
}

func (m *Manager) runBus(ctx context.Context, bus string) error {
	stops, err := m.store.ListStops(ctx, bus)
	if err != nil {
		return err
	}
	if len(stops) == 0 {
		log.Printf("monitor: bus %s has no stops yet, waiting", bus)
	}
	obs := watch.New(bus, m.sub, m.store, m.pollInterval, func(loc fleet.BusLocation) {
		stops = m.handle(ctx, bus, stops, loc)
	})
	obs.Run(ctx)
	return ctx.Err()
}

// handle evaluates one location and returns the stops as they stand after
// it. The stored route is re-read first: trip resets and route edits happen
// outside the monitor.
func (m *Manager) handle(ctx context.Context, bus string, stops []fleet.RouteStop, loc fleet.BusLocation) []fleet.RouteStop {
	stops = m.reload(ctx, bus, stops)
	loc.LastUpdated = loc.LastUpdated.In(m.tz)
	t, ok := proximity.Evaluate(loc, stops)
	if !ok {
		return stops
	}
	err := m.store.UpdateStopStatus(ctx, bus, t.StopOrder, t.From, t.To, t.Clock())
	if errors.Is(err, db.ErrStale) {
		// someone else moved the stop between the read and the write
		return m.reload(ctx, bus, stops)
	}
	if err != nil {
		log.Printf("monitor: bus %s stop %d: %v", bus, t.StopOrder, err)
		return stops
	}
	log.Printf("monitor: bus %s stop %d (%s) %s -> %s at %.0fm", bus, t.StopOrder, t.StopName, t.From, t.To, t.Distance)
	proximity.Apply(stops, t)

	if m.metrics != nil {
		m.metrics.StopTransition(string(t.To))
	}
	if m.pub != nil {
		if err := m.pub.Publish(publisher.KindStops, bus, t); err != nil {
			log.Printf("monitor: publish stop change for %s: %v", bus, err)
		}
	}
	if n, ok := notify.ForTransition(t); ok {
		if err := m.notifier.Notify(ctx, n); err != nil {
			log.Printf("monitor: notify %s %s: %v", bus, n.Kind, err)
		}
	}
	return stops
}

// reload returns the stored route, or current when it cannot be read.
// A route emptied in the store is returned as empty.
func (m *Manager) reload(ctx context.Context, bus string, current []fleet.RouteStop) []fleet.RouteStop {
	fresh, err := m.store.ListStops(ctx, bus)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("monitor: reload stops of %s: %v", bus, err)
		}
		return current
	}
	return fresh
}

// StartRefresher periodically rescans the fleet: new buses get a monitor
// and removed buses lose theirs.
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
			log.Printf("monitor: refresh error: %v", err)
		}
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("monitor: refresh error: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) RefreshActive(ctx context.Context) error {
	buses, err := m.store.ListBuses(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(buses))
	for _, b := range buses {
		want[b.BusNumber] = true
		m.startBus(ctx, b.BusNumber)
	}
	for _, bus := range m.Running() {
		if !want[bus] {
			m.stopBus(bus)
		}
	}
	return nil
}

// Stop cancels the refresher and every watcher and waits for them.
func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
