// Package watch follows the location of one bus from two sources at once:
// the real-time change channel and a polling fallback against the store.
// Whichever source sees a position first delivers it; older positions that
// arrive later are dropped.
package watch

import (
	"context"
	"errors"
	"log"
	"time"

	"bus-tracker/internal/db"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/publisher"
)

type Subscriber interface {
	Subscribe(kind publisher.Kind, busNumber string, handler func(publisher.Event)) (func(), error)
}

type Fetcher interface {
	LatestLocation(ctx context.Context, busNumber string) (fleet.BusLocation, error)
}

type Observer struct {
	bus      string
	sub      Subscriber
	fetch    Fetcher
	interval time.Duration
	deliver  func(fleet.BusLocation)

	events chan fleet.BusLocation
	last   time.Time
	seen   bool
}

// New builds an observer for busNumber. sub may be nil, in which case only
// polling is used. deliver is always called from the Run goroutine.
func New(busNumber string, sub Subscriber, fetch Fetcher, interval time.Duration, deliver func(fleet.BusLocation)) *Observer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Observer{
		bus:      busNumber,
		sub:      sub,
		fetch:    fetch,
		interval: interval,
		deliver:  deliver,
		events:   make(chan fleet.BusLocation, 16),
	}
}

// Run blocks until ctx is cancelled, then unsubscribes and stops polling.
func (o *Observer) Run(ctx context.Context) {
	if o.sub != nil {
		unsub, err := o.sub.Subscribe(publisher.KindLocation, o.bus, o.onEvent)
		if err != nil {
			log.Printf("bus %s: subscribe failed, polling only: %v", o.bus, err)
		} else {
			defer unsub()
		}
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case loc := <-o.events:
			o.offer(loc)
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Observer) onEvent(ev publisher.Event) {
	var loc fleet.BusLocation
	if err := ev.Decode(&loc); err != nil {
		log.Printf("bus %s: bad location event: %v", o.bus, err)
		return
	}
	if loc.BusNumber == "" {
		loc.BusNumber = ev.BusNumber
	}
	select {
	case o.events <- loc:
	default:
		// full buffer: the next poll picks up the newest row anyway
	}
}

func (o *Observer) poll(ctx context.Context) {
	if o.fetch == nil {
		return
	}
	loc, err := o.fetch.LatestLocation(ctx, o.bus)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) && ctx.Err() == nil {
			log.Printf("bus %s: poll location: %v", o.bus, err)
		}
		return
	}
	o.offer(loc)
}

// offer delivers loc if it is strictly newer than the last delivered one.
func (o *Observer) offer(loc fleet.BusLocation) bool {
	if loc.BusNumber != o.bus || !loc.Valid() {
		return false
	}
	if o.seen && !loc.LastUpdated.After(o.last) {
		return false
	}
	o.seen = true
	o.last = loc.LastUpdated
	o.deliver(loc)
	return true
}
