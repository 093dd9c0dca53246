// Package ingest is the single write path for driver GPS samples and
// student boardings. The HTTP API and the simulator both go through it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/publisher"
)

var ErrInvalidLocation = errors.New("invalid location")

type Store interface {
	UpsertLocation(ctx context.Context, loc fleet.BusLocation) (bool, error)
	IncrementPassengers(ctx context.Context, busNumber string, delta int, at time.Time) (fleet.PassengerCount, error)
	// RecordAttendance stores the boarding and reports whether it is the
	// student's first on that bus for a.Day. It must be atomic.
	RecordAttendance(ctx context.Context, a fleet.Attendance) (bool, error)
}

type EventPublisher interface {
	Publish(kind publisher.Kind, busNumber string, payload any) error
}

type Metrics interface {
	LocationIngested(source string, applied bool)
}

type Service struct {
	store   Store
	pub     EventPublisher
	metrics Metrics
	tz      *time.Location
	now     func() time.Time
}

func NewService(store Store, pub EventPublisher, m Metrics, tz *time.Location) *Service {
	if tz == nil {
		tz = time.Local
	}
	return &Service{store: store, pub: pub, metrics: m, tz: tz, now: time.Now}
}

// Location stores a GPS sample and, when it became the latest position of
// the bus, publishes it on the location subject. A sample without a
// timestamp is stamped with the current time.
func (s *Service) Location(ctx context.Context, source string, loc fleet.BusLocation) (bool, error) {
	loc.BusNumber = strings.TrimSpace(loc.BusNumber)
	if loc.BusNumber == "" || !loc.Valid() {
		return false, ErrInvalidLocation
	}
	if loc.LastUpdated.IsZero() {
		loc.LastUpdated = s.now()
	}
	loc.LastUpdated = loc.LastUpdated.UTC()

	applied, err := s.store.UpsertLocation(ctx, loc)
	if err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.LocationIngested(source, applied)
	}
	if !applied {
		return false, nil
	}
	if s.pub != nil {
		if err := s.pub.Publish(publisher.KindLocation, loc.BusNumber, loc); err != nil {
			// the observer's polling fallback still picks the row up
			log.Printf("bus %s: publish location: %v", loc.BusNumber, err)
		}
	}
	return true, nil
}

// Board records that a student boarded a bus. A student is counted once per
// bus per day; repeated boardings return the current count unchanged with
// counted=false.
func (s *Service) Board(ctx context.Context, busNumber, studentID string) (pc fleet.PassengerCount, counted bool, err error) {
	now := s.now()
	first, err := s.store.RecordAttendance(ctx, fleet.Attendance{
		StudentID: studentID,
		BusNumber: busNumber,
		BoardedAt: now.UTC(),
		Day:       now.In(s.tz).Format("2006-01-02"),
	})
	if err != nil {
		return fleet.PassengerCount{}, false, fmt.Errorf("board bus %s: %w", busNumber, err)
	}
	delta := 0
	if first {
		delta = 1
	}

	pc, err = s.store.IncrementPassengers(ctx, busNumber, delta, now.UTC())
	if err != nil {
		return fleet.PassengerCount{}, false, err
	}
	if first && s.pub != nil {
		if err := s.pub.Publish(publisher.KindPassengers, busNumber, pc); err != nil {
			log.Printf("bus %s: publish passengers: %v", busNumber, err)
		}
	}
	return pc, first, nil
}
