// Package sos handles student emergency alerts: a short cancellable
// countdown, then an alert the bus driver acknowledges or dismisses.
package sos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bus-tracker/internal/db"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/publisher"
)

// ActionStopRequested is recorded when the driver agrees to stop the bus.
const ActionStopRequested = "stop_requested"

var (
	ErrAlertClosed = errors.New("alert already closed")
	ErrInvalid     = errors.New("invalid sos request")
)

type Store interface {
	InsertSOS(ctx context.Context, a fleet.SOSAlert) error
	GetSOS(ctx context.Context, id string) (fleet.SOSAlert, error)
	CloseSOS(ctx context.Context, id string, status fleet.SOSStatus, action string, at time.Time) (fleet.SOSAlert, error)
	OpenSOS(ctx context.Context, busNumber string) ([]fleet.SOSAlert, error)
}

type EventPublisher interface {
	Publish(kind publisher.Kind, busNumber string, payload any) error
}

type Metrics interface {
	SOSRaisedInc()
}

type Request struct {
	BusNumber string  `json:"bus_number"`
	StudentID string  `json:"student_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (r Request) validate() error {
	if r.BusNumber == "" || r.StudentID == "" {
		return fmt.Errorf("%w: bus and student are required", ErrInvalid)
	}
	if !(fleet.BusLocation{Latitude: r.Latitude, Longitude: r.Longitude}).Valid() {
		return fmt.Errorf("%w: bad coordinates", ErrInvalid)
	}
	return nil
}

type Service struct {
	store    Store
	pub      EventPublisher
	notifier notify.Notifier
	metrics  Metrics
	now      func() time.Time
}

func NewService(store Store, pub EventPublisher, notifier notify.Notifier, m Metrics) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{store: store, pub: pub, notifier: notifier, metrics: m, now: time.Now}
}

// Raise stores a new open alert, then broadcasts and notifies. Broadcast
// and notification failures are logged; the alert stands.
func (s *Service) Raise(ctx context.Context, req Request) (fleet.SOSAlert, error) {
	if err := req.validate(); err != nil {
		return fleet.SOSAlert{}, err
	}
	now := s.now().UTC()
	a := fleet.SOSAlert{
		ID:        uuid.NewString(),
		BusNumber: req.BusNumber,
		StudentID: req.StudentID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Status:    fleet.SOSOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSOS(ctx, a); err != nil {
		return fleet.SOSAlert{}, err
	}
	log.Printf("sos: alert %s raised on bus %s", a.ID, a.BusNumber)
	if s.metrics != nil {
		s.metrics.SOSRaisedInc()
	}
	s.broadcast(a)
	if err := s.notifier.Notify(ctx, notify.ForSOS(a)); err != nil {
		log.Printf("sos: notify %s: %v", a.ID, err)
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (fleet.SOSAlert, error) {
	return s.store.GetSOS(ctx, id)
}

func (s *Service) Open(ctx context.Context, busNumber string) ([]fleet.SOSAlert, error) {
	return s.store.OpenSOS(ctx, busNumber)
}

// Acknowledge records that the driver will stop the bus.
func (s *Service) Acknowledge(ctx context.Context, id string) (fleet.SOSAlert, error) {
	return s.close(ctx, id, fleet.SOSAcknowledged, ActionStopRequested)
}

func (s *Service) Dismiss(ctx context.Context, id string) (fleet.SOSAlert, error) {
	return s.close(ctx, id, fleet.SOSDismissed, "")
}

func (s *Service) close(ctx context.Context, id string, status fleet.SOSStatus, action string) (fleet.SOSAlert, error) {
	a, err := s.store.CloseSOS(ctx, id, status, action, s.now().UTC())
	if errors.Is(err, db.ErrStale) {
		return fleet.SOSAlert{}, fmt.Errorf("sos %s: %w", id, ErrAlertClosed)
	}
	if err != nil {
		return fleet.SOSAlert{}, err
	}
	log.Printf("sos: alert %s %s", a.ID, a.Status)
	s.broadcast(a)
	return a, nil
}

func (s *Service) broadcast(a fleet.SOSAlert) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(publisher.KindSOS, a.BusNumber, a); err != nil {
		log.Printf("sos: publish %s: %v", a.ID, err)
	}
}
