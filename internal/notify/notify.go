// Package notify dispatches push notifications about stop progress and
// SOS alerts.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/proximity"
)

type Kind string

const (
	KindApproaching Kind = "approaching"
	KindArrived     Kind = "arrived"
	KindDeparted    Kind = "departed"
	KindSOS         Kind = "sos"
)

type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

type Notification struct {
	Kind      Kind      `json:"kind"`
	BusNumber string    `json:"bus_number"`
	StopOrder int       `json:"stop_order,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	At        time.Time `json:"at"`
}

// key identifies notifications that count as repeats of each other.
func (n Notification) key() string {
	return n.BusNumber + "|" + string(n.Kind) + "|" + strconv.Itoa(n.StopOrder)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ForTransition builds the notification for a stop status change. Moves
// back to pending never notify.
func ForTransition(t proximity.Transition) (Notification, bool) {
	n := Notification{BusNumber: t.BusNumber, StopOrder: t.StopOrder, Priority: PriorityDefault, At: t.At}
	switch t.To {
	case fleet.StatusApproaching:
		n.Kind = KindApproaching
		n.Title = "Approaching Stop"
		n.Body = fmt.Sprintf("Bus %s is approaching %s", t.BusNumber, t.StopName)
	case fleet.StatusArrived:
		n.Kind = KindArrived
		n.Title = "Stop arrived"
		n.Body = fmt.Sprintf("Bus %s has arrived at %s", t.BusNumber, t.StopName)
	case fleet.StatusDeparted:
		n.Kind = KindDeparted
		n.Title = "Stop departed"
		n.Body = fmt.Sprintf("Bus %s has departed from %s", t.BusNumber, t.StopName)
	default:
		return Notification{}, false
	}
	return n, true
}

func ForSOS(a fleet.SOSAlert) Notification {
	return Notification{
		Kind:      KindSOS,
		BusNumber: a.BusNumber,
		Title:     "EMERGENCY SOS ALERT",
		Body:      "A student has requested emergency assistance!",
		Priority:  PriorityHigh,
		At:        a.CreatedAt,
	}
}

// LogNotifier writes notifications to the log. Used when no broker is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("notify bus=%s kind=%s priority=%s: %s - %s", n.BusNumber, n.Kind, n.Priority, n.Title, n.Body)
	return nil
}
