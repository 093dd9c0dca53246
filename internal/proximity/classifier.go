package proximity

import (
	"time"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/geo"
)

const (
	ArrivedRadius  = 50.0   // meters
	ApproachRadius = 1000.0 // meters

	// ClockLayout is how arrival/departure stamps are written on a stop.
	ClockLayout = "15:04:05"
)

// Next returns the status a stop moves to when the bus is distance meters
// away. Statuses only advance: departed is terminal and an arrived stop can
// only become departed.
func Next(current fleet.StopStatus, distance float64) fleet.StopStatus {
	switch current {
	case fleet.StatusDeparted:
		return current
	case fleet.StatusArrived:
		if distance > ArrivedRadius {
			return fleet.StatusDeparted
		}
		return current
	}
	if distance <= ArrivedRadius {
		return fleet.StatusArrived
	}
	if current == fleet.StatusPending && distance <= ApproachRadius {
		return fleet.StatusApproaching
	}
	return current
}

type Transition struct {
	BusNumber string           `json:"bus_number"`
	StopOrder int              `json:"stop_order"`
	StopName  string           `json:"stop_name"`
	From      fleet.StopStatus `json:"from"`
	To        fleet.StopStatus `json:"to"`
	Distance  float64          `json:"distance_m"`
	At        time.Time        `json:"at"`
}

// Clock is the wall-clock stamp recorded for arrived/departed transitions,
// empty for the others.
func (t Transition) Clock() string {
	if t.To == fleet.StatusArrived || t.To == fleet.StatusDeparted {
		return t.At.Format(ClockLayout)
	}
	return ""
}

// Evaluate finds the stop nearest to loc and reports the status change the
// sample causes on it, if any. Only the nearest stop is ever touched.
func Evaluate(loc fleet.BusLocation, stops []fleet.RouteStop) (Transition, bool) {
	if !loc.Valid() {
		return Transition{}, false
	}
	idx, dist := geo.NearestStop(loc.Latitude, loc.Longitude, stops)
	if idx < 0 {
		return Transition{}, false
	}
	stop := stops[idx]
	from := fleet.ParseStopStatus(string(stop.Status))
	to := Next(from, dist)
	if to == from {
		return Transition{}, false
	}
	at := loc.LastUpdated
	if at.IsZero() {
		at = time.Now()
	}
	return Transition{
		BusNumber: loc.BusNumber,
		StopOrder: stop.StopOrder,
		StopName:  stop.StopName,
		From:      from,
		To:        to,
		Distance:  dist,
		At:        at,
	}, true
}

// Apply writes t onto the matching stop in place, stamping arrival or
// departure time.
func Apply(stops []fleet.RouteStop, t Transition) {
	for i := range stops {
		if stops[i].StopOrder != t.StopOrder {
			continue
		}
		stops[i].Status = t.To
		switch t.To {
		case fleet.StatusArrived:
			stops[i].ArrivalTime = t.Clock()
		case fleet.StatusDeparted:
			stops[i].DepartureTime = t.Clock()
		}
		return
	}
}
