// Package report builds the admin views of the fleet.
package report

import (
	"math"
	"sort"
	"time"

	"bus-tracker/internal/eta"
	"bus-tracker/internal/fleet"
)

type BusSummary struct {
	fleet.FleetRow
	RemainingStops int  `json:"remaining_stops"`
	Online         bool `json:"online"`
}

// FleetSummary marks each bus online when its last location is newer than
// staleAfter.
func FleetSummary(rows []fleet.FleetRow, now time.Time, staleAfter time.Duration) []BusSummary {
	out := make([]BusSummary, 0, len(rows))
	for _, r := range rows {
		s := BusSummary{FleetRow: r, RemainingStops: r.TotalStops - r.CompletedStops}
		if s.RemainingStops < 0 {
			s.RemainingStops = 0
		}
		if r.LastUpdated != nil && now.Sub(*r.LastUpdated) <= staleAfter {
			s.Online = true
		}
		out = append(out, s)
	}
	return out
}

type Overview struct {
	TotalBuses      int      `json:"total_buses"`
	OnlineBuses     int      `json:"online_buses"`
	TotalPassengers int      `json:"total_passengers"`
	TotalStops      int      `json:"total_stops"`
	CompletedStops  int      `json:"completed_stops"`
	OpenSOSAlerts   int      `json:"open_sos_alerts"`
	AvgDelayMinutes float64  `json:"avg_delay_minutes"`
	DelayedBuses    []string `json:"delayed_buses"`
}

// BuildOverview totals the fleet. Delay is measured on stops the bus has
// already left: actual arrival (or departure) minus scheduled time.
func BuildOverview(summary []BusSummary, stops []fleet.RouteStop, openSOS int) Overview {
	o := Overview{TotalBuses: len(summary), OpenSOSAlerts: openSOS, DelayedBuses: []string{}}
	for _, s := range summary {
		if s.Online {
			o.OnlineBuses++
		}
		o.TotalPassengers += s.Passengers
		o.TotalStops += s.TotalStops
		o.CompletedStops += s.CompletedStops
	}

	var total, n int
	latest := map[string]int{}
	for _, st := range stops {
		d, ok := StopDelay(st)
		if !ok {
			continue
		}
		total += d
		n++
		latest[st.BusNumber] = d
	}
	if n > 0 {
		o.AvgDelayMinutes = math.Round(float64(total)/float64(n)*10) / 10
	}
	for bus, d := range latest {
		if d > eta.PunctualityWindow {
			o.DelayedBuses = append(o.DelayedBuses, bus)
		}
	}
	sort.Strings(o.DelayedBuses)
	return o
}

// StopDelay is how many minutes late a departed stop was reached.
func StopDelay(st fleet.RouteStop) (int, bool) {
	if !st.Status.Completed() {
		return 0, false
	}
	actual := st.ArrivalTime
	if actual == "" {
		actual = st.DepartureTime
	}
	d, err := eta.BetweenStops(st.ScheduledTime, actual)
	if err != nil {
		return 0, false
	}
	return d, true
}
