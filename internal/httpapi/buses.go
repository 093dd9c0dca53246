package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"bus-tracker/internal/db"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/report"
	"bus-tracker/internal/routing"
	"bus-tracker/internal/weather"
)

func busParam(r *http.Request) string { return mux.Vars(r)["bus"] }

func (s *Server) listBuses(w http.ResponseWriter, r *http.Request) {
	buses, err := s.store.ListBuses(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if buses == nil {
		buses = []fleet.Bus{}
	}
	writeJSON(w, http.StatusOK, buses)
}

func (s *Server) listStops(w http.ResponseWriter, r *http.Request) {
	stops, err := s.store.ListStops(r.Context(), busParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if stops == nil {
		stops = []fleet.RouteStop{}
	}
	writeJSON(w, http.StatusOK, stops)
}

// replaceStops accepts the route as a JSON array or as a workbook, either
// as the raw body or as the "file" field of a multipart form.
func (s *Server) replaceStops(w http.ResponseWriter, r *http.Request) {
	bus := busParam(r)
	if _, err := s.store.GetBus(r.Context(), bus); err != nil {
		fail(w, r, err)
		return
	}

	var stops []fleet.RouteStop
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mt == "application/json":
		if err := decodeJSON(r, &stops); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for i := range stops {
			stops[i].BusNumber = bus
		}
	case mt == "multipart/form-data":
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer f.Close()
		if stops, err = report.ReadStopsXLSX(f, bus); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		var err error
		if stops, err = report.ReadStopsXLSX(http.MaxBytesReader(w, r.Body, 10*maxBody), bus); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if len(stops) == 0 {
		writeError(w, http.StatusBadRequest, "route has no stops")
		return
	}
	for _, st := range stops {
		if strings.TrimSpace(st.StopName) == "" || !geo.ValidCoordinate(st.Latitude, st.Longitude) {
			writeError(w, http.StatusBadRequest, "stop "+strconv.Itoa(st.StopOrder)+": name and coordinates are required")
			return
		}
	}
	if err := fleet.ValidateStopOrder(stops); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ReplaceStops(r.Context(), bus, stops); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stops": len(stops)})
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	stops, err := s.store.ListStops(r.Context(), busParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if s.router == nil {
		pts := geo.StopPoints(stops)
		rt := routing.Route{Points: pts}
		if cum := geo.CumDistances(pts); len(cum) > 0 {
			rt.DistanceM = cum[len(cum)-1]
		}
		writeJSON(w, http.StatusOK, rt)
		return
	}
	rt, err := s.router.RouteThrough(r.Context(), stops)
	if errors.Is(err, routing.ErrNoRoute) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) stopWeather(w http.ResponseWriter, r *http.Request) {
	stops, err := s.store.ListStops(r.Context(), busParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.weather.ForStops(stops))
}

func (s *Server) location(w http.ResponseWriter, r *http.Request) {
	loc, err := db.FetchLatestLocationWithRetry(r.Context(), s.store, busParam(r), s.fetchDelay)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := s.now().Add(-time.Hour)
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 500
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 5000)
	}
	locs, err := s.store.LocationHistory(r.Context(), busParam(r), since, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if locs == nil {
		locs = []fleet.BusLocation{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) passengers(w http.ResponseWriter, r *http.Request) {
	pc, err := s.store.PassengerCount(r.Context(), busParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

type busDetail struct {
	fleet.Bus
	TotalStops     int                  `json:"total_stops"`
	CompletedStops int                  `json:"completed_stops"`
	RemainingStops int                  `json:"remaining_stops"`
	CurrentStop    *fleet.RouteStop     `json:"current_stop,omitempty"`
	NextStop       *fleet.RouteStop     `json:"next_stop,omitempty"`
	Location       *fleet.BusLocation   `json:"location,omitempty"`
	Online         bool                 `json:"online"`
	Passengers     int                  `json:"passenger_count"`
	Weather        weather.Local        `json:"weather"`
	SpeedKmh       float64              `json:"speed_kmh"`
	NextStopETA    *nextStopETA         `json:"next_stop_eta,omitempty"`
	NextWeather    *weather.StopWeather `json:"next_stop_weather,omitempty"`
}

type nextStopETA struct {
	DistanceM        float64 `json:"distance_m,omitempty"`
	Minutes          *int    `json:"minutes,omitempty"`
	EstimatedArrival string  `json:"estimated_arrival,omitempty"`
	ScheduledArrival string  `json:"scheduled_arrival"`
	ScheduledETA     string  `json:"scheduled_eta"`
	Punctuality      string  `json:"punctuality,omitempty"`
}

// progress prefers the live stop statuses; before the bus has reached any
// stop it falls back to the timetable.
func progress(stops []fleet.RouteStop, now time.Time) eta.Progress {
	live := false
	for _, st := range stops {
		if st.Status != fleet.StatusPending && st.Status != "" {
			live = true
			break
		}
	}
	if !live {
		return eta.ScheduleProgress(stops, now)
	}
	var p eta.Progress
	for i := range stops {
		switch stops[i].Status {
		case fleet.StatusDeparted:
			p.Completed++
			p.Current = &stops[i]
		case fleet.StatusArrived:
			p.Current = &stops[i]
		default:
			if p.Next == nil {
				p.Next = &stops[i]
			}
		}
	}
	p.Remaining = len(stops) - p.Completed
	return p
}

func (s *Server) busDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bus, err := s.store.GetBus(ctx, busParam(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	stops, err := s.store.ListStops(ctx, bus.BusNumber)
	if err != nil {
		fail(w, r, err)
		return
	}
	pc, err := s.store.PassengerCount(ctx, bus.BusNumber)
	if err != nil {
		fail(w, r, err)
		return
	}

	now := s.now().In(s.tz)
	p := progress(stops, now)
	d := busDetail{
		Bus:            bus,
		TotalStops:     len(stops),
		CompletedStops: p.Completed,
		RemainingStops: p.Remaining,
		CurrentStop:    p.Current,
		NextStop:       p.Next,
		Passengers:     pc.Count,
		Weather:        s.weather.Local(now),
	}
	d.SpeedKmh = eta.SpeedKmh(now, d.Weather.Condition)

	loc, err := s.store.LatestLocation(ctx, bus.BusNumber)
	switch {
	case err == nil:
		d.Location = &loc
		d.Online = now.Sub(loc.LastUpdated) <= s.staleAfter
	case !errors.Is(err, db.ErrNotFound):
		fail(w, r, err)
		return
	}

	if next := p.Next; next != nil {
		e := &nextStopETA{
			ScheduledArrival: eta.FormatClock12(next.ScheduledTime),
			ScheduledETA:     eta.UntilScheduled(now, next.ScheduledTime),
		}
		if d.Location != nil {
			dist := geo.DistanceOrFar(loc.Latitude, loc.Longitude, next.Latitude, next.Longitude)
			if mins := eta.Minutes(dist, d.SpeedKmh); mins >= 0 {
				e.DistanceM = dist
				estimated := eta.ClockAfter(now, mins)
				e.Minutes = &mins
				e.EstimatedArrival = eta.FormatClock12(estimated)
				e.Punctuality = eta.Punctuality(next.ScheduledTime, estimated)
			}
		}
		d.NextStopETA = e
		if rep := s.weather.ForStops([]fleet.RouteStop{*next}); len(rep.Stops) == 1 {
			d.NextWeather = &rep.Stops[0]
		}
	}
	writeJSON(w, http.StatusOK, d)
}
