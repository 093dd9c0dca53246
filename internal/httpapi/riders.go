package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/sos"
)

type locationRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
	Heading   *float64   `json:"heading,omitempty"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
}

// ownBus rejects drivers acting on a bus other than their own.
func ownBus(w http.ResponseWriter, r *http.Request, bus string) (*auth.Claims, bool) {
	c, _ := auth.FromContext(r.Context())
	if c.Role == fleet.RoleDriver && c.BusNumber != bus {
		writeError(w, http.StatusForbidden, "not your bus")
		return nil, false
	}
	return c, true
}

func (s *Server) postLocation(w http.ResponseWriter, r *http.Request) {
	bus := busParam(r)
	if _, ok := ownBus(w, r, bus); !ok {
		return
	}
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := fleet.BusLocation{
		BusNumber: bus,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Speed:     req.Speed,
		Heading:   req.Heading,
		Accuracy:  req.Accuracy,
	}
	if req.Timestamp != nil {
		loc.LastUpdated = *req.Timestamp
	}
	applied, err := s.ingest.Location(r.Context(), "driver", loc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	bus := busParam(r)
	if _, err := s.store.GetBus(r.Context(), bus); err != nil {
		fail(w, r, err)
		return
	}
	c, _ := auth.FromContext(r.Context())
	pc, counted, err := s.ingest.Board(r.Context(), bus, c.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		fleet.PassengerCount
		Counted bool `json:"counted"`
	}{pc, counted})
}

func (s *Server) armSOS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bus := busParam(r)
	if _, err := s.store.GetBus(r.Context(), bus); err != nil {
		fail(w, r, err)
		return
	}
	c, _ := auth.FromContext(r.Context())
	firesAt, err := s.countdown.Arm(sos.Request{
		BusNumber: bus,
		StudentID: c.UserID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]time.Time{"fires_at": firesAt})
}

func (s *Server) cancelSOS(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.FromContext(r.Context())
	if err := s.countdown.Cancel(c.UserID); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) openAlerts(w http.ResponseWriter, r *http.Request) {
	bus := busParam(r)
	if _, ok := ownBus(w, r, bus); !ok {
		return
	}
	alerts, err := s.alerts.Open(r.Context(), bus)
	if err != nil {
		fail(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []fleet.SOSAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.alerts.Acknowledge)
}

func (s *Server) dismiss(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.alerts.Dismiss)
}

func (s *Server) closeAlert(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) (fleet.SOSAlert, error)) {
	id := mux.Vars(r)["id"]
	a, err := s.alerts.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, ok := ownBus(w, r, a.BusNumber); !ok {
		return
	}
	a, err = apply(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
