package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"bus-tracker/internal/report"
)

func (s *Server) fleetSummary(r *http.Request) ([]report.BusSummary, error) {
	rows, err := s.store.FleetRows(r.Context())
	if err != nil {
		return nil, err
	}
	return report.FleetSummary(rows, s.now(), s.staleAfter), nil
}

func (s *Server) fleet(w http.ResponseWriter, r *http.Request) {
	sum, err := s.fleetSummary(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) fleetXLSX(w http.ResponseWriter, r *http.Request) {
	sum, err := s.fleetSummary(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, sum, s.tz); err != nil {
		fail(w, r, err)
		return
	}
	name := "fleet-" + s.now().In(s.tz).Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	sum, err := s.fleetSummary(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	stops, err := s.store.ListAllStops(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	open, err := s.alerts.Open(r.Context(), "")
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.BuildOverview(sum, stops, len(open)))
}
