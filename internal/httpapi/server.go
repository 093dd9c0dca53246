// Package httpapi serves the REST API used by the student, driver and admin
// apps, plus the websocket endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/routing"
	"bus-tracker/internal/session"
	"bus-tracker/internal/sos"
	"bus-tracker/internal/weather"
)

type Store interface {
	auth.ProfileStore
	ListBuses(ctx context.Context) ([]fleet.Bus, error)
	GetBus(ctx context.Context, busNumber string) (fleet.Bus, error)
	ListStops(ctx context.Context, busNumber string) ([]fleet.RouteStop, error)
	ListAllStops(ctx context.Context) ([]fleet.RouteStop, error)
	ReplaceStops(ctx context.Context, busNumber string, stops []fleet.RouteStop) error
	LatestLocation(ctx context.Context, busNumber string) (fleet.BusLocation, error)
	LocationHistory(ctx context.Context, busNumber string, since time.Time, limit int) ([]fleet.BusLocation, error)
	PassengerCount(ctx context.Context, busNumber string) (fleet.PassengerCount, error)
	FleetRows(ctx context.Context) ([]fleet.FleetRow, error)
	Ping(ctx context.Context) error
}

type Ingester interface {
	Location(ctx context.Context, source string, loc fleet.BusLocation) (bool, error)
	Board(ctx context.Context, busNumber, studentID string) (fleet.PassengerCount, bool, error)
}

type Alerts interface {
	Get(ctx context.Context, id string) (fleet.SOSAlert, error)
	Open(ctx context.Context, busNumber string) ([]fleet.SOSAlert, error)
	Acknowledge(ctx context.Context, id string) (fleet.SOSAlert, error)
	Dismiss(ctx context.Context, id string) (fleet.SOSAlert, error)
}

type Countdown interface {
	Arm(req sos.Request) (time.Time, error)
	Cancel(studentID string) error
}

type Sessions interface {
	Get(ctx context.Context, subject string) (session.Session, error)
	Login(ctx context.Context, subject, role string) error
	Logout(ctx context.Context, subject string) error
	SetTheme(ctx context.Context, subject string, dark bool) error
	Remember(ctx context.Context, subject, username string) error
}

type Router interface {
	RouteThrough(ctx context.Context, stops []fleet.RouteStop) (routing.Route, error)
}

type Metrics interface {
	HTTPObserve(route string, code int, d time.Duration)
}

type Options struct {
	Store     Store
	Ingest    Ingester
	Alerts    Alerts
	Countdown Countdown
	Sessions  Sessions // nil disables the session endpoints
	Router    Router   // nil serves straight stop-to-stop lines
	Weather   *weather.Simulator
	Tokens    *auth.Manager
	Realtime  http.Handler
	Metrics   Metrics

	Location       *time.Location
	StaleAfter     time.Duration
	FetchDelay     time.Duration
	AllowedOrigins []string
}

type Server struct {
	store      Store
	ingest     Ingester
	alerts     Alerts
	countdown  Countdown
	sessions   Sessions
	router     Router
	weather    *weather.Simulator
	tokens     *auth.Manager
	realtime   http.Handler
	metrics    Metrics
	tz         *time.Location
	staleAfter time.Duration
	fetchDelay time.Duration
	origins    []string
	now        func() time.Time
}

func New(o Options) *Server {
	s := &Server{
		store:      o.Store,
		ingest:     o.Ingest,
		alerts:     o.Alerts,
		countdown:  o.Countdown,
		sessions:   o.Sessions,
		router:     o.Router,
		weather:    o.Weather,
		tokens:     o.Tokens,
		realtime:   o.Realtime,
		metrics:    o.Metrics,
		tz:         o.Location,
		staleAfter: o.StaleAfter,
		fetchDelay: o.FetchDelay,
		origins:    o.AllowedOrigins,
		now:        time.Now,
	}
	if s.tz == nil {
		s.tz = time.Local
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 2 * time.Minute
	}
	if s.fetchDelay <= 0 {
		s.fetchDelay = 2 * time.Second
	}
	if s.weather == nil {
		s.weather = weather.NewSimulator(time.Now().UnixNano())
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s
}

// with guards h behind a token of one of roles (any role when none given).
func (s *Server) with(h http.HandlerFunc, roles ...fleet.Role) http.Handler {
	return s.tokens.Middleware(roles...)(h)
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(RecoveryMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.realtime != nil {
		r.Handle("/ws", s.realtime).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.login).Methods(http.MethodPost)
	api.Handle("/logout", s.with(s.logout)).Methods(http.MethodPost)

	api.Handle("/session", s.with(s.getSession)).Methods(http.MethodGet)
	api.Handle("/session/theme", s.with(s.setTheme)).Methods(http.MethodPut)
	api.Handle("/session/remember", s.with(s.remember)).Methods(http.MethodPut)

	api.Handle("/buses", s.with(s.listBuses)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}", s.with(s.busDetail)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/stops", s.with(s.listStops)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/stops", s.with(s.replaceStops, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodPut)
	api.Handle("/buses/{bus}/route", s.with(s.route)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/weather", s.with(s.stopWeather)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/location", s.with(s.location)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/location", s.with(s.postLocation, fleet.RoleDriver)).Methods(http.MethodPost)
	api.Handle("/buses/{bus}/history", s.with(s.history, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/passengers", s.with(s.passengers)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/passengers", s.with(s.board, fleet.RoleStudent)).Methods(http.MethodPost)
	api.Handle("/buses/{bus}/sos", s.with(s.openAlerts, fleet.RoleDriver, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodGet)
	api.Handle("/buses/{bus}/sos", s.with(s.armSOS, fleet.RoleStudent)).Methods(http.MethodPost)
	api.Handle("/buses/{bus}/sos", s.with(s.cancelSOS, fleet.RoleStudent)).Methods(http.MethodDelete)

	api.Handle("/sos/{id}/acknowledge", s.with(s.acknowledge, fleet.RoleDriver)).Methods(http.MethodPost)
	api.Handle("/sos/{id}/dismiss", s.with(s.dismiss, fleet.RoleDriver)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/fleet", s.with(s.fleet, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodGet)
	admin.Handle("/fleet.xlsx", s.with(s.fleetXLSX, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodGet)
	admin.Handle("/overview", s.with(s.overview, fleet.RoleAdmin, fleet.RoleKing)).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Origin"},
		ExposedHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
