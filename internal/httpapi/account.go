package httpapi

import (
	"log"
	"net/http"
	"time"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/fleet"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Username  string     `json:"username"`
	Role      fleet.Role `json:"role"`
	BusNumber string     `json:"bus_number,omitempty"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := fleet.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := auth.Authenticate(r.Context(), s.store, req.Username, role, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	token, exp, err := s.tokens.Issue(p.Username, p.Role, p.BusNumber)
	if err != nil {
		fail(w, r, err)
		return
	}

	if s.sessions != nil {
		subject := (&auth.Claims{UserID: p.Username, Role: p.Role}).Subject()
		if err := s.sessions.Login(r.Context(), subject, string(p.Role)); err != nil {
			log.Printf("session login %s: %v", subject, err)
		}
		remembered := ""
		if req.Remember {
			remembered = p.Username
		}
		if err := s.sessions.Remember(r.Context(), subject, remembered); err != nil {
			log.Printf("session remember %s: %v", subject, err)
		}
	}
	log.Printf("login: %s as %s", p.Username, p.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, Username: p.Username, Role: p.Role, BusNumber: p.BusNumber})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.FromContext(r.Context())
	if s.sessions != nil {
		if err := s.sessions.Logout(r.Context(), c.Subject()); err != nil {
			fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) sessionsEnabled(w http.ResponseWriter) bool {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return false
	}
	return true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	c, _ := auth.FromContext(r.Context())
	se, err := s.sessions.Get(r.Context(), c.Subject())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, se)
}

func (s *Server) setTheme(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	var req struct {
		DarkMode bool `json:"dark_mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, _ := auth.FromContext(r.Context())
	if err := s.sessions.SetTheme(r.Context(), c.Subject(), req.DarkMode); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dark_mode": req.DarkMode})
}

func (s *Server) remember(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, _ := auth.FromContext(r.Context())
	if err := s.sessions.Remember(r.Context(), c.Subject(), req.Username); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"remembered_username": req.Username})
}
