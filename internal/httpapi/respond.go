package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/db"
	"bus-tracker/internal/ingest"
	"bus-tracker/internal/sos"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code. Unknown errors are logged and reported
// as 500 without their text.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, sos.ErrNoCountdown):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrNoBusAssigned):
		status = http.StatusForbidden
	case errors.Is(err, sos.ErrAlertClosed), errors.Is(err, sos.ErrCountdownActive), errors.Is(err, db.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, sos.ErrInvalid), errors.Is(err, ingest.ErrInvalidLocation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
