package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bus-tracker/internal/fleet"
)

const sosColumns = `id::text, bus_number, student_id, latitude, longitude, status, action_taken, created_at, updated_at`

func scanSOS(row interface{ Scan(...any) error }) (fleet.SOSAlert, error) {
	var a fleet.SOSAlert
	var status string
	err := row.Scan(&a.ID, &a.BusNumber, &a.StudentID, &a.Latitude, &a.Longitude, &status, &a.ActionTaken, &a.CreatedAt, &a.UpdatedAt)
	a.Status = fleet.SOSStatus(status)
	return a, err
}

func (s *Store) InsertSOS(ctx context.Context, a fleet.SOSAlert) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sos_alerts (id, bus_number, student_id, latitude, longitude, status, action_taken, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.BusNumber, a.StudentID, a.Latitude, a.Longitude, string(a.Status), a.ActionTaken, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sos: %w", err)
	}
	return nil
}

func (s *Store) GetSOS(ctx context.Context, id string) (fleet.SOSAlert, error) {
	a, err := scanSOS(s.db.QueryRowContext(ctx, `SELECT `+sosColumns+` FROM sos_alerts WHERE id::text = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.SOSAlert{}, fmt.Errorf("sos %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fleet.SOSAlert{}, fmt.Errorf("query sos: %w", err)
	}
	return a, nil
}

// CloseSOS moves an open alert to status. A missing alert yields
// ErrNotFound and an alert that is no longer open yields ErrStale.
func (s *Store) CloseSOS(ctx context.Context, id string, status fleet.SOSStatus, action string, at time.Time) (fleet.SOSAlert, error) {
	a, err := scanSOS(s.db.QueryRowContext(ctx, `
UPDATE sos_alerts SET status = $2, action_taken = $3, updated_at = $4
WHERE id::text = $1 AND status = 'open'
RETURNING `+sosColumns, id, string(status), action, at))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fleet.SOSAlert{}, fmt.Errorf("close sos: %w", err)
	}
	if _, err := s.GetSOS(ctx, id); err != nil {
		return fleet.SOSAlert{}, err
	}
	return fleet.SOSAlert{}, fmt.Errorf("sos %q: %w", id, ErrStale)
}

// OpenSOS lists open alerts, newest first. An empty busNumber lists all.
func (s *Store) OpenSOS(ctx context.Context, busNumber string) ([]fleet.SOSAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sosColumns+` FROM sos_alerts
WHERE status = 'open' AND ($1 = '' OR bus_number = $1)
ORDER BY created_at DESC`, busNumber)
	if err != nil {
		return nil, fmt.Errorf("query open sos: %w", err)
	}
	defer rows.Close()
	var out []fleet.SOSAlert
	for rows.Next() {
		a, err := scanSOS(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
