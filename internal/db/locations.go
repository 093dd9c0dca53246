package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"bus-tracker/internal/fleet"
)

// MaxFetchAttempts caps the retries of FetchLatestLocationWithRetry.
const MaxFetchAttempts = 3

// UpsertLocation stores loc as the latest position of its bus and appends
// it to the history. The latest row is only replaced by a sample that is at
// least as new; the returned bool reports whether it was.
func (s *Store) UpsertLocation(ctx context.Context, loc fleet.BusLocation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO bus_locations (bus_number, latitude, longitude, speed, heading, accuracy, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (bus_number) DO UPDATE
SET latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    speed = EXCLUDED.speed,
    heading = EXCLUDED.heading,
    accuracy = EXCLUDED.accuracy,
    last_updated = EXCLUDED.last_updated
WHERE bus_locations.last_updated <= EXCLUDED.last_updated`,
		loc.BusNumber, loc.Latitude, loc.Longitude,
		nullFloat(loc.Speed), nullFloat(loc.Heading), nullFloat(loc.Accuracy), loc.LastUpdated)
	if err != nil {
		return false, fmt.Errorf("upsert location %s: %w", loc.BusNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO location_history (bus_number, latitude, longitude, speed, heading, accuracy, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		loc.BusNumber, loc.Latitude, loc.Longitude,
		nullFloat(loc.Speed), nullFloat(loc.Heading), nullFloat(loc.Accuracy), loc.LastUpdated)
	if err != nil {
		return false, fmt.Errorf("append history %s: %w", loc.BusNumber, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) LatestLocation(ctx context.Context, busNumber string) (fleet.BusLocation, error) {
	var loc fleet.BusLocation
	var speed, heading, accuracy sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
SELECT bus_number, latitude, longitude, speed, heading, accuracy, last_updated
FROM bus_locations WHERE bus_number = $1`, busNumber).
		Scan(&loc.BusNumber, &loc.Latitude, &loc.Longitude, &speed, &heading, &accuracy, &loc.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.BusLocation{}, fmt.Errorf("location of %q: %w", busNumber, ErrNotFound)
	}
	if err != nil {
		return fleet.BusLocation{}, fmt.Errorf("query location: %w", err)
	}
	loc.Speed, loc.Heading, loc.Accuracy = floatPtr(speed), floatPtr(heading), floatPtr(accuracy)
	return loc, nil
}

// LocationHistory returns up to limit samples recorded since the given
// time, newest first.
func (s *Store) LocationHistory(ctx context.Context, busNumber string, since time.Time, limit int) ([]fleet.BusLocation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT bus_number, latitude, longitude, speed, heading, accuracy, recorded_at
FROM location_history
WHERE bus_number = $1 AND recorded_at >= $2
ORDER BY recorded_at DESC
LIMIT $3`, busNumber, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []fleet.BusLocation
	for rows.Next() {
		var loc fleet.BusLocation
		var speed, heading, accuracy sql.NullFloat64
		if err := rows.Scan(&loc.BusNumber, &loc.Latitude, &loc.Longitude, &speed, &heading, &accuracy, &loc.LastUpdated); err != nil {
			return nil, err
		}
		loc.Speed, loc.Heading, loc.Accuracy = floatPtr(speed), floatPtr(heading), floatPtr(accuracy)
		out = append(out, loc)
	}
	return out, rows.Err()
}

type LocationSource interface {
	LatestLocation(ctx context.Context, busNumber string) (fleet.BusLocation, error)
}

// FetchLatestLocationWithRetry reads the latest location, retrying up to
// MaxFetchAttempts times with a fixed delay. ErrNotFound is final and is
// not retried.
func FetchLatestLocationWithRetry(ctx context.Context, src LocationSource, busNumber string, delay time.Duration) (fleet.BusLocation, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxFetchAttempts; attempt++ {
		loc, err := src.LatestLocation(ctx, busNumber)
		if err == nil {
			return loc, nil
		}
		if errors.Is(err, ErrNotFound) {
			return fleet.BusLocation{}, err
		}
		lastErr = err
		if attempt == MaxFetchAttempts {
			break
		}
		log.Printf("bus %s: location fetch attempt %d of %d failed: %v", busNumber, attempt, MaxFetchAttempts, err)
		select {
		case <-ctx.Done():
			return fleet.BusLocation{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return fleet.BusLocation{}, fmt.Errorf("location of %q after %d attempts: %w", busNumber, MaxFetchAttempts, lastErr)
}
