package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bus-tracker/internal/fleet"
)

func (s *Store) PassengerCount(ctx context.Context, busNumber string) (fleet.PassengerCount, error) {
	pc := fleet.PassengerCount{BusNumber: busNumber}
	err := s.db.QueryRowContext(ctx,
		`SELECT passenger_count, last_updated FROM bus_passengers WHERE bus_number = $1`, busNumber).
		Scan(&pc.Count, &pc.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		// no boarding yet today
		return pc, nil
	}
	if err != nil {
		return fleet.PassengerCount{}, fmt.Errorf("query passengers: %w", err)
	}
	return pc, nil
}

// UpsertPassengerCount overwrites the count of a bus.
func (s *Store) UpsertPassengerCount(ctx context.Context, pc fleet.PassengerCount) error {
	if pc.Count < 0 {
		return fmt.Errorf("negative passenger count %d", pc.Count)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bus_passengers (bus_number, passenger_count, last_updated)
VALUES ($1, $2, $3)
ON CONFLICT (bus_number) DO UPDATE
SET passenger_count = EXCLUDED.passenger_count, last_updated = EXCLUDED.last_updated`,
		pc.BusNumber, pc.Count, pc.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert passengers %s: %w", pc.BusNumber, err)
	}
	return nil
}

// IncrementPassengers adds delta (which may be negative) and returns the
// new count, floored at zero.
func (s *Store) IncrementPassengers(ctx context.Context, busNumber string, delta int, at time.Time) (fleet.PassengerCount, error) {
	pc := fleet.PassengerCount{BusNumber: busNumber}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO bus_passengers (bus_number, passenger_count, last_updated)
VALUES ($1, GREATEST($2::int, 0), $3)
ON CONFLICT (bus_number) DO UPDATE
SET passenger_count = GREATEST(bus_passengers.passenger_count + $2::int, 0),
    last_updated = EXCLUDED.last_updated
RETURNING passenger_count, last_updated`, busNumber, delta, at).Scan(&pc.Count, &pc.LastUpdated)
	if err != nil {
		return fleet.PassengerCount{}, fmt.Errorf("increment passengers %s: %w", busNumber, err)
	}
	return pc, nil
}

// RecordAttendance stores a boarding unless the student already boarded the
// same bus on a.Day. first reports whether this call inserted the row; the
// unique (student, bus, day) index settles concurrent boardings.
func (s *Store) RecordAttendance(ctx context.Context, a fleet.Attendance) (first bool, err error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO attendance (student_id, bus_number, boarded_at, board_day)
VALUES ($1, $2, $3, $4::date)
ON CONFLICT (student_id, bus_number, board_day) DO NOTHING`,
		a.StudentID, a.BusNumber, a.BoardedAt, a.Day)
	if err != nil {
		return false, fmt.Errorf("record attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record attendance: %w", err)
	}
	return n == 1, nil
}
