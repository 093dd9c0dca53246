package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS buses (
  bus_number     TEXT PRIMARY KEY,
  route_name     TEXT NOT NULL DEFAULT '',
  driver_name    TEXT NOT NULL DEFAULT '',
  driver_contact TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS route_stops (
  bus_number     TEXT NOT NULL REFERENCES buses(bus_number) ON DELETE CASCADE,
  stop_order     INTEGER NOT NULL,
  stop_name      TEXT NOT NULL,
  latitude       DOUBLE PRECISION NOT NULL,
  longitude      DOUBLE PRECISION NOT NULL,
  scheduled_time TEXT NOT NULL DEFAULT '',
  arrival_time   TEXT,
  departure_time TEXT,
  status         TEXT NOT NULL DEFAULT 'pending',
  PRIMARY KEY (bus_number, stop_order)
)`,
	`CREATE TABLE IF NOT EXISTS bus_locations (
  bus_number   TEXT PRIMARY KEY,
  latitude     DOUBLE PRECISION NOT NULL,
  longitude    DOUBLE PRECISION NOT NULL,
  speed        DOUBLE PRECISION,
  heading      DOUBLE PRECISION,
  accuracy     DOUBLE PRECISION,
  last_updated TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS location_history (
  id          BIGSERIAL PRIMARY KEY,
  bus_number  TEXT NOT NULL,
  latitude    DOUBLE PRECISION NOT NULL,
  longitude   DOUBLE PRECISION NOT NULL,
  speed       DOUBLE PRECISION,
  heading     DOUBLE PRECISION,
  accuracy    DOUBLE PRECISION,
  recorded_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS location_history_bus_time_idx ON location_history (bus_number, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS bus_passengers (
  bus_number      TEXT PRIMARY KEY,
  passenger_count INTEGER NOT NULL DEFAULT 0 CHECK (passenger_count >= 0),
  last_updated    TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS attendance (
  id         BIGSERIAL PRIMARY KEY,
  student_id TEXT NOT NULL,
  bus_number TEXT NOT NULL,
  boarded_at TIMESTAMPTZ NOT NULL,
  board_day  DATE NOT NULL
)`,
	`ALTER TABLE attendance ADD COLUMN IF NOT EXISTS board_day DATE`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_student_bus_day_idx ON attendance (student_id, bus_number, board_day)`,
	`CREATE TABLE IF NOT EXISTS sos_alerts (
  id           UUID PRIMARY KEY,
  bus_number   TEXT NOT NULL,
  student_id   TEXT NOT NULL,
  latitude     DOUBLE PRECISION NOT NULL,
  longitude    DOUBLE PRECISION NOT NULL,
  status       TEXT NOT NULL DEFAULT 'open',
  action_taken TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL,
  updated_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS sos_alerts_open_idx ON sos_alerts (bus_number) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS profiles (
  username      TEXT NOT NULL,
  role          TEXT NOT NULL,
  bus_number    TEXT,
  password_hash TEXT NOT NULL,
  PRIMARY KEY (username, role)
)`,
}

// Migrate creates the tracker tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
