package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"bus-tracker/internal/fleet"
)

func (s *Store) GetProfile(ctx context.Context, username string, role fleet.Role) (fleet.Profile, error) {
	var p fleet.Profile
	var bus sql.NullString
	var r string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, role, bus_number, password_hash FROM profiles WHERE username = $1 AND role = $2`,
		username, string(role)).Scan(&p.Username, &r, &bus, &p.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.Profile{}, fmt.Errorf("profile %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return fleet.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	p.Role = fleet.Role(r)
	p.BusNumber = bus.String
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p fleet.Profile) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (username, role, bus_number, password_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username, role) DO UPDATE
SET bus_number = EXCLUDED.bus_number, password_hash = EXCLUDED.password_hash`,
		p.Username, string(p.Role), nullString(p.BusNumber), p.PasswordHash)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Username, err)
	}
	return nil
}

// Seed is the fixture format read by ReadSeed.
type Seed struct {
	Buses []struct {
		fleet.Bus
		Stops []fleet.RouteStop `json:"stops"`
	} `json:"buses"`
	Profiles []struct {
		Username     string `json:"username"`
		Role         string `json:"role"`
		BusNumber    string `json:"bus_number"`
		PasswordHash string `json:"password_sha256"`
	} `json:"profiles"`
}

func ReadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sd Seed
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &sd, nil
}

// Apply writes the fixture; buses and profiles are upserted and each
// bus's route is replaced.
func (sd *Seed) Apply(ctx context.Context, s *Store) error {
	for _, b := range sd.Buses {
		if b.BusNumber == "" {
			return errors.New("seed bus without bus_number")
		}
		if err := s.UpsertBus(ctx, b.Bus); err != nil {
			return err
		}
		stops := make([]fleet.RouteStop, len(b.Stops))
		for i, st := range b.Stops {
			st.BusNumber = b.BusNumber
			stops[i] = st
		}
		if err := s.ReplaceStops(ctx, b.BusNumber, stops); err != nil {
			return fmt.Errorf("seed stops of %s: %w", b.BusNumber, err)
		}
	}
	for _, p := range sd.Profiles {
		role, err := fleet.ParseRole(p.Role)
		if err != nil {
			return err
		}
		if role == fleet.RoleDriver && p.BusNumber == "" {
			return fmt.Errorf("seed driver %s has no bus", p.Username)
		}
		prof := fleet.Profile{Username: p.Username, Role: role, BusNumber: p.BusNumber, PasswordHash: p.PasswordHash}
		if err := s.UpsertProfile(ctx, prof); err != nil {
			return err
		}
	}
	return nil
}
