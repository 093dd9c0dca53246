package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bus-tracker/internal/fleet"
)

func (s *Store) ListBuses(ctx context.Context) ([]fleet.Bus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bus_number, route_name, driver_name, driver_contact FROM buses ORDER BY bus_number`)
	if err != nil {
		return nil, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()
	var out []fleet.Bus
	for rows.Next() {
		var b fleet.Bus
		if err := rows.Scan(&b.BusNumber, &b.RouteName, &b.DriverName, &b.DriverContact); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBus(ctx context.Context, busNumber string) (fleet.Bus, error) {
	var b fleet.Bus
	err := s.db.QueryRowContext(ctx,
		`SELECT bus_number, route_name, driver_name, driver_contact FROM buses WHERE bus_number = $1`, busNumber).
		Scan(&b.BusNumber, &b.RouteName, &b.DriverName, &b.DriverContact)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.Bus{}, fmt.Errorf("bus %q: %w", busNumber, ErrNotFound)
	}
	if err != nil {
		return fleet.Bus{}, fmt.Errorf("query bus: %w", err)
	}
	return b, nil
}

func (s *Store) UpsertBus(ctx context.Context, b fleet.Bus) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO buses (bus_number, route_name, driver_name, driver_contact)
VALUES ($1, $2, $3, $4)
ON CONFLICT (bus_number) DO UPDATE
SET route_name = EXCLUDED.route_name,
    driver_name = EXCLUDED.driver_name,
    driver_contact = EXCLUDED.driver_contact`,
		b.BusNumber, b.RouteName, b.DriverName, b.DriverContact)
	if err != nil {
		return fmt.Errorf("upsert bus %s: %w", b.BusNumber, err)
	}
	return nil
}

const stopColumns = `bus_number, stop_name, latitude, longitude, stop_order, scheduled_time,
       COALESCE(arrival_time, ''), COALESCE(departure_time, ''), status`

func scanStops(rows *sql.Rows) ([]fleet.RouteStop, error) {
	var out []fleet.RouteStop
	for rows.Next() {
		var st fleet.RouteStop
		var status string
		if err := rows.Scan(&st.BusNumber, &st.StopName, &st.Latitude, &st.Longitude, &st.StopOrder,
			&st.ScheduledTime, &st.ArrivalTime, &st.DepartureTime, &status); err != nil {
			return nil, err
		}
		st.Status = fleet.ParseStopStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListStops returns the route of one bus ordered by stop_order.
func (s *Store) ListStops(ctx context.Context, busNumber string) ([]fleet.RouteStop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stopColumns+` FROM route_stops WHERE bus_number = $1 ORDER BY stop_order`, busNumber)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	return scanStops(rows)
}

// ListAllStops returns every route stop grouped by bus, each route in
// stop_order.
func (s *Store) ListAllStops(ctx context.Context) ([]fleet.RouteStop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stopColumns+` FROM route_stops ORDER BY bus_number, stop_order`)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	return scanStops(rows)
}

// ReplaceStops swaps the whole route of a bus in one transaction.
func (s *Store) ReplaceStops(ctx context.Context, busNumber string, stops []fleet.RouteStop) error {
	if err := fleet.ValidateStopOrder(stops); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM route_stops WHERE bus_number = $1`, busNumber); err != nil {
		return fmt.Errorf("clear stops: %w", err)
	}
	for _, st := range stops {
		status := st.Status
		if !status.Valid() {
			status = fleet.StatusPending
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO route_stops (bus_number, stop_order, stop_name, latitude, longitude, scheduled_time, arrival_time, departure_time, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			busNumber, st.StopOrder, st.StopName, st.Latitude, st.Longitude, st.ScheduledTime,
			nullString(st.ArrivalTime), nullString(st.DepartureTime), string(status))
		if err != nil {
			return fmt.Errorf("insert stop %d: %w", st.StopOrder, err)
		}
	}
	return tx.Commit()
}

// UpdateStopStatus moves one stop from -> to and stamps the arrival or
// departure clock. The update only applies while the stored status still
// equals from; otherwise ErrStale is returned so a concurrent writer can
// never move a stop backward.
func (s *Store) UpdateStopStatus(ctx context.Context, busNumber string, stopOrder int, from, to fleet.StopStatus, clock string) error {
	q := `UPDATE route_stops SET status = $4 WHERE bus_number = $1 AND stop_order = $2 AND status = $3`
	switch to {
	case fleet.StatusArrived:
		q = `UPDATE route_stops SET status = $4, arrival_time = $5 WHERE bus_number = $1 AND stop_order = $2 AND status = $3`
	case fleet.StatusDeparted:
		q = `UPDATE route_stops SET status = $4, departure_time = $5 WHERE bus_number = $1 AND stop_order = $2 AND status = $3`
	}
	args := []any{busNumber, stopOrder, string(from), string(to)}
	if to == fleet.StatusArrived || to == fleet.StatusDeparted {
		args = append(args, clock)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update stop %s/%d: %w", busNumber, stopOrder, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stop %s/%d not %s: %w", busNumber, stopOrder, from, ErrStale)
	}
	return nil
}

// ResetStops puts every stop of a bus back to pending for a new run.
func (s *Store) ResetStops(ctx context.Context, busNumber string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE route_stops SET status = 'pending', arrival_time = NULL, departure_time = NULL WHERE bus_number = $1`, busNumber)
	if err != nil {
		return fmt.Errorf("reset stops %s: %w", busNumber, err)
	}
	return nil
}

// FleetRows lists every bus with its passenger count, stop counters and
// the time of its latest location.
func (s *Store) FleetRows(ctx context.Context) ([]fleet.FleetRow, error) {
	q := `
SELECT b.bus_number, b.route_name, b.driver_name, b.driver_contact,
       COALESCE(p.passenger_count, 0),
       COUNT(st.stop_order),
       COUNT(st.stop_order) FILTER (WHERE st.status = 'departed'),
       l.last_updated
FROM buses b
LEFT JOIN bus_passengers p ON p.bus_number = b.bus_number
LEFT JOIN route_stops st ON st.bus_number = b.bus_number
LEFT JOIN bus_locations l ON l.bus_number = b.bus_number
GROUP BY b.bus_number, b.route_name, b.driver_name, b.driver_contact, p.passenger_count, l.last_updated
ORDER BY b.bus_number`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query fleet: %w", err)
	}
	defer rows.Close()
	var out []fleet.FleetRow
	for rows.Next() {
		var r fleet.FleetRow
		var last sql.NullTime
		if err := rows.Scan(&r.BusNumber, &r.RouteName, &r.DriverName, &r.DriverContact,
			&r.Passengers, &r.TotalStops, &r.CompletedStops, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			r.LastUpdated = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
