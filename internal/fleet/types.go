package fleet

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Bus struct {
	BusNumber     string `json:"bus_number"`
	RouteName     string `json:"route_name"`
	DriverName    string `json:"driver_name"`
	DriverContact string `json:"driver_contact"`
}

type StopStatus string

const (
	StatusPending     StopStatus = "pending"
	StatusApproaching StopStatus = "approaching"
	StatusArrived     StopStatus = "arrived"
	StatusDeparted    StopStatus = "departed"
)

// ParseStopStatus maps a stored status to a StopStatus. Empty or unknown
// values are read as pending so a freshly created stop row is usable.
func ParseStopStatus(s string) StopStatus {
	switch StopStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusApproaching:
		return StatusApproaching
	case StatusArrived:
		return StatusArrived
	case StatusDeparted:
		return StatusDeparted
	default:
		return StatusPending
	}
}

func (s StopStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproaching, StatusArrived, StatusDeparted:
		return true
	}
	return false
}

func (s StopStatus) Completed() bool { return s == StatusDeparted }

// Rank orders statuses along a single pass of the bus past a stop.
func (s StopStatus) Rank() int {
	switch s {
	case StatusApproaching:
		return 1
	case StatusArrived:
		return 2
	case StatusDeparted:
		return 3
	default:
		return 0
	}
}

type RouteStop struct {
	BusNumber     string     `json:"bus_number"`
	StopName      string     `json:"stop_name"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	StopOrder     int        `json:"stop_order"`
	ScheduledTime string     `json:"scheduled_time"` // HH:MM
	ArrivalTime   string     `json:"arrival_time,omitempty"`
	DepartureTime string     `json:"departure_time,omitempty"`
	Status        StopStatus `json:"status"`
}

// ValidateStopOrder checks that stop_order is strictly increasing.
func ValidateStopOrder(stops []RouteStop) error {
	for i := 1; i < len(stops); i++ {
		if stops[i].StopOrder <= stops[i-1].StopOrder {
			return fmt.Errorf("stop_order not increasing at %q (%d after %d)", stops[i].StopName, stops[i].StopOrder, stops[i-1].StopOrder)
		}
	}
	return nil
}

type BusLocation struct {
	BusNumber   string    `json:"bus_number"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	LastUpdated time.Time `json:"last_updated"`
	Speed       *float64  `json:"speed,omitempty"`    // m/s
	Heading     *float64  `json:"heading,omitempty"`  // degrees
	Accuracy    *float64  `json:"accuracy,omitempty"` // meters
}

func (l BusLocation) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

type SOSStatus string

const (
	SOSOpen         SOSStatus = "open"
	SOSAcknowledged SOSStatus = "acknowledged"
	SOSDismissed    SOSStatus = "dismissed"
)

type SOSAlert struct {
	ID          string    `json:"id"`
	BusNumber   string    `json:"bus_number"`
	StudentID   string    `json:"student_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Status      SOSStatus `json:"status"`
	ActionTaken string    `json:"action_taken,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PassengerCount struct {
	BusNumber   string    `json:"bus_number"`
	Count       int       `json:"passenger_count"`
	LastUpdated time.Time `json:"last_updated"`
}

type Attendance struct {
	StudentID string    `json:"student_id"`
	BusNumber string    `json:"bus_number"`
	BoardedAt time.Time `json:"boarded_at"`
	Day       string    `json:"day"` // local date, 2006-01-02
}

type Role string

const (
	RoleStudent Role = "student"
	RoleDriver  Role = "driver"
	RoleAdmin   Role = "admin"
	RoleKing    Role = "king"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleDriver, RoleAdmin, RoleKing:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Profile struct {
	Username     string
	Role         Role
	BusNumber    string // drivers only
	PasswordHash string // hex sha256
}

// FleetRow is one bus with the counters shown on the admin fleet view.
type FleetRow struct {
	Bus
	Passengers     int        `json:"passenger_count"`
	TotalStops     int        `json:"total_stops"`
	CompletedStops int        `json:"completed_stops"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}
