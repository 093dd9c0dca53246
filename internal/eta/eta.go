package eta

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bus-tracker/internal/fleet"
)

const (
	DefaultSpeedKmh  = 30.0
	RushHourSpeedKmh = 20.0
	HotSpeedKmh      = 25.0
	CoolSpeedKmh     = 28.0

	// PunctualityWindow is how far (in minutes) an estimate may drift from
	// the schedule before it counts as early or delayed.
	PunctualityWindow = 5
)

const (
	PlaceholderNoTime      = "Time not available"
	PlaceholderInvalidTime = "Invalid time format"
	PlaceholderDelayed     = "Delayed"
	PlaceholderDestination = "Arrived at destination"
	PunctualityOnTime      = "On Time"
	PunctualityEarly       = "Early"
	PunctualityDelayed     = "Delayed"
	PunctualityUnknown     = "Unknown"
)

var ErrInvalidClock = errors.New("invalid clock string")

// SpeedKmh is the assumed average speed for the given wall-clock time and
// weather condition. A hot or cool condition overrides the rush-hour speed.
func SpeedKmh(now time.Time, condition string) float64 {
	speed := DefaultSpeedKmh
	h := now.Hour()
	if (h >= 7 && h <= 9) || (h >= 17 && h <= 19) {
		speed = RushHourSpeedKmh
	}
	switch strings.ToLower(condition) {
	case "hot":
		speed = HotSpeedKmh
	case "cool":
		speed = CoolSpeedKmh
	}
	return speed
}

// Minutes converts a distance in meters at speedKmh into whole minutes.
// A non-positive speed or malformed distance returns -1.
func Minutes(distanceM, speedKmh float64) int {
	if speedKmh <= 0 || distanceM < 0 || math.IsNaN(distanceM) || math.IsInf(distanceM, 0) {
		return -1
	}
	perMinute := speedKmh * 1000 / 60
	return int(math.Round(distanceM / perMinute))
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Hours past 23 are accepted, as schedules may run past midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
	}
	return h*60 + m, nil
}

// BetweenStops is the scheduled minutes from stop a to stop b.
func BetweenStops(a, b string) (int, error) {
	ma, err := ParseClock(a)
	if err != nil {
		return 0, err
	}
	mb, err := ParseClock(b)
	if err != nil {
		return 0, err
	}
	return mb - ma, nil
}

// UntilScheduled renders the minutes from now until the scheduled clock
// time on now's day. It never fails: bad input yields a placeholder.
func UntilScheduled(now time.Time, scheduled string) string {
	if strings.TrimSpace(scheduled) == "" {
		return PlaceholderNoTime
	}
	mins, err := ParseClock(scheduled)
	if err != nil {
		return PlaceholderInvalidTime
	}
	y, mo, d := now.Date()
	at := time.Date(y, mo, d, 0, 0, 0, 0, now.Location()).Add(time.Duration(mins) * time.Minute)
	diff := int(math.Floor(at.Sub(now).Minutes()))
	if diff < 0 {
		return PlaceholderDelayed
	}
	return fmt.Sprintf("%d minutes", diff)
}

// Punctuality compares an estimated clock time with the scheduled one.
func Punctuality(scheduled, estimated string) string {
	s, err := ParseClock(scheduled)
	if err != nil {
		return PunctualityUnknown
	}
	e, err := ParseClock(estimated)
	if err != nil {
		return PunctualityUnknown
	}
	switch diff := e - s; {
	case diff > PunctualityWindow:
		return PunctualityDelayed
	case diff < -PunctualityWindow:
		return PunctualityEarly
	default:
		return PunctualityOnTime
	}
}

// FormatClock12 renders "HH:MM[:SS]" as "h:MM AM". Malformed input is
// returned unchanged.
func FormatClock12(s string) string {
	mins, err := ParseClock(s)
	if err != nil {
		return s
	}
	h := (mins / 60) % 24
	m := mins % 60
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, ampm)
}

// ClockAfter returns the "HH:MM" clock minutes after now.
func ClockAfter(now time.Time, minutes int) string {
	return now.Add(time.Duration(minutes) * time.Minute).Format("15:04")
}

type Progress struct {
	Completed int              `json:"completed_stops"`
	Remaining int              `json:"remaining_stops"`
	Current   *fleet.RouteStop `json:"current_stop,omitempty"`
	Next      *fleet.RouteStop `json:"next_stop,omitempty"`
}

// ScheduleProgress walks the ordered stops and counts those whose scheduled
// time is already behind now. Stops with malformed times are skipped over.
func ScheduleProgress(stops []fleet.RouteStop, now time.Time) Progress {
	cur := now.Hour()*60 + now.Minute()
	var p Progress
	for i := range stops {
		mins, err := ParseClock(stops[i].ScheduledTime)
		if err != nil {
			continue
		}
		if mins < cur {
			p.Completed++
			p.Current = &stops[i]
			continue
		}
		p.Next = &stops[i]
		break
	}
	p.Remaining = len(stops) - p.Completed
	return p
}
