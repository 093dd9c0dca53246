package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bus-tracker/internal/fleet"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func rows() []fleet.FleetRow {
	return []fleet.FleetRow{
		{Bus: fleet.Bus{BusNumber: "AP07", RouteName: "Uppal"}, Passengers: 12, TotalStops: 5, CompletedStops: 2, LastUpdated: ago(30 * time.Second)},
		{Bus: fleet.Bus{BusNumber: "TS09", RouteName: "LB Nagar"}, Passengers: 3, TotalStops: 4, CompletedStops: 4, LastUpdated: ago(10 * time.Minute)},
		{Bus: fleet.Bus{BusNumber: "TS10"}, TotalStops: 0},
	}
}

func TestFleetSummary(t *testing.T) {
	s := FleetSummary(rows(), now, 2*time.Minute)
	require.Len(t, s, 3)
	assert.True(t, s[0].Online)
	assert.Equal(t, 3, s[0].RemainingStops)
	assert.False(t, s[1].Online)
	assert.Equal(t, 0, s[1].RemainingStops)
	assert.False(t, s[2].Online)
}

func TestBuildOverview(t *testing.T) {
	stops := []fleet.RouteStop{
		{BusNumber: "AP07", StopOrder: 1, ScheduledTime: "07:00", ArrivalTime: "07:02:10", Status: fleet.StatusDeparted},
		{BusNumber: "AP07", StopOrder: 2, ScheduledTime: "07:20", ArrivalTime: "07:30:00", Status: fleet.StatusDeparted},
		{BusNumber: "AP07", StopOrder: 3, ScheduledTime: "07:40", Status: fleet.StatusApproaching},
		{BusNumber: "TS09", StopOrder: 1, ScheduledTime: "07:00", DepartureTime: "06:58:00", Status: fleet.StatusDeparted},
		{BusNumber: "TS09", StopOrder: 2, ScheduledTime: "bad", ArrivalTime: "07:10:00", Status: fleet.StatusDeparted},
	}
	o := BuildOverview(FleetSummary(rows(), now, 2*time.Minute), stops, 2)
	assert.Equal(t, 3, o.TotalBuses)
	assert.Equal(t, 1, o.OnlineBuses)
	assert.Equal(t, 15, o.TotalPassengers)
	assert.Equal(t, 9, o.TotalStops)
	assert.Equal(t, 6, o.CompletedStops)
	assert.Equal(t, 2, o.OpenSOSAlerts)
	// (2 + 10 - 2) / 3
	assert.InDelta(t, 3.3, o.AvgDelayMinutes, 0.001)
	assert.Equal(t, []string{"AP07"}, o.DelayedBuses)
}

func TestStopDelay(t *testing.T) {
	_, ok := StopDelay(fleet.RouteStop{ScheduledTime: "07:00", ArrivalTime: "07:05", Status: fleet.StatusArrived})
	assert.False(t, ok)
	d, ok := StopDelay(fleet.RouteStop{ScheduledTime: "07:00", ArrivalTime: "07:05", Status: fleet.StatusDeparted})
	assert.True(t, ok)
	assert.Equal(t, 5, d)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, FleetSummary(rows(), now, 2*time.Minute), time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows(fleetSheet)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "Bus", got[0][0])
	assert.Equal(t, []string{"AP07", "Uppal", "", "", "12", "5", "2", "3", "yes", "2026-03-02 07:59:30"}, got[1])
	assert.Equal(t, "no", got[2][8])
}

func TestReadStopsXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	data := [][]any{
		{"order", "name", "lat", "lon", "scheduled"},
		{1, "LB Nagar", 17.3457, 78.5522, "07:00"},
		{2, "Uppal", 17.4058, 78.5591, "07:30"},
	}
	for i, row := range data {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	stops, err := ReadStopsXLSX(bytes.NewReader(buf.Bytes()), "TS09")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, "Uppal", stops[1].StopName)
	assert.Equal(t, "TS09", stops[1].BusNumber)
	assert.InDelta(t, 17.4058, stops[1].Latitude, 1e-9)
	assert.Equal(t, "07:30", stops[1].ScheduledTime)
	assert.Equal(t, fleet.StatusPending, stops[0].Status)
}

func TestReadStopsXLSXRejectsDisorder(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{{"h"}, {2, "B", 1.0, 1.0}, {1, "A", 1.0, 1.0}} {
		row := row
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	_, err = ReadStopsXLSX(&buf, "TS09")
	assert.ErrorContains(t, err, "stop_order")
}
