package report

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"bus-tracker/internal/fleet"
)

const fleetSheet = "Fleet"

var fleetHeader = []any{"Bus", "Route", "Driver", "Contact", "Passengers", "Total stops", "Completed stops", "Remaining stops", "Online", "Last update"}

// WriteXLSX renders the fleet summary as a one-sheet workbook.
func WriteXLSX(w io.Writer, rows []BusSummary, tz *time.Location) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("report: close workbook: %v", err)
		}
	}()
	if err := f.SetSheetName(f.GetSheetName(0), fleetSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(fleetSheet, "A1", &fleetHeader); err != nil {
		return err
	}
	for i, r := range rows {
		last := ""
		if r.LastUpdated != nil {
			last = r.LastUpdated.In(tz).Format("2006-01-02 15:04:05")
		}
		online := "no"
		if r.Online {
			online = "yes"
		}
		row := []any{r.BusNumber, r.RouteName, r.DriverName, r.DriverContact, r.Passengers,
			r.TotalStops, r.CompletedStops, r.RemainingStops, online, last}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(fleetSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(fleetSheet, "A", "J", 16); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

// ReadStopsXLSX parses a route from the first sheet of a workbook. Row 1 is
// a header; columns are order, name, latitude, longitude, scheduled time.
func ReadStopsXLSX(r io.Reader, busNumber string) ([]fleet.RouteStop, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("report: close workbook: %v", err)
		}
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	var stops []fleet.RouteStop
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) == 0 || strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: want order, name, latitude, longitude", i+1)
		}
		order, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad stop order %q", i+1, row[0])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad latitude %q", i+1, row[2])
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad longitude %q", i+1, row[3])
		}
		st := fleet.RouteStop{
			BusNumber: busNumber,
			StopOrder: order,
			StopName:  strings.TrimSpace(row[1]),
			Latitude:  lat,
			Longitude: lon,
			Status:    fleet.StatusPending,
		}
		if len(row) > 4 {
			st.ScheduledTime = strings.TrimSpace(row[4])
		}
		stops = append(stops, st)
	}
	if len(stops) == 0 {
		return nil, errors.New("no stops in workbook")
	}
	if err := fleet.ValidateStopOrder(stops); err != nil {
		return nil, err
	}
	return stops, nil
}
