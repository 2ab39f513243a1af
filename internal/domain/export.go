package domain

import "time"

// ExportRow is one line of the logbook export: a finished trip flattened to
// the columns a driver's logbook keeps. Day is the user-local calendar day
// the trip started on, formatted with DayStampLayout.
type ExportRow struct {
	TripID         int64
	Day            string
	StartTime      time.Time
	EndTime        time.Time
	StartAddress   string
	EndAddress     string
	DistanceKm     float64
	DistanceSource DistanceSource
	Points         int
}
