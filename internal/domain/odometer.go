package domain

import (
	"encoding/json"
	"time"
)

// DayStampLayout is the calendar-day format stored in OdometerState.DayStamp.
const DayStampLayout = "2006-01-02"

// OdometerState holds the manually entered odometer readings of one user.
// All readings are nil until the first save. DayStamp is the user-local
// calendar day of the last reading.
type OdometerState struct {
	CurrentReading           *float64   `json:"currentReading"`
	StartOfDayReading        *float64   `json:"startOfDayReading"`
	InitialStartOfDayReading *float64   `json:"initialStartOfDayReading"`
	DayStamp                 *string    `json:"dayStamp"`
	LastUpdated              *time.Time `json:"lastUpdated"`
}

// UserState is the per-user document kept next to the trip collection.
// Fields hold raw JSON so a malformed entry can be reset without losing the
// rest of the document.
type UserState struct {
	Odometer json.RawMessage `json:"odometer,omitempty"`
}

// DaySummary compares the distance shown by the odometer for one day with
// the distance recorded by trips on that day.
type DaySummary struct {
	Day          string  `json:"day"`
	OdometerKm   float64 `json:"odometerKm"`
	RecordedKm   float64 `json:"recordedKm"`
	DifferenceKm float64 `json:"differenceKm"`
	TripCount    int     `json:"tripCount"`
}
