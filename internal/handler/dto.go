package handler

import (
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/reconcile"
)

// Trip is the API representation of a recorded trip. Transient recorder
// fields are never exposed.
type Trip struct {
	ID               int64               `json:"id"`
	DocID            *openapi_types.UUID `json:"docId,omitempty"`
	StartTime        time.Time           `json:"startTime"`
	EndTime          *time.Time          `json:"endTime,omitempty"`
	StartLocation    *domain.GeoPoint    `json:"startLocation,omitempty"`
	EndLocation      *domain.GeoPoint    `json:"endLocation,omitempty"`
	StartAddress     string              `json:"startAddress,omitempty"`
	EndAddress       string              `json:"endAddress,omitempty"`
	RouteCoordinates []domain.GeoPoint   `json:"routeCoordinates"`
	Distance         float64             `json:"distance"`
	DistanceSource   string              `json:"distanceSource"`
	Active           bool                `json:"active"`
}

// TripList is returned by GET /trips.
type TripList struct {
	Trips     []Trip `json:"trips"`
	FromCache bool   `json:"fromCache"`
}

// TripViews is returned by GET /trips/views.
type TripViews struct {
	CurrentWeek []Trip `json:"currentWeek"`
	Past        []Trip `json:"past"`
	FromCache   bool   `json:"fromCache"`
}

// StopResponse is returned by POST /trip/stop. Warning is set when the trip
// could only be kept locally.
type StopResponse struct {
	Trip    Trip   `json:"trip"`
	Warning string `json:"warning,omitempty"`
}

// PositionRequest is the body of POST /trip/position.
type PositionRequest struct {
	Lat            *float64   `json:"lat"`
	Lng            *float64   `json:"lng"`
	AccuracyMeters *float64   `json:"accuracyMeters"`
	At             *time.Time `json:"at"`
}

// PositionResponse is returned by POST /trip/position.
type PositionResponse struct {
	Active bool  `json:"active"`
	Trip   *Trip `json:"trip,omitempty"`
}

// PassResult reports one reconciliation pass.
type PassResult struct {
	Changed    bool   `json:"changed"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	WriteError string `json:"writeError,omitempty"`
}

// ReconcileResponse is returned by POST /reconcile.
type ReconcileResponse struct {
	TripList
	GPS     PassResult `json:"gps"`
	Routing PassResult `json:"routing"`
}

// OdometerReadingRequest is the body of PUT /odometer and POST /odometer/confirm.
type OdometerReadingRequest struct {
	Reading *float64 `json:"reading"`
}

// Odometer is the API representation of the odometer state.
type Odometer struct {
	CurrentReading           *float64            `json:"currentReading"`
	StartOfDayReading        *float64            `json:"startOfDayReading"`
	InitialStartOfDayReading *float64            `json:"initialStartOfDayReading"`
	Day                      *openapi_types.Date `json:"day"`
	LastUpdated              *time.Time          `json:"lastUpdated"`
}

// DaySummary is returned by POST /odometer/confirm.
type DaySummary struct {
	Day          openapi_types.Date `json:"day"`
	OdometerKm   float64            `json:"odometerKm"`
	RecordedKm   float64            `json:"recordedKm"`
	DifferenceKm float64            `json:"differenceKm"`
	TripCount    int                `json:"tripCount"`
}

// ExportRow is one row of GET /trips/export in JSON form.
type ExportRow struct {
	TripID         int64              `json:"tripId"`
	Day            openapi_types.Date `json:"day"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        time.Time          `json:"endTime"`
	StartAddress   string             `json:"startAddress"`
	EndAddress     string             `json:"endAddress"`
	DistanceKm     float64            `json:"distanceKm"`
	DistanceSource string             `json:"distanceSource"`
	Points         int                `json:"points"`
}

// --- mapping helpers --------------------------------------------------------

func tripToResponse(t domain.Trip) Trip {
	out := Trip{
		ID:               t.ID,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		StartLocation:    t.StartLocation,
		EndLocation:      t.EndLocation,
		StartAddress:     t.StartAddress,
		EndAddress:       t.EndAddress,
		RouteCoordinates: t.RouteCoordinates,
		Distance:         t.Distance,
		DistanceSource:   string(t.DistanceSource),
		Active:           t.Active(),
	}
	if out.RouteCoordinates == nil {
		out.RouteCoordinates = []domain.GeoPoint{}
	}
	if id, err := uuid.Parse(t.DocID); err == nil {
		out.DocID = &id
	}
	return out
}

func tripsToResponse(trips []domain.Trip) []Trip {
	out := make([]Trip, len(trips))
	for i, t := range trips {
		out[i] = tripToResponse(t)
	}
	return out
}

func passToResponse(r reconcile.Result) PassResult {
	out := PassResult{Changed: r.Changed, Updated: r.Updated, Skipped: r.Skipped}
	if r.WriteErr != nil {
		out.WriteError = r.WriteErr.Error()
	}
	return out
}

func odometerToResponse(st domain.OdometerState) Odometer {
	out := Odometer{
		CurrentReading:           st.CurrentReading,
		StartOfDayReading:        st.StartOfDayReading,
		InitialStartOfDayReading: st.InitialStartOfDayReading,
		LastUpdated:              st.LastUpdated,
	}
	if st.DayStamp != nil {
		if d, ok := parseDay(*st.DayStamp); ok {
			out.Day = &d
		}
	}
	return out
}

// parseDay converts a DayStampLayout string into an openapi_types.Date.
func parseDay(s string) (openapi_types.Date, bool) {
	t, err := time.Parse(domain.DayStampLayout, s)
	if err != nil {
		return openapi_types.Date{}, false
	}
	return openapi_types.Date{Time: t}, true
}
