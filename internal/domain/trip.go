// Package domain contains the core data types for the trip log.
// This package has zero external dependencies and is imported by every other
// internal package (repo, recorder, reconcile, service, handler).
package domain

import (
	"math"
	"time"
)

// SchemaVersion is written into every trip serialized by this module.
// Content without a version (or version 1) predates the transient fields
// and the distance source tag and is normalized by DecodeTrip.
const SchemaVersion = 2

// UnknownAddress is stored when reverse geocoding fails outright.
const UnknownAddress = "Unbekannte Adresse"

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite and within range.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Fix is a single positioning sample. AccuracyMeters is nil when the
// positioning source did not report one.
type Fix struct {
	Point          GeoPoint  `json:"point"`
	AccuracyMeters *float64  `json:"accuracyMeters,omitempty"`
	At             time.Time `json:"at"`
}

// DistanceSource tags which method last produced Trip.Distance.
type DistanceSource string

const (
	// SourceGPS means the distance was summed from recorded GPS points.
	SourceGPS DistanceSource = "GPS_RAW"
	// SourceRouted means the distance came from an external routing provider.
	SourceRouted DistanceSource = "ROUTED"
)

// Trip is one recorded drive from start to stop.
// EndTime and EndLocation are nil while the trip is still active.
// PendingDistanceKm and LastRecordedLocation only exist on active trips and
// are cleared at finalization.
type Trip struct {
	SchemaVersion int    `json:"schemaVersion"`
	ID            int64  `json:"id"`
	DocID         string `json:"docId,omitempty"` // remote store id, empty until persisted remotely

	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	StartLocation *GeoPoint  `json:"startLocation,omitempty"`
	EndLocation   *GeoPoint  `json:"endLocation,omitempty"`
	StartAddress  string     `json:"startAddress,omitempty"`
	EndAddress    string     `json:"endAddress,omitempty"`

	RouteCoordinates []GeoPoint     `json:"routeCoordinates"`
	Distance         float64        `json:"distance"`
	DistanceSource   DistanceSource `json:"distanceSource"`

	PendingDistanceKm    float64   `json:"pendingDistanceKm,omitempty"`
	LastRecordedLocation *GeoPoint `json:"lastRecordedLocation,omitempty"`
}

// Active reports whether the trip has not been finalized yet.
func (t Trip) Active() bool {
	return t.EndTime == nil
}

// Clone returns a deep copy so callers can hand out snapshots of a trip that
// is still being mutated.
func (t Trip) Clone() Trip {
	c := t
	if t.EndTime != nil {
		et := *t.EndTime
		c.EndTime = &et
	}
	c.StartLocation = clonePoint(t.StartLocation)
	c.EndLocation = clonePoint(t.EndLocation)
	c.LastRecordedLocation = clonePoint(t.LastRecordedLocation)
	if t.RouteCoordinates != nil {
		c.RouteCoordinates = append([]GeoPoint(nil), t.RouteCoordinates...)
	}
	return c
}

func clonePoint(p *GeoPoint) *GeoPoint {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
