package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// rawTrip mirrors every encoding of a trip this module has ever read:
// legacy drafts keep ids as numbers and coordinates as [lat,lng] pairs,
// remote rows keep coordinates as {lat,lng} objects, and older content has
// neither a distance source nor the transient recorder fields.
type rawTrip struct {
	SchemaVersion        int               `json:"schemaVersion"`
	ID                   json.RawMessage   `json:"id"`
	DocID                string            `json:"docId"`
	StartTime            json.RawMessage   `json:"startTime"`
	EndTime              json.RawMessage   `json:"endTime"`
	StartLocation        json.RawMessage   `json:"startLocation"`
	EndLocation          json.RawMessage   `json:"endLocation"`
	StartAddress         *string           `json:"startAddress"`
	EndAddress           *string           `json:"endAddress"`
	RouteCoordinates     []json.RawMessage `json:"routeCoordinates"`
	Distance             *float64          `json:"distance"`
	DistanceSource       string            `json:"distanceSource"`
	PendingDistanceKm    *float64          `json:"pendingDistanceKm"`
	LastRecordedLocation json.RawMessage   `json:"lastRecordedLocation"`
}

// DecodeTrip parses a serialized trip of any known schema version and fills
// defaults for every optional field. It is the only place where legacy
// content is migrated; callers never inspect raw keys themselves.
//
// Returns ErrMalformedState when the content is not a trip at all.
func DecodeTrip(data []byte) (Trip, error) {
	var raw rawTrip
	if err := json.Unmarshal(data, &raw); err != nil {
		return Trip{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	start, err := decodeTime(raw.StartTime)
	if err != nil || start == nil {
		return Trip{}, fmt.Errorf("%w: startTime: %v", ErrMalformedState, err)
	}
	end, err := decodeTime(raw.EndTime)
	if err != nil {
		return Trip{}, fmt.Errorf("%w: endTime: %v", ErrMalformedState, err)
	}

	t := Trip{
		SchemaVersion: SchemaVersion,
		DocID:         raw.DocID,
		StartTime:     *start,
		EndTime:       end,
		StartLocation: DecodePoint(raw.StartLocation),
		EndLocation:   DecodePoint(raw.EndLocation),
	}

	id, err := decodeID(raw.ID)
	if err != nil {
		return Trip{}, fmt.Errorf("%w: id: %v", ErrMalformedState, err)
	}
	if id == 0 {
		id = start.UnixMilli()
	}
	t.ID = id

	if raw.StartAddress != nil {
		t.StartAddress = *raw.StartAddress
	}
	if raw.EndAddress != nil {
		t.EndAddress = *raw.EndAddress
	}
	if raw.Distance != nil {
		t.Distance = *raw.Distance
	}

	t.RouteCoordinates = make([]GeoPoint, 0, len(raw.RouteCoordinates))
	for _, rc := range raw.RouteCoordinates {
		if p := DecodePoint(rc); p != nil {
			t.RouteCoordinates = append(t.RouteCoordinates, *p)
		}
	}

	switch DistanceSource(raw.DistanceSource) {
	case SourceRouted:
		t.DistanceSource = SourceRouted
	default:
		t.DistanceSource = SourceGPS
	}

	if t.Active() {
		if raw.PendingDistanceKm != nil {
			t.PendingDistanceKm = *raw.PendingDistanceKm
		}
		t.LastRecordedLocation = DecodePoint(raw.LastRecordedLocation)
		if t.LastRecordedLocation == nil {
			t.LastRecordedLocation = lastKnownPoint(t)
		}
	}

	return t, nil
}

// DecodeTrips parses a JSON array of trips. Entries that fail DecodeTrip are
// skipped; the number of dropped entries is returned so callers can log it.
func DecodeTrips(data []byte) ([]Trip, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	trips := make([]Trip, 0, len(items))
	dropped := 0
	for _, item := range items {
		t, err := DecodeTrip(item)
		if err != nil {
			dropped++
			continue
		}
		trips = append(trips, t)
	}
	return trips, dropped, nil
}

// DecodePoint accepts a {lat,lng} object or a [lat,lng] pair and returns nil
// for anything else, including out-of-range coordinates.
func DecodePoint(data json.RawMessage) *GeoPoint {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var p GeoPoint
	switch data[0] {
	case '[':
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil || len(pair) < 2 {
			return nil
		}
		p = GeoPoint{Lat: pair[0], Lng: pair[1]}
	case '{':
		var obj struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		}
		if err := json.Unmarshal(data, &obj); err != nil || obj.Lat == nil || obj.Lng == nil {
			return nil
		}
		p = GeoPoint{Lat: *obj.Lat, Lng: *obj.Lng}
	default:
		return nil
	}

	if !p.Valid() {
		return nil
	}
	return &p
}

// lastKnownPoint re-derives the last accepted fix for drafts written before
// lastRecordedLocation existed.
func lastKnownPoint(t Trip) *GeoPoint {
	if n := len(t.RouteCoordinates); n > 0 {
		p := t.RouteCoordinates[n-1]
		return &p
	}
	return clonePoint(t.StartLocation)
}

func decodeID(data json.RawMessage) (int64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	return int64(f), nil
}

// decodeTime accepts RFC 3339 strings and Unix milliseconds.
func decodeTime(data json.RawMessage) (*time.Time, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return &ts, nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return nil, err
	}
	ts := time.UnixMilli(int64(ms)).UTC()
	return &ts, nil
}
