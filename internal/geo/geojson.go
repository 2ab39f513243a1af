package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/pkordes/triplog/internal/domain"
)

// RouteFeature encodes a trip as a GeoJSON Feature. Routes with two or more
// points become a LineString; a single-point trip becomes a Point.
// GeoJSON orders coordinates as (lng, lat).
func RouteFeature(trip domain.Trip) ([]byte, error) {
	coords := make([]geom.Coord, 0, len(trip.RouteCoordinates))
	for _, p := range trip.RouteCoordinates {
		if p.Valid() {
			coords = append(coords, geom.Coord{p.Lng, p.Lat})
		}
	}
	if len(coords) == 0 && trip.StartLocation != nil {
		coords = append(coords, geom.Coord{trip.StartLocation.Lng, trip.StartLocation.Lat})
	}

	var g geom.T
	switch len(coords) {
	case 0:
		return nil, fmt.Errorf("geo.RouteFeature: %w: trip %d has no coordinates", domain.ErrValidation, trip.ID)
	case 1:
		pt, err := geom.NewPoint(geom.XY).SetCoords(coords[0])
		if err != nil {
			return nil, fmt.Errorf("geo.RouteFeature: %w", err)
		}
		g = pt
	default:
		ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, fmt.Errorf("geo.RouteFeature: %w", err)
		}
		g = ls
	}

	props := map[string]interface{}{
		"distanceKm":     trip.Distance,
		"distanceSource": string(trip.DistanceSource),
		"startTime":      trip.StartTime.UTC().Format(time.RFC3339),
		"startAddress":   trip.StartAddress,
	}
	if trip.EndTime != nil {
		props["endTime"] = trip.EndTime.UTC().Format(time.RFC3339)
		props["endAddress"] = trip.EndAddress
	}

	f := &geojson.Feature{
		ID:         strconv.FormatInt(trip.ID, 10),
		Geometry:   g,
		Properties: props,
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("geo.RouteFeature: %w", err)
	}
	return b, nil
}
