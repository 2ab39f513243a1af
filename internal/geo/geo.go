// Package geo computes great-circle distances and route lengths for recorded
// trips and encodes trip routes as GeoJSON.
package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/noise"
)

// EarthRadiusKm is the mean Earth radius (IUGG) in kilometers.
const EarthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between a and b in kilometers.
// Any non-finite coordinate yields NaN.
func HaversineKm(a, b domain.GeoPoint) float64 {
	if !finite(a.Lat) || !finite(a.Lng) || !finite(b.Lat) || !finite(b.Lng) {
		return math.NaN()
	}
	return s2.LatLngFromDegrees(a.Lat, a.Lng).Distance(s2.LatLngFromDegrees(b.Lat, b.Lng)).Radians() * EarthRadiusKm
}

// RouteLengthKm sums the segment distances of points, passing every segment
// through the same pending-delta accumulator the live recorder uses. The
// carry left after the last segment is flushed, so nothing is lost.
// Invalid points are skipped; fewer than two usable points yield 0.
func RouteLengthKm(points []domain.GeoPoint) float64 {
	var (
		total   float64
		pending float64
		prev    *domain.GeoPoint
	)
	for i := range points {
		p := points[i]
		if !p.Valid() {
			continue
		}
		if prev == nil {
			prev = &p
			continue
		}
		seg := HaversineKm(*prev, p)
		prev = &p
		if math.IsNaN(seg) {
			continue
		}
		step := noise.Accumulate(pending, seg)
		pending = step.PendingKm
		if step.Flush {
			total += step.FlushedKm
		}
	}
	return total + pending
}

// Round3 rounds km to meter precision, the precision distances are stored with.
func Round3(km float64) float64 {
	return math.Round(km*1000) / 1000
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
