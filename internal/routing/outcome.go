// Package routing resolves road distances between two points through an
// external routing provider. Every failure collapses to Unavailable so that
// callers fall back to the GPS distance without handling transport errors.
package routing

import "math"

// Outcome is the result of one routing request: either a distance in
// kilometers or Unavailable. The zero value is Unavailable.
type Outcome struct {
	km float64
	ok bool
}

// Distance returns an Outcome carrying km. Non-positive or non-finite values
// are not distances and yield Unavailable.
func Distance(km float64) Outcome {
	if math.IsNaN(km) || math.IsInf(km, 0) || km <= 0 {
		return Outcome{}
	}
	return Outcome{km: km, ok: true}
}

// Unavailable returns the Outcome for "no routed distance".
func Unavailable() Outcome {
	return Outcome{}
}

// Km returns the distance and whether one is present.
func (o Outcome) Km() (float64, bool) {
	return o.km, o.ok
}

// fromMeters converts a provider distance in meters.
func fromMeters(m float64) Outcome {
	return Distance(m / 1000)
}
