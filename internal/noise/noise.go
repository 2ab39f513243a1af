// Package noise filters GPS jitter out of live position streams.
// It rejects low-accuracy fixes and holds back sub-threshold movement in a
// pending carry until enough distance has built up to record a point.
package noise

import "math"

const (
	// AccuracyThresholdM is the largest reported accuracy radius, in meters,
	// that still counts as a usable fix.
	AccuracyThresholdM = 75.0

	// MinDistanceDeltaKm is the smallest movement (10 m) recorded as a new
	// route point.
	MinDistanceDeltaKm = 0.01
)

// AcceptFix reports whether a fix with the given accuracy should be used.
// An unknown accuracy (nil) is accepted.
func AcceptFix(accuracyMeters *float64) bool {
	if accuracyMeters == nil {
		return true
	}
	a := *accuracyMeters
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return true
	}
	return a <= AccuracyThresholdM
}

// Step is the outcome of one Accumulate call.
type Step struct {
	// Flush is true when the carry reached MinDistanceDeltaKm.
	Flush bool
	// FlushedKm is the full accumulated distance to add when Flush is true.
	FlushedKm float64
	// PendingKm is the carry to keep for the next segment.
	PendingKm float64
}

// Accumulate adds segmentKm to pendingKm. Once the sum reaches
// MinDistanceDeltaKm the whole sum is flushed and the carry resets to zero;
// otherwise the sum is carried forward. Distance is never dropped.
func Accumulate(pendingKm, segmentKm float64) Step {
	sum := pendingKm + segmentKm
	if sum >= MinDistanceDeltaKm {
		return Step{Flush: true, FlushedKm: sum}
	}
	return Step{PendingKm: sum}
}
