package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. a negative odometer reading).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrLocationUnavailable means no positioning fix could be obtained.
// A trip cannot start without one; stopping falls back to the last known point.
var ErrLocationUnavailable = errors.New("location unavailable")

// ErrRoutingUnavailable means no routed distance could be produced.
// It never reaches users: callers always fall back to the GPS distance.
var ErrRoutingUnavailable = errors.New("routing unavailable")

// ErrPersistence wraps a failed remote write. The data is still held locally.
var ErrPersistence = errors.New("persistence failure")

// ErrMalformedState is returned when cached or stored state cannot be parsed.
// Callers drop the content or reset it to defaults.
var ErrMalformedState = errors.New("malformed cached state")

// ErrTripActive is returned when a trip is started while another is running.
var ErrTripActive = errors.New("trip already active")

// ErrNoActiveTrip is returned when stopping while no trip is running.
var ErrNoActiveTrip = errors.New("no active trip")
