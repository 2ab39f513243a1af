// Package recorder runs the live trip state machine (Idle → Active → Idle)
// for one user: it samples positions, accumulates GPS distance with the
// noise filter, keeps a local draft of the active trip and finalizes it with
// a routed or GPS-derived distance.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
	"github.com/pkordes/triplog/internal/noise"
	"github.com/pkordes/triplog/internal/routing"
)

// PositionSource delivers positioning fixes.
type PositionSource interface {
	// Current returns the present position or domain.ErrLocationUnavailable.
	Current(ctx context.Context) (domain.Fix, error)
	// Watch subscribes fn to future fixes until stop is called.
	Watch(fn func(domain.Fix)) (stop func())
}

// Geocoder resolves a label for a coordinate. It never fails.
type Geocoder interface {
	Address(ctx context.Context, p domain.GeoPoint) string
}

// RouteResolver returns a routed distance or routing.Unavailable.
type RouteResolver interface {
	Resolve(ctx context.Context, start, end domain.GeoPoint) routing.Outcome
}

// TripAppender persists a finalized trip remotely and returns its document id.
type TripAppender interface {
	AppendTrip(ctx context.Context, userID string, trip domain.Trip) (string, error)
}

// DraftStore is the local persistence of the recorder: the draft slot for
// the active trip and the trip cache used as a fallback.
type DraftStore interface {
	WriteDraft(ctx context.Context, userID string, trip domain.Trip) error
	ClearDraft(ctx context.Context, userID string) error
	AppendCached(ctx context.Context, userID string, trip domain.Trip) error
}

// Deps are the collaborators of a Recorder. Clock defaults to time.Now.
type Deps struct {
	Positions PositionSource
	Geocoder  Geocoder
	Routes    RouteResolver
	Remote    TripAppender
	Local     DraftStore
	Clock     func() time.Time
}

// Session is the state of one active trip.
type Session struct {
	trip      domain.Trip
	stopWatch func()
}

// Trip returns a snapshot of the session's trip.
func (s *Session) Trip() domain.Trip {
	return s.trip.Clone()
}

// Recorder owns at most one Session. All methods are safe for concurrent
// use; state changes are serialized.
type Recorder struct {
	userID string
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	session *Session
	lastID  int64
}

// New creates an idle Recorder for userID.
func New(userID string, deps Deps, logger *slog.Logger) *Recorder {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Recorder{
		userID: userID,
		deps:   deps,
		logger: logger.With("user_id", userID),
	}
}

// Active returns a snapshot of the active trip, if any.
func (r *Recorder) Active() (domain.Trip, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return domain.Trip{}, false
	}
	return r.session.Trip(), true
}

// Start begins a new trip at the current position.
// Returns domain.ErrTripActive while a trip is running and
// domain.ErrLocationUnavailable when no position can be obtained.
func (r *Recorder) Start(ctx context.Context) (domain.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Start: %w", domain.ErrTripActive)
	}

	fix, err := r.deps.Positions.Current(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrLocationUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrLocationUnavailable, err)
		}
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Start: %w", err)
	}
	if !fix.Point.Valid() {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Start: %w: invalid fix", domain.ErrLocationUnavailable)
	}

	start := fix.Point
	address := r.deps.Geocoder.Address(ctx, start)
	now := r.deps.Clock()

	last := start
	trip := domain.Trip{
		SchemaVersion:        domain.SchemaVersion,
		ID:                   r.nextID(now),
		StartTime:            now,
		StartLocation:        &start,
		StartAddress:         address,
		RouteCoordinates:     []domain.GeoPoint{start},
		DistanceSource:       domain.SourceGPS,
		LastRecordedLocation: &last,
	}

	r.writeDraft(ctx, trip)
	r.session = &Session{trip: trip}
	r.session.stopWatch = r.deps.Positions.Watch(r.watch)

	r.logger.Info("trip started", "trip_id", trip.ID, "address", address)
	return trip.Clone(), nil
}

func (r *Recorder) watch(fix domain.Fix) {
	r.OnPositionUpdate(context.Background(), fix)
}

// OnPositionUpdate feeds one fix into the active trip. Fixes with poor
// accuracy or invalid coordinates are ignored, as are fixes while idle.
// Movement below noise.MinDistanceDeltaKm is carried until it adds up.
func (r *Recorder) OnPositionUpdate(ctx context.Context, fix domain.Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}
	if !noise.AcceptFix(fix.AccuracyMeters) || !fix.Point.Valid() {
		return
	}

	trip := &r.session.trip
	ref := trip.LastRecordedLocation
	if ref == nil {
		ref = trip.StartLocation
	}
	p := fix.Point
	trip.LastRecordedLocation = &p
	if ref == nil {
		trip.RouteCoordinates = append(trip.RouteCoordinates, p)
		r.writeDraft(ctx, *trip)
		return
	}

	step := noise.Accumulate(trip.PendingDistanceKm, geo.HaversineKm(*ref, p))
	if step.Flush {
		trip.RouteCoordinates = append(trip.RouteCoordinates, p)
		trip.Distance += step.FlushedKm
		trip.PendingDistanceKm = 0
	} else {
		trip.PendingDistanceKm = step.PendingKm
	}

	r.writeDraft(ctx, *trip)
}

// Stop ends observation and finalizes the trip at the best available end
// location: a fresh fix that passes the accuracy gate, else the last
// accepted fix, else the last route point.
func (r *Recorder) Stop(ctx context.Context) (domain.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Stop: %w", domain.ErrNoActiveTrip)
	}

	end, ok := r.endLocation(ctx)
	if !ok {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Stop: %w", domain.ErrLocationUnavailable)
	}
	if r.session.stopWatch != nil {
		r.session.stopWatch()
	}

	address := r.deps.Geocoder.Address(ctx, end)
	return r.finalize(ctx, end, address)
}

// Finalize seals the active trip at end with the given end address.
func (r *Recorder) Finalize(ctx context.Context, end domain.GeoPoint, address string) (domain.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Finalize: %w", domain.ErrNoActiveTrip)
	}
	if !end.Valid() {
		return domain.Trip{}, fmt.Errorf("recorder.Recorder.Finalize: %w: invalid end location", domain.ErrValidation)
	}
	if r.session.stopWatch != nil {
		r.session.stopWatch()
	}
	return r.finalize(ctx, end, address)
}

func (r *Recorder) endLocation(ctx context.Context) (domain.GeoPoint, bool) {
	if fix, err := r.deps.Positions.Current(ctx); err == nil && fix.Point.Valid() && noise.AcceptFix(fix.AccuracyMeters) {
		return fix.Point, true
	}
	trip := r.session.trip
	if trip.LastRecordedLocation != nil {
		return *trip.LastRecordedLocation, true
	}
	if n := len(trip.RouteCoordinates); n > 0 {
		return trip.RouteCoordinates[n-1], true
	}
	return domain.GeoPoint{}, false
}

// finalize must be called with r.mu held and a session present. The session
// is always closed and the draft cleared, even when persistence fails.
func (r *Recorder) finalize(ctx context.Context, end domain.GeoPoint, address string) (domain.Trip, error) {
	trip := r.session.trip.Clone()
	r.session = nil

	now := r.deps.Clock()
	trip.EndTime = &now
	trip.EndLocation = &end
	trip.EndAddress = address

	if n := len(trip.RouteCoordinates); n > 0 && geo.HaversineKm(trip.RouteCoordinates[n-1], end) == 0 {
		trip.RouteCoordinates[n-1] = end
	} else {
		trip.RouteCoordinates = append(trip.RouteCoordinates, end)
	}

	start := end
	if trip.StartLocation != nil {
		start = *trip.StartLocation
	}
	if km, ok := r.deps.Routes.Resolve(ctx, start, end).Km(); ok {
		trip.Distance = km
		trip.DistanceSource = domain.SourceRouted
	} else {
		trip.Distance = geo.RouteLengthKm(trip.RouteCoordinates)
		trip.DistanceSource = domain.SourceGPS
	}
	trip.PendingDistanceKm = 0
	trip.LastRecordedLocation = nil

	var persistErr error
	docID, err := r.deps.Remote.AppendTrip(ctx, r.userID, trip)
	if err != nil {
		persistErr = fmt.Errorf("recorder.Recorder.Finalize: %w: %v", domain.ErrPersistence, err)
		r.logger.Warn("remote append failed, trip kept locally", "trip_id", trip.ID, "error", err)
	} else {
		trip.DocID = docID
	}

	if err := r.deps.Local.AppendCached(ctx, r.userID, trip); err != nil {
		r.logger.Error("local cache append failed", "trip_id", trip.ID, "error", err)
		if persistErr != nil {
			persistErr = fmt.Errorf("%w; local cache: %v", persistErr, err)
		}
	}
	if err := r.deps.Local.ClearDraft(ctx, r.userID); err != nil {
		r.logger.Error("clear draft failed", "trip_id", trip.ID, "error", err)
	}

	r.logger.Info("trip finalized",
		"trip_id", trip.ID,
		"distance_km", trip.Distance,
		"distance_source", trip.DistanceSource,
		"points", len(trip.RouteCoordinates),
	)
	return trip, persistErr
}

// Resume rebuilds the active session from a serialized draft. A malformed
// draft, or one that is not an active trip, is discarded.
func (r *Recorder) Resume(ctx context.Context, draft []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil
	}

	trip, err := domain.DecodeTrip(draft)
	if err == nil && (!trip.Active() || trip.StartLocation == nil) {
		err = fmt.Errorf("%w: draft is not an active trip", domain.ErrMalformedState)
	}
	if err != nil {
		r.logger.Warn("discarding unreadable draft", "error", err)
		if cerr := r.deps.Local.ClearDraft(ctx, r.userID); cerr != nil {
			return fmt.Errorf("recorder.Recorder.Resume: %w", cerr)
		}
		return nil
	}

	if trip.ID > r.lastID {
		r.lastID = trip.ID
	}
	r.session = &Session{trip: trip}
	r.session.stopWatch = r.deps.Positions.Watch(r.watch)

	r.logger.Info("trip resumed", "trip_id", trip.ID, "points", len(trip.RouteCoordinates))
	return nil
}

// nextID returns the creation time in Unix milliseconds, bumped so ids stay
// strictly increasing for this recorder.
func (r *Recorder) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id
	return id
}

func (r *Recorder) writeDraft(ctx context.Context, trip domain.Trip) {
	if err := r.deps.Local.WriteDraft(ctx, r.userID, trip); err != nil {
		r.logger.Warn("draft write failed", "trip_id", trip.ID, "error", err)
	}
}
