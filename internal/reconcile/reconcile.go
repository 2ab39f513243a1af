// Package reconcile recomputes stored trip distances in two sequential,
// idempotent passes: Pass A re-derives GPS distances from the recorded
// routes, Pass B upgrades distances to road-routed values. Changed trips are
// written back in bounded batches and the local cache is refreshed.
package reconcile

import (
	"context"
	"log/slog"
	"math"
	"time"

	"go.uber.org/multierr"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
	"github.com/pkordes/triplog/internal/repo"
	"github.com/pkordes/triplog/internal/routing"
)

// ToleranceKm is the largest difference between stored and recomputed
// distance that still counts as unchanged.
const ToleranceKm = 0.001

// DefaultDelay is the pause between two routing calls in Pass B.
const DefaultDelay = 100 * time.Millisecond

// TripWriter applies distance updates to the remote store.
type TripWriter interface {
	BatchUpdate(ctx context.Context, userID string, updates []repo.TripUpdate) error
}

// CacheWriter replaces the local trip cache.
type CacheWriter interface {
	WriteCache(ctx context.Context, userID string, trips []domain.Trip) error
}

// RouteResolver is the routing surface Pass B needs.
type RouteResolver interface {
	Enabled() bool
	WaitReady(ctx context.Context) bool
	Resolve(ctx context.Context, start, end domain.GeoPoint) routing.Outcome
}

// Result summarizes one pass.
type Result struct {
	// Changed is true when at least one trip was modified.
	Changed bool
	// Updated counts modified trips, including cache-only ones.
	Updated int
	// Skipped counts trips the pass could not evaluate.
	Skipped int
	// WriteErr aggregates write-back failures. They never abort a pass.
	WriteErr error
}

// Report holds the results of both passes.
type Report struct {
	GPS     Result
	Routing Result
}

// Changed reports whether either pass modified a trip.
func (r Report) Changed() bool {
	return r.GPS.Changed || r.Routing.Changed
}

// Reconciler runs the passes. It is safe for concurrent use on distinct
// trip slices.
type Reconciler struct {
	remote    TripWriter
	cache     CacheWriter
	routes    RouteResolver
	delay     time.Duration
	batchSize int
	logger    *slog.Logger
}

// New creates a Reconciler. delay < 0 uses DefaultDelay.
func New(remote TripWriter, cache CacheWriter, routes RouteResolver, delay time.Duration, logger *slog.Logger) *Reconciler {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Reconciler{
		remote:    remote,
		cache:     cache,
		routes:    routes,
		delay:     delay,
		batchSize: repo.MaxBatchSize,
		logger:    logger,
	}
}

// Run executes Pass A and then Pass B on trips, modifying them in place.
func (r *Reconciler) Run(ctx context.Context, userID string, trips []domain.Trip) Report {
	return Report{
		GPS:     r.ReconcileFromGps(ctx, userID, trips),
		Routing: r.ReconcileWithRouting(ctx, userID, trips),
	}
}

// ReconcileFromGps recomputes the GPS distance of every sealed trip from its
// route. Trips with DistanceSource ROUTED are deliberately excluded: the pass
// never replaces a routed distance with a GPS one, which keeps Run
// idempotent when both passes run back to back.
func (r *Reconciler) ReconcileFromGps(ctx context.Context, userID string, trips []domain.Trip) Result {
	var (
		res   Result
		dirty []int
	)
	for i := range trips {
		t := &trips[i]
		if t.Active() || t.DistanceSource == domain.SourceRouted {
			continue
		}

		points := normalizedRoute(*t)
		if len(points) < 2 {
			res.Skipped++
			continue
		}

		km := geo.RouteLengthKm(points)
		if math.Abs(t.Distance-km) <= ToleranceKm {
			continue
		}

		t.Distance = geo.Round3(km)
		t.RouteCoordinates = points
		t.DistanceSource = domain.SourceGPS
		dirty = append(dirty, i)
	}

	r.writeBack(ctx, userID, trips, dirty, &res)
	r.logger.Info("gps reconciliation finished",
		"user_id", userID, "trips", len(trips), "updated", res.Updated, "skipped", res.Skipped)
	return res
}

// ReconcileWithRouting replaces distances with routed values. It runs only
// when routing is enabled and the provider becomes ready, and calls the
// provider sequentially with a fixed delay between calls.
func (r *Reconciler) ReconcileWithRouting(ctx context.Context, userID string, trips []domain.Trip) Result {
	var res Result
	if r.routes == nil || !r.routes.Enabled() {
		return res
	}
	if !r.routes.WaitReady(ctx) {
		r.logger.Warn("routing reconciliation skipped: provider not ready", "user_id", userID)
		return res
	}

	var dirty []int
	calls := 0
	for i := range trips {
		t := &trips[i]
		if t.Active() || t.StartLocation == nil || t.EndLocation == nil ||
			!t.StartLocation.Valid() || !t.EndLocation.Valid() {
			continue
		}

		if calls > 0 && !sleep(ctx, r.delay) {
			break
		}
		calls++

		km, ok := r.routes.Resolve(ctx, *t.StartLocation, *t.EndLocation).Km()
		if !ok {
			res.Skipped++
			continue
		}
		km = geo.Round3(km)
		if t.DistanceSource == domain.SourceRouted && math.Abs(t.Distance-km) <= ToleranceKm {
			continue
		}

		t.Distance = km
		t.DistanceSource = domain.SourceRouted
		dirty = append(dirty, i)
	}

	r.writeBack(ctx, userID, trips, dirty, &res)
	r.logger.Info("routing reconciliation finished",
		"user_id", userID, "calls", calls, "updated", res.Updated, "skipped", res.Skipped)
	return res
}

// writeBack persists the dirty trips in batches of at most r.batchSize and
// rewrites the local cache when anything changed. Trips without a document
// id only reach the cache.
func (r *Reconciler) writeBack(ctx context.Context, userID string, trips []domain.Trip, dirty []int, res *Result) {
	res.Updated = len(dirty)
	res.Changed = len(dirty) > 0
	if !res.Changed {
		return
	}

	batch := make([]repo.TripUpdate, 0, min(len(dirty), r.batchSize))
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.remote.BatchUpdate(ctx, userID, batch); err != nil {
			r.logger.Error("batch write failed", "user_id", userID, "size", len(batch), "error", err)
			res.WriteErr = multierr.Append(res.WriteErr, err)
		}
		batch = make([]repo.TripUpdate, 0, r.batchSize)
	}

	for _, i := range dirty {
		t := trips[i]
		if t.DocID == "" {
			continue
		}
		batch = append(batch, repo.TripUpdate{
			DocID:            t.DocID,
			Distance:         t.Distance,
			DistanceSource:   t.DistanceSource,
			RouteCoordinates: t.RouteCoordinates,
		})
		if len(batch) == r.batchSize {
			flush()
		}
	}
	flush()

	if r.cache != nil {
		if err := r.cache.WriteCache(ctx, userID, trips); err != nil {
			r.logger.Error("cache rewrite failed", "user_id", userID, "error", err)
			res.WriteErr = multierr.Append(res.WriteErr, err)
		}
	}
}

// normalizedRoute returns the valid route points of t. A route with fewer
// than two points is replaced by start and end when both exist.
func normalizedRoute(t domain.Trip) []domain.GeoPoint {
	points := make([]domain.GeoPoint, 0, len(t.RouteCoordinates))
	for _, p := range t.RouteCoordinates {
		if p.Valid() {
			points = append(points, p)
		}
	}
	if len(points) < 2 && t.StartLocation != nil && t.EndLocation != nil &&
		t.StartLocation.Valid() && t.EndLocation.Valid() {
		points = []domain.GeoPoint{*t.StartLocation, *t.EndLocation}
	}
	return points
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
