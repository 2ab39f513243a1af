package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
	"github.com/pkordes/triplog/internal/reconcile"
	"github.com/pkordes/triplog/internal/repo"
	"github.com/pkordes/triplog/internal/routing"
)

// ---- mocks ----

type mockWriter struct {
	batchFn func(ctx context.Context, userID string, updates []repo.TripUpdate) error
	batches [][]repo.TripUpdate
}

var _ reconcile.TripWriter = (*mockWriter)(nil)

func (m *mockWriter) BatchUpdate(ctx context.Context, userID string, updates []repo.TripUpdate) error {
	m.batches = append(m.batches, append([]repo.TripUpdate(nil), updates...))
	if m.batchFn != nil {
		return m.batchFn(ctx, userID, updates)
	}
	return nil
}

func (m *mockWriter) sizes() []int {
	out := make([]int, len(m.batches))
	for i, b := range m.batches {
		out[i] = len(b)
	}
	return out
}

type mockCache struct {
	writes int
	last   []domain.Trip
}

var _ reconcile.CacheWriter = (*mockCache)(nil)

func (m *mockCache) WriteCache(_ context.Context, _ string, trips []domain.Trip) error {
	m.writes++
	m.last = append([]domain.Trip(nil), trips...)
	return nil
}

type mockRoutes struct {
	enabled   bool
	ready     bool
	resolveFn func(start, end domain.GeoPoint) routing.Outcome
	calls     []time.Time
}

var _ reconcile.RouteResolver = (*mockRoutes)(nil)

func (m *mockRoutes) Enabled() bool { return m.enabled }
func (m *mockRoutes) WaitReady(ctx context.Context) bool { return m.ready }
func (m *mockRoutes) Resolve(_ context.Context, s, e domain.GeoPoint) routing.Outcome {
	m.calls = append(m.calls, time.Now())
	return m.resolveFn(s, e)
}

// ---- helpers ----

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	a = domain.GeoPoint{Lat: 52.5200, Lng: 13.4050}
	b = domain.GeoPoint{Lat: 52.5245, Lng: 13.4050}
	c = domain.GeoPoint{Lat: 52.5290, Lng: 13.4100}
)

func sealed(id int64, docID string, route []domain.GeoPoint, distance float64) domain.Trip {
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour)
	end := start.Add(30 * time.Minute)
	t := domain.Trip{
		ID:               id,
		DocID:            docID,
		StartTime:        start,
		EndTime:          &end,
		RouteCoordinates: route,
		Distance:         distance,
		DistanceSource:   domain.SourceGPS,
	}
	if len(route) > 0 {
		s, e := route[0], route[len(route)-1]
		t.StartLocation, t.EndLocation = &s, &e
	}
	return t
}

func newReconciler(w *mockWriter, c *mockCache, r reconcile.RouteResolver) *reconcile.Reconciler {
	return reconcile.New(w, c, r, 0, discardLogger())
}

// ---- Pass A ----

func TestReconcileFromGps_UpdatesWrongDistance(t *testing.T) {
	w, cache := &mockWriter{}, &mockCache{}
	route := []domain.GeoPoint{a, b, c}
	trips := []domain.Trip{sealed(1, "d1", route, 0)}

	res := newReconciler(w, cache, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, geo.Round3(geo.RouteLengthKm(route)), trips[0].Distance)
	require.Len(t, w.batches, 1)
	assert.Equal(t, "d1", w.batches[0][0].DocID)
	assert.Equal(t, trips[0].Distance, w.batches[0][0].Distance)
	assert.Equal(t, 1, cache.writes)
}

func TestReconcileFromGps_Idempotent(t *testing.T) {
	w, cache := &mockWriter{}, &mockCache{}
	trips := []domain.Trip{
		sealed(1, "d1", []domain.GeoPoint{a, b, c}, 0),
		sealed(2, "d2", []domain.GeoPoint{c, a}, 12),
	}
	r := newReconciler(w, cache, nil)

	first := r.ReconcileFromGps(context.Background(), "u1", trips)
	second := r.ReconcileFromGps(context.Background(), "u1", trips)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Len(t, w.batches, 1, "second run writes nothing")
	assert.Equal(t, 1, cache.writes)
}

func TestReconcileFromGps_LeavesRoutedTripsAlone(t *testing.T) {
	w := &mockWriter{}
	routed := sealed(1, "d1", []domain.GeoPoint{a, b, c}, 42.5)
	routed.DistanceSource = domain.SourceRouted
	trips := []domain.Trip{routed}

	res := newReconciler(w, &mockCache{}, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.False(t, res.Changed)
	assert.Equal(t, 42.5, trips[0].Distance)
	assert.Equal(t, domain.SourceRouted, trips[0].DistanceSource)
	assert.Empty(t, w.batches)
}

func TestReconcileFromGps_Tolerance(t *testing.T) {
	route := []domain.GeoPoint{a, b}
	exact := geo.RouteLengthKm(route)

	cases := []struct {
		name    string
		offset  float64
		changed bool
	}{
		{"within tolerance", 0.0009, false},
		{"beyond tolerance", 0.0011, true},
		{"below within tolerance", -0.0009, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trips := []domain.Trip{sealed(1, "d1", route, exact+tc.offset)}

			res := newReconciler(&mockWriter{}, &mockCache{}, nil).ReconcileFromGps(context.Background(), "u1", trips)

			assert.Equal(t, tc.changed, res.Changed)
		})
	}
}

func TestReconcileFromGps_SynthesizesRouteFromEndpoints(t *testing.T) {
	trip := sealed(1, "d1", nil, 0)
	trip.StartLocation, trip.EndLocation = &a, &c
	trips := []domain.Trip{trip}

	res := newReconciler(&mockWriter{}, &mockCache{}, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.True(t, res.Changed)
	assert.Equal(t, []domain.GeoPoint{a, c}, trips[0].RouteCoordinates)
	assert.Equal(t, geo.Round3(geo.HaversineKm(a, c)), trips[0].Distance)
}

func TestReconcileFromGps_SkipsUnusableTrips(t *testing.T) {
	onePoint := sealed(1, "d1", []domain.GeoPoint{a}, 5)
	onePoint.EndLocation = nil
	active := sealed(2, "d2", []domain.GeoPoint{a, c}, 0)
	active.EndTime = nil
	routed := sealed(3, "d3", []domain.GeoPoint{a, c}, 9.9)
	routed.DistanceSource = domain.SourceRouted
	trips := []domain.Trip{onePoint, active, routed}

	res := newReconciler(&mockWriter{}, &mockCache{}, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 5.0, trips[0].Distance)
	assert.Equal(t, 9.9, trips[2].Distance, "routed distances are not downgraded")
}

func TestReconcileFromGps_BatchesOfAtMost500(t *testing.T) {
	w := &mockWriter{}
	trips := make([]domain.Trip, 1200)
	for i := range trips {
		trips[i] = sealed(int64(i), fmt.Sprintf("doc-%d", i), []domain.GeoPoint{a, b}, 0)
	}

	res := newReconciler(w, &mockCache{}, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.Equal(t, 1200, res.Updated)
	assert.Equal(t, []int{500, 500, 200}, w.sizes())
	for _, size := range w.sizes() {
		assert.LessOrEqual(t, size, repo.MaxBatchSize)
	}
}

func TestReconcileFromGps_DoclessTripsAreCacheOnly(t *testing.T) {
	w, cache := &mockWriter{}, &mockCache{}
	trips := []domain.Trip{
		sealed(1, "", []domain.GeoPoint{a, b}, 0),
		sealed(2, "d2", []domain.GeoPoint{a, c}, 0),
	}

	res := newReconciler(w, cache, nil).ReconcileFromGps(context.Background(), "u1", trips)

	assert.Equal(t, 2, res.Updated)
	assert.NoError(t, res.WriteErr)
	require.Len(t, w.batches, 1)
	require.Len(t, w.batches[0], 1)
	assert.Equal(t, "d2", w.batches[0][0].DocID)
	require.Equal(t, 1, cache.writes)
	assert.Equal(t, trips[0].Distance, cache.last[0].Distance)
}

func TestReconcileFromGps_WriteFailuresDoNotAbort(t *testing.T) {
	w := &mockWriter{batchFn: func(context.Context, string, []repo.TripUpdate) error {
		return errors.New("store offline")
	}}
	cache := &mockCache{}
	trips := make([]domain.Trip, 600)
	for i := range trips {
		trips[i] = sealed(int64(i), fmt.Sprintf("doc-%d", i), []domain.GeoPoint{a, b}, 0)
	}

	res := newReconciler(w, cache, nil).ReconcileFromGps(context.Background(), "u1", trips)

	require.Error(t, res.WriteErr)
	assert.Len(t, w.batches, 2, "second batch is still attempted")
	assert.Equal(t, 1, cache.writes)
	assert.True(t, res.Changed)
}

// ---- Pass B ----

func TestReconcileWithRouting_Disabled(t *testing.T) {
	routes := &mockRoutes{enabled: false}
	trips := []domain.Trip{sealed(1, "d1", []domain.GeoPoint{a, c}, 1)}

	res := newReconciler(&mockWriter{}, &mockCache{}, routes).ReconcileWithRouting(context.Background(), "u1", trips)

	assert.False(t, res.Changed)
	assert.Empty(t, routes.calls)
}

func TestReconcileWithRouting_NotReady(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: false}
	trips := []domain.Trip{sealed(1, "d1", []domain.GeoPoint{a, c}, 1)}

	res := newReconciler(&mockWriter{}, &mockCache{}, routes).ReconcileWithRouting(context.Background(), "u1", trips)

	assert.False(t, res.Changed)
	assert.Empty(t, routes.calls)
}

func TestReconcileWithRouting_UpgradesAndSkipsUnavailable(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: true, resolveFn: func(s, e domain.GeoPoint) routing.Outcome {
		if e == b {
			return routing.Unavailable()
		}
		return routing.Distance(5.23456)
	}}
	w := &mockWriter{}
	trips := []domain.Trip{
		sealed(1, "d1", []domain.GeoPoint{a, c}, 1),
		sealed(2, "d2", []domain.GeoPoint{a, b}, 0.5),
	}

	res := newReconciler(w, &mockCache{}, routes).ReconcileWithRouting(context.Background(), "u1", trips)

	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 5.235, trips[0].Distance)
	assert.Equal(t, domain.SourceRouted, trips[0].DistanceSource)
	assert.Equal(t, 0.5, trips[1].Distance)
	assert.Equal(t, domain.SourceGPS, trips[1].DistanceSource)
	require.Len(t, w.batches, 1)
	assert.Equal(t, domain.SourceRouted, w.batches[0][0].DistanceSource)
}

func TestReconcileWithRouting_Idempotent(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: true, resolveFn: func(domain.GeoPoint, domain.GeoPoint) routing.Outcome {
		return routing.Distance(7.5)
	}}
	trips := []domain.Trip{sealed(1, "d1", []domain.GeoPoint{a, c}, 1)}
	r := newReconciler(&mockWriter{}, &mockCache{}, routes)

	first := r.ReconcileWithRouting(context.Background(), "u1", trips)
	second := r.ReconcileWithRouting(context.Background(), "u1", trips)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
}

func TestReconcileWithRouting_PacesCalls(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: true, resolveFn: func(domain.GeoPoint, domain.GeoPoint) routing.Outcome {
		return routing.Distance(3)
	}}
	trips := []domain.Trip{
		sealed(1, "d1", []domain.GeoPoint{a, c}, 1),
		sealed(2, "d2", []domain.GeoPoint{a, b}, 1),
		sealed(3, "d3", []domain.GeoPoint{b, c}, 1),
	}
	delay := 20 * time.Millisecond
	r := reconcile.New(&mockWriter{}, &mockCache{}, routes, delay, discardLogger())

	r.ReconcileWithRouting(context.Background(), "u1", trips)

	require.Len(t, routes.calls, 3)
	for i := 1; i < len(routes.calls); i++ {
		assert.GreaterOrEqual(t, routes.calls[i].Sub(routes.calls[i-1]), delay)
	}
}

func TestReconcileWithRouting_StopsOnCancel(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: true, resolveFn: func(domain.GeoPoint, domain.GeoPoint) routing.Outcome {
		return routing.Distance(3)
	}}
	trips := []domain.Trip{
		sealed(1, "d1", []domain.GeoPoint{a, c}, 1),
		sealed(2, "d2", []domain.GeoPoint{a, b}, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := reconcile.New(&mockWriter{}, &mockCache{}, routes, time.Hour, discardLogger())

	r.ReconcileWithRouting(ctx, "u1", trips)

	assert.Len(t, routes.calls, 1)
}

// ---- Run ----

func TestRun_GpsThenRouting(t *testing.T) {
	routes := &mockRoutes{enabled: true, ready: true, resolveFn: func(domain.GeoPoint, domain.GeoPoint) routing.Outcome {
		return routing.Distance(2)
	}}
	trips := []domain.Trip{sealed(1, "d1", []domain.GeoPoint{a, b, c}, 0)}

	report := newReconciler(&mockWriter{}, &mockCache{}, routes).Run(context.Background(), "u1", trips)

	assert.True(t, report.GPS.Changed)
	assert.True(t, report.Routing.Changed)
	assert.True(t, report.Changed())
	assert.Equal(t, 2.0, trips[0].Distance)
	assert.Equal(t, domain.SourceRouted, trips[0].DistanceSource)
}
