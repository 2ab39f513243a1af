package repo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/repo"
	"github.com/pkordes/triplog/testutil"
)

// newTestStore returns a TripStore inside a transaction that is rolled back
// when the test finishes.
func newTestStore(t *testing.T) repo.TripStore {
	t.Helper()
	return repo.NewTripStore(testutil.NewTx(t))
}

// tripFixture returns a finalized trip. Callers override fields as needed.
func tripFixture(id int64, start time.Time) domain.Trip {
	end := start.Add(45 * time.Minute)
	a := domain.GeoPoint{Lat: 52.52, Lng: 13.405}
	b := domain.GeoPoint{Lat: 52.39, Lng: 13.0645}
	return domain.Trip{
		ID:               id,
		StartTime:        start,
		EndTime:          &end,
		StartLocation:    &a,
		EndLocation:      &b,
		StartAddress:     "Berlin",
		EndAddress:       "Potsdam",
		RouteCoordinates: []domain.GeoPoint{a, b},
		Distance:         27.1,
		DistanceSource:   domain.SourceGPS,
	}
}

func TestTripStore_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	older := tripFixture(1, base)
	newer := tripFixture(2, base.Add(24*time.Hour))

	id1, err := s.AppendTrip(ctx, "u1", older)
	require.NoError(t, err)
	id2, err := s.AppendTrip(ctx, "u1", newer)
	require.NoError(t, err)
	_, err = s.AppendTrip(ctx, "u2", tripFixture(3, base))
	require.NoError(t, err)

	got, err := s.ListTrips(ctx, "u1")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id2, got[0].DocID, "most recent first")
	assert.Equal(t, id1, got[1].DocID)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, newer.RouteCoordinates, got[0].RouteCoordinates)
	assert.Equal(t, "Potsdam", got[0].EndAddress)
	require.NotNil(t, got[0].EndTime)
	assert.True(t, got[0].EndTime.Equal(*newer.EndTime))
}

func TestTripStore_AppendIsIdempotentPerTripID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trip := tripFixture(7, time.Now().UTC())

	first, err := s.AppendTrip(ctx, "u1", trip)
	require.NoError(t, err)
	second, err := s.AppendTrip(ctx, "u1", trip)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTripStore_ListEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ListTrips(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTripStore_BatchUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.AppendTrip(ctx, "u1", tripFixture(1, time.Now().UTC()))
	require.NoError(t, err)

	err = s.BatchUpdate(ctx, "u1", []repo.TripUpdate{{
		DocID:            docID,
		Distance:         31.5,
		DistanceSource:   domain.SourceRouted,
		RouteCoordinates: []domain.GeoPoint{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}},
	}})
	require.NoError(t, err)

	got, err := s.ListTrips(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 31.5, got[0].Distance)
	assert.Equal(t, domain.SourceRouted, got[0].DistanceSource)
	assert.Len(t, got[0].RouteCoordinates, 2)
}

func TestTripStore_BatchUpdate_MissingDocFailsWholeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.AppendTrip(ctx, "u1", tripFixture(1, time.Now().UTC()))
	require.NoError(t, err)

	err = s.BatchUpdate(ctx, "u1", []repo.TripUpdate{
		{DocID: docID, Distance: 99},
		{DocID: "00000000-0000-0000-0000-000000000001", Distance: 1},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.ListTrips(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 27.1, got[0].Distance, "batch must be atomic")
}

func TestTripStore_BatchUpdate_RejectsOversizedBatch(t *testing.T) {
	// No database needed: the size check runs before any query.
	s := repo.NewTripStore(nil)
	updates := make([]repo.TripUpdate, repo.MaxBatchSize+1)
	for i := range updates {
		updates[i].DocID = fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
	}

	err := s.BatchUpdate(context.Background(), "u1", updates)

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTripStore_UserStateMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := testutil.UserID(t)

	empty, err := s.LoadUserState(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, empty.Odometer)

	odo := json.RawMessage(`{"currentReading":10523}`)
	require.NoError(t, s.SaveUserState(ctx, user, domain.UserState{Odometer: odo}))
	// An empty partial leaves stored keys untouched.
	require.NoError(t, s.SaveUserState(ctx, user, domain.UserState{}))

	got, err := s.LoadUserState(ctx, user)
	require.NoError(t, err)
	assert.JSONEq(t, string(odo), string(got.Odometer))
}
