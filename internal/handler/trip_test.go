package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/handler"
	"github.com/pkordes/triplog/internal/reconcile"
	"github.com/pkordes/triplog/internal/service"
)

// ---- GET /trips ------------------------------------------------------------

func TestListTrips_200(t *testing.T) {
	trips := &mockTrips{list: func(_ context.Context, userID string) (service.TripList, error) {
		assert.Equal(t, "driver-1", userID)
		return service.TripList{Trips: []domain.Trip{sealedTrip(2), sealedTrip(1)}}, nil
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.TripList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Trips, 2)
	assert.Equal(t, int64(2), resp.Trips[0].ID)
	assert.False(t, resp.FromCache)
}

func TestListTrips_200_Empty(t *testing.T) {
	trips := &mockTrips{list: func(context.Context, string) (service.TripList, error) {
		return service.TripList{FromCache: true}, nil
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	// Must be a JSON array, not null.
	assert.Contains(t, rec.Body.String(), `"trips":[]`)
	assert.Contains(t, rec.Body.String(), `"fromCache":true`)
}

func TestListTrips_500_BothStoresDown(t *testing.T) {
	trips := &mockTrips{list: func(context.Context, string) (service.TripList, error) {
		return service.TripList{}, fmt.Errorf("service.TripService.List: %w", domain.ErrPersistence)
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Error.Code)
}

// ---- GET /trips/views ------------------------------------------------------

func TestGetTripViews_PassesFilter(t *testing.T) {
	var got service.PastFilter
	trips := &mockTrips{views: func(_ context.Context, _ string, _ time.Time, f service.PastFilter) (service.TripViews, error) {
		got = f
		return service.TripViews{CurrentWeek: []domain.Trip{sealedTrip(3)}}, nil
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips/views?filter=lastMonth", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.FilterLastMonth, got)
	var resp handler.TripViews
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.CurrentWeek, 1)
	assert.NotNil(t, resp.Past)
}

func TestGetTripViews_422_UnknownFilter(t *testing.T) {
	rec := do(t, newHTTPHandler(deps{}), http.MethodGet, "/trips/views?filter=lastYear", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_error", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "lastYear")
}

// ---- GET /trips/{id}/route -------------------------------------------------

func TestGetTripRoute_200(t *testing.T) {
	var gotID int64
	trips := &mockTrips{route: func(_ context.Context, _ string, id int64) ([]byte, error) {
		gotID = id
		return []byte(`{"type":"Feature"}`), nil
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips/1740821400000/route", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1740821400000), gotID)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"Feature"}`, rec.Body.String())
}

func TestGetTripRoute_404(t *testing.T) {
	trips := &mockTrips{route: func(context.Context, string, int64) ([]byte, error) {
		return nil, fmt.Errorf("service.TripService.RouteGeoJSON: %w: trip 9", domain.ErrNotFound)
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodGet, "/trips/9/route", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "trip 9", decodeError(t, rec).Error.Message)
}

func TestGetTripRoute_422_BadID(t *testing.T) {
	rec := do(t, newHTTPHandler(deps{}), http.MethodGet, "/trips/abc/route", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ---- POST /reconcile -------------------------------------------------------

func TestReconcile_200_ReportsPasses(t *testing.T) {
	trips := &mockTrips{load: func(context.Context, string) (service.LoadResult, error) {
		return service.LoadResult{
			TripList: service.TripList{Trips: []domain.Trip{sealedTrip(1)}},
			Report: reconcile.Report{
				GPS:     reconcile.Result{Changed: true, Updated: 1},
				Routing: reconcile.Result{Skipped: 2, WriteErr: errors.New("batch 1 failed")},
			},
		}, nil
	}}

	rec := do(t, newHTTPHandler(deps{trips: trips}), http.MethodPost, "/reconcile", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.ReconcileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Trips, 1)
	assert.True(t, resp.GPS.Changed)
	assert.Equal(t, 1, resp.GPS.Updated)
	assert.Equal(t, 2, resp.Routing.Skipped)
	assert.Equal(t, "batch 1 failed", resp.Routing.WriteError)
}
