// Package service contains the application logic of the trip log.
// Services orchestrate the recorder, reconciler and repositories; no SQL
// lives here. Services depend on small consumer-side interfaces, not on
// concrete implementations.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
	"github.com/pkordes/triplog/internal/reconcile"
)

// TripLister reads the remote trip collection.
type TripLister interface {
	ListTrips(ctx context.Context, userID string) ([]domain.Trip, error)
}

// TripCache is the local mirror of the trip collection.
type TripCache interface {
	ReadCache(ctx context.Context, userID string) ([]domain.Trip, error)
	WriteCache(ctx context.Context, userID string, trips []domain.Trip) error
}

// Reconciler recomputes stored distances in place.
type Reconciler interface {
	Run(ctx context.Context, userID string, trips []domain.Trip) reconcile.Report
}

// TripList is the result of listing a user's trips.
type TripList struct {
	Trips []domain.Trip
	// FromCache is true when the remote store was unreachable and the list
	// comes from the local cache.
	FromCache bool
}

// LoadResult is a reconciled trip list.
type LoadResult struct {
	TripList
	Report reconcile.Report
}

// TripService implements the trip collection operations.
type TripService struct {
	remote     TripLister
	cache      TripCache
	reconciler Reconciler
	loc        *time.Location
	logger     *slog.Logger

	loads singleflight.Group
}

// NewTripService constructs a TripService. loc is the user-local time zone
// used for week and month boundaries.
func NewTripService(remote TripLister, cache TripCache, reconciler Reconciler, loc *time.Location, logger *slog.Logger) *TripService {
	if loc == nil {
		loc = time.Local
	}
	return &TripService{remote: remote, cache: cache, reconciler: reconciler, loc: loc, logger: logger}
}

// List returns the trips of userID, most recent first. It reads the remote
// store and refreshes the local cache from it; when the remote store fails
// the cached copy is returned instead.
func (s *TripService) List(ctx context.Context, userID string) (TripList, error) {
	remote, err := s.remote.ListTrips(ctx, userID)
	if err != nil {
		s.logger.Warn("remote list failed, using local cache", "user_id", userID, "error", err)
		cached, cerr := s.cache.ReadCache(ctx, userID)
		if cerr != nil {
			return TripList{}, fmt.Errorf("service.TripService.List: %w: remote: %v; cache: %v",
				domain.ErrPersistence, err, cerr)
		}
		return TripList{Trips: cached, FromCache: true}, nil
	}

	trips := s.withLocalOnly(ctx, userID, remote)
	if err := s.cache.WriteCache(ctx, userID, trips); err != nil {
		s.logger.Warn("cache refresh failed", "user_id", userID, "error", err)
	}
	return TripList{Trips: trips}, nil
}

// withLocalOnly adds cached trips that never reached the remote store, so
// refreshing the cache does not lose them.
func (s *TripService) withLocalOnly(ctx context.Context, userID string, remote []domain.Trip) []domain.Trip {
	cached, err := s.cache.ReadCache(ctx, userID)
	if err != nil {
		return remote
	}
	known := make(map[int64]struct{}, len(remote))
	for _, t := range remote {
		known[t.ID] = struct{}{}
	}
	merged := remote
	for _, t := range cached {
		if _, ok := known[t.ID]; ok || t.DocID != "" {
			continue
		}
		merged = append(merged, t)
	}
	if len(merged) != len(remote) {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].StartTime.After(merged[j].StartTime)
		})
	}
	return merged
}

// Load lists the trips of userID and runs both reconciliation passes on
// them. Concurrent loads for the same user share one execution.
func (s *TripService) Load(ctx context.Context, userID string) (LoadResult, error) {
	v, err, shared := s.loads.Do(userID, func() (any, error) {
		list, err := s.List(ctx, userID)
		if err != nil {
			return LoadResult{}, err
		}
		report := s.reconciler.Run(ctx, userID, list.Trips)
		return LoadResult{TripList: list, Report: report}, nil
	})
	if err != nil {
		return LoadResult{}, fmt.Errorf("service.TripService.Load: %w", err)
	}
	if shared {
		s.logger.Debug("load shared with concurrent caller", "user_id", userID)
	}
	return v.(LoadResult), nil
}

// RouteGeoJSON returns the route of trip tripID as a GeoJSON Feature.
// Returns domain.ErrNotFound if the user has no such trip.
func (s *TripService) RouteGeoJSON(ctx context.Context, userID string, tripID int64) ([]byte, error) {
	list, err := s.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.TripService.RouteGeoJSON: %w", err)
	}
	for _, t := range list.Trips {
		if t.ID != tripID {
			continue
		}
		b, err := geo.RouteFeature(t)
		if err != nil {
			return nil, fmt.Errorf("service.TripService.RouteGeoJSON: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("service.TripService.RouteGeoJSON: trip %d: %w", tripID, domain.ErrNotFound)
}
