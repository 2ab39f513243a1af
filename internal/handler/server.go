// Package handler implements the HTTP handlers for the trip log API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (health.go, session.go, trip.go, odometer.go) but all share the same
// Server struct so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/service"
)

// TripSessions defines the live recording operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without a recorder, a cache or a database.
type TripSessions interface {
	Start(ctx context.Context, userID string) (domain.Trip, error)
	Publish(ctx context.Context, userID string, fix domain.Fix) (domain.Trip, bool, error)
	Stop(ctx context.Context, userID string) (domain.Trip, error)
	Active(ctx context.Context, userID string) (domain.Trip, error)
}

// TripServicer defines the trip collection operations.
type TripServicer interface {
	List(ctx context.Context, userID string) (service.TripList, error)
	Load(ctx context.Context, userID string) (service.LoadResult, error)
	Views(ctx context.Context, userID string, now time.Time, filter service.PastFilter) (service.TripViews, error)
	RouteGeoJSON(ctx context.Context, userID string, tripID int64) ([]byte, error)
}

// OdometerServicer defines the odometer operations.
type OdometerServicer interface {
	Get(ctx context.Context, userID string) (domain.OdometerState, error)
	SaveReading(ctx context.Context, userID string, reading float64) (domain.OdometerState, error)
	ConfirmDay(ctx context.Context, userID string, reading float64) (domain.DaySummary, error)
}

// Exporter flattens trips into logbook rows.
type Exporter interface {
	Export(ctx context.Context, userID string) ([]domain.ExportRow, error)
}

// Server holds the dependencies shared by every handler.
type Server struct {
	sessions TripSessions
	trips    TripServicer
	odometer OdometerServicer
	export   Exporter
	logger   *slog.Logger
	openAPI  []byte
	now      func() time.Time
}

// NewServer constructs the Server with all its dependencies.
// openAPI is served verbatim at GET /openapi.yaml.
func NewServer(sessions TripSessions, trips TripServicer, odometer OdometerServicer, export Exporter, openAPI []byte, logger *slog.Logger) *Server {
	return &Server{
		sessions: sessions,
		trips:    trips,
		odometer: odometer,
		export:   export,
		logger:   logger,
		openAPI:  openAPI,
		now:      time.Now,
	}
}

// Routes registers every endpoint on r. Wire the user scope middleware on r
// before calling Routes; handlers read the user id from the request context.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Route("/trip", func(r chi.Router) {
		r.Post("/start", s.StartTrip)
		r.Post("/position", s.PublishPosition)
		r.Post("/stop", s.StopTrip)
		r.Get("/active", s.GetActiveTrip)
	})

	r.Route("/trips", func(r chi.Router) {
		r.Get("/", s.ListTrips)
		r.Get("/views", s.GetTripViews)
		r.Get("/export", s.ExportTrips)
		r.Get("/{id}/route", s.GetTripRoute)
	})
	r.Post("/reconcile", s.Reconcile)

	r.Route("/odometer", func(r chi.Router) {
		r.Get("/", s.GetOdometer)
		r.Put("/", s.PutOdometer)
		r.Post("/confirm", s.ConfirmDay)
	})
}
