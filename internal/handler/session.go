package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/middleware"
)

// StartTrip handles POST /trip/start.
// The trip starts at the most recent position published for the user.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.sessions.Start(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tripToResponse(trip))
}

// PublishPosition handles POST /trip/position.
// Fixes are accepted whether or not a trip is running; they also serve as
// the start position of the next trip.
func (s *Server) PublishPosition(w http.ResponseWriter, r *http.Request) {
	var body PositionRequest
	if err := decodeBody(r, &body); err != nil {
		s.requestError(w, err)
		return
	}
	fix, err := requestToFix(body, s.now)
	if err != nil {
		s.requestError(w, err)
		return
	}

	trip, active, err := s.sessions.Publish(r.Context(), middleware.UserID(r.Context()), fix)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := PositionResponse{Active: active}
	if active {
		t := tripToResponse(trip)
		resp.Trip = &t
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// StopTrip handles POST /trip/stop.
// A trip that reached only the local store is still reported as created,
// with a warning.
func (s *Server) StopTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.sessions.Stop(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, domain.ErrPersistence) && !trip.Active() {
			s.logger.WarnContext(r.Context(), "trip kept locally", "trip_id", trip.ID, "error", err)
			s.writeJSON(w, http.StatusCreated, StopResponse{
				Trip:    tripToResponse(trip),
				Warning: "trip saved locally only; remote store unavailable",
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, StopResponse{Trip: tripToResponse(trip)})
}

// GetActiveTrip handles GET /trip/active.
func (s *Server) GetActiveTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.sessions.Active(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tripToResponse(trip))
}

func requestToFix(body PositionRequest, now func() time.Time) (domain.Fix, error) {
	if body.Lat == nil || body.Lng == nil {
		return domain.Fix{}, errors.New("lat and lng are required")
	}
	p := domain.GeoPoint{Lat: *body.Lat, Lng: *body.Lng}
	if !p.Valid() {
		return domain.Fix{}, errors.New("lat and lng must be valid WGS84 coordinates")
	}
	if body.AccuracyMeters != nil && *body.AccuracyMeters < 0 {
		return domain.Fix{}, errors.New("accuracyMeters must not be negative")
	}
	fix := domain.Fix{Point: p, AccuracyMeters: body.AccuracyMeters, At: now()}
	if body.At != nil {
		fix.At = *body.At
	}
	return fix, nil
}
