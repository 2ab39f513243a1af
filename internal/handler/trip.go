package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pkordes/triplog/internal/middleware"
	"github.com/pkordes/triplog/internal/service"
)

// ListTrips handles GET /trips.
// Trips are returned most recent first without reconciling their distances;
// POST /reconcile does that.
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	list, err := s.trips.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TripList{Trips: tripsToResponse(list.Trips), FromCache: list.FromCache})
}

// GetTripViews handles GET /trips/views?filter=.
// filter is empty, lastWeek or lastMonth and narrows the past list only.
func (s *Server) GetTripViews(w http.ResponseWriter, r *http.Request) {
	filter, err := service.ParsePastFilter(r.URL.Query().Get("filter"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	views, err := s.trips.Views(r.Context(), middleware.UserID(r.Context()), s.now(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TripViews{
		CurrentWeek: tripsToResponse(views.CurrentWeek),
		Past:        tripsToResponse(views.Past),
		FromCache:   views.FromCache,
	})
}

// GetTripRoute handles GET /trips/{id}/route and returns a GeoJSON Feature.
func (s *Server) GetTripRoute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "validation_error", "trip id must be an integer")
		return
	}
	b, err := s.trips.RouteGeoJSON(r.Context(), middleware.UserID(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// Reconcile handles POST /reconcile.
// It loads the trip collection and runs both reconciliation passes. Write
// failures are reported per pass; the response is still 200.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.trips.Load(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ReconcileResponse{
		TripList: TripList{Trips: tripsToResponse(res.Trips), FromCache: res.FromCache},
		GPS:      passToResponse(res.Report.GPS),
		Routing:  passToResponse(res.Report.Routing),
	})
}
