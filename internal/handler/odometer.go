package handler

import (
	"errors"
	"net/http"

	"github.com/pkordes/triplog/internal/middleware"
)

// GetOdometer handles GET /odometer.
// Reading the state also rolls the day baselines over on a new day.
func (s *Server) GetOdometer(w http.ResponseWriter, r *http.Request) {
	st, err := s.odometer.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, odometerToResponse(st))
}

// PutOdometer handles PUT /odometer.
func (s *Server) PutOdometer(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.readingFromBody(w, r)
	if !ok {
		return
	}
	st, err := s.odometer.SaveReading(r.Context(), middleware.UserID(r.Context()), reading)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, odometerToResponse(st))
}

// ConfirmDay handles POST /odometer/confirm.
// It closes the day at the given reading and compares the odometer distance
// with the recorded trips.
func (s *Server) ConfirmDay(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.readingFromBody(w, r)
	if !ok {
		return
	}
	sum, err := s.odometer.ConfirmDay(r.Context(), middleware.UserID(r.Context()), reading)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	day, _ := parseDay(sum.Day)
	s.writeJSON(w, http.StatusOK, DaySummary{
		Day:          day,
		OdometerKm:   sum.OdometerKm,
		RecordedKm:   sum.RecordedKm,
		DifferenceKm: sum.DifferenceKm,
		TripCount:    sum.TripCount,
	})
}

func (s *Server) readingFromBody(w http.ResponseWriter, r *http.Request) (float64, bool) {
	var body OdometerReadingRequest
	if err := decodeBody(r, &body); err != nil {
		s.requestError(w, err)
		return 0, false
	}
	if body.Reading == nil {
		s.requestError(w, errors.New("reading is required"))
		return 0, false
	}
	return *body.Reading, true
}
