package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/triplog/internal/domain"
)

// ErrorDetail is the body of every non-2xx JSON response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorDetail as {"error":{...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// writeJSON encodes v with the given status. Encoding errors are logged;
// the status line has already been sent by then.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeServiceError maps a service error to its HTTP status. Unknown errors
// become 500 with a generic message; the cause is logged, never returned.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", unwrapMessage(err, domain.ErrNotFound))
	case errors.Is(err, domain.ErrLocationUnavailable):
		s.writeError(w, http.StatusUnprocessableEntity, "location_unavailable", "no position fix available")
	case errors.Is(err, domain.ErrTripActive):
		s.writeError(w, http.StatusConflict, "trip_active", "a trip is already being recorded")
	case errors.Is(err, domain.ErrNoActiveTrip):
		s.writeError(w, http.StatusConflict, "no_active_trip", "no trip is being recorded")
	case errors.Is(err, domain.ErrValidation):
		s.writeError(w, http.StatusUnprocessableEntity, "validation_error", unwrapMessage(err, domain.ErrValidation))
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// unwrapMessage extracts the human-readable part after a wrapped sentinel.
// e.g. "service.OdometerService.SaveReading: validation error: reading must not be negative"
// → "reading must not be negative"
func unwrapMessage(err, sentinel error) string {
	msg := err.Error()
	marker := sentinel.Error() + ": "
	if i := strings.LastIndex(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return sentinel.Error()
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// requestError writes a 422 for a request rejected before reaching the
// service layer, or 413 when the body exceeded the size limit.
func (s *Server) requestError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	s.writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
}
