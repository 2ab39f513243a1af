package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/middleware"
)

// csvHeaders defines the column names written as the first row of any CSV export.
var csvHeaders = []string{
	"trip_id", "day", "start_time", "end_time",
	"start_address", "end_address", "distance_km", "distance_source", "points",
}

// ExportTrips handles GET /trips/export.
// It returns one row per finished trip, oldest first.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) ExportTrips(w http.ResponseWriter, r *http.Request) {
	rows, err := s.export.Export(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		s.writeJSON(w, http.StatusOK, buildJSONExport(rows))
	case "csv":
		s.writeCSVExport(w, rows)
	default:
		s.writeError(w, http.StatusUnprocessableEntity, "validation_error", "format must be json or csv")
	}
}

func buildJSONExport(rows []domain.ExportRow) []ExportRow {
	out := make([]ExportRow, 0, len(rows))
	for _, r := range rows {
		day, _ := parseDay(r.Day)
		out = append(out, ExportRow{
			TripID:         r.TripID,
			Day:            day,
			StartTime:      r.StartTime,
			EndTime:        r.EndTime,
			StartAddress:   r.StartAddress,
			EndAddress:     r.EndAddress,
			DistanceKm:     r.DistanceKm,
			DistanceSource: string(r.DistanceSource),
			Points:         r.Points,
		})
	}
	return out
}

// writeCSVExport buffers the CSV so a write error cannot leave a truncated
// body behind a 200 status.
func (s *Server) writeCSVExport(w http.ResponseWriter, rows []domain.ExportRow) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	//nolint:errcheck // bytes.Buffer.Write never returns an error.
	cw.Write(csvHeaders)
	for _, r := range rows {
		//nolint:errcheck
		cw.Write(exportRowToCSVRecord(r))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trips.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func exportRowToCSVRecord(r domain.ExportRow) []string {
	return []string{
		strconv.FormatInt(r.TripID, 10),
		r.Day,
		r.StartTime.UTC().Format(time.RFC3339),
		r.EndTime.UTC().Format(time.RFC3339),
		r.StartAddress,
		r.EndAddress,
		strconv.FormatFloat(r.DistanceKm, 'f', 3, 64),
		string(r.DistanceSource),
		strconv.Itoa(r.Points),
	}
}
