package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
)

// ExportService flattens a user's finished trips into logbook rows.
type ExportService struct {
	trips tripSource
	loc   *time.Location
}

// NewExportService constructs an ExportService. loc defines calendar days.
func NewExportService(trips tripSource, loc *time.Location) *ExportService {
	if loc == nil {
		loc = time.Local
	}
	return &ExportService{trips: trips, loc: loc}
}

// Export returns one row per finished trip of userID, oldest first.
// Active trips are left out; their distance is not final.
func (s *ExportService) Export(ctx context.Context, userID string) ([]domain.ExportRow, error) {
	list, err := s.trips.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Export: %w", err)
	}

	rows := make([]domain.ExportRow, 0, len(list.Trips))
	for _, t := range list.Trips {
		if t.Active() {
			continue
		}
		rows = append(rows, domain.ExportRow{
			TripID:         t.ID,
			Day:            t.StartTime.In(s.loc).Format(domain.DayStampLayout),
			StartTime:      t.StartTime,
			EndTime:        *t.EndTime,
			StartAddress:   t.StartAddress,
			EndAddress:     t.EndAddress,
			DistanceKm:     geo.Round3(t.Distance),
			DistanceSource: t.DistanceSource,
			Points:         len(t.RouteCoordinates),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].StartTime.Before(rows[j].StartTime)
	})
	return rows, nil
}
