package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkordes/triplog/internal/domain"
)

// PastFilter narrows the past trips of a TripViews.
type PastFilter string

const (
	FilterNone      PastFilter = ""
	FilterLastWeek  PastFilter = "lastWeek"
	FilterLastMonth PastFilter = "lastMonth"
)

// ParsePastFilter validates a filter name.
func ParsePastFilter(s string) (PastFilter, error) {
	switch f := PastFilter(s); f {
	case FilterNone, FilterLastWeek, FilterLastMonth:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", domain.ErrValidation, s)
	}
}

// TripViews splits trips at the start of the current ISO week.
type TripViews struct {
	CurrentWeek []domain.Trip
	Past        []domain.Trip
	FromCache   bool
}

// Views returns the week partition of userID's trips relative to now.
func (s *TripService) Views(ctx context.Context, userID string, now time.Time, filter PastFilter) (TripViews, error) {
	list, err := s.List(ctx, userID)
	if err != nil {
		return TripViews{}, fmt.Errorf("service.TripService.Views: %w", err)
	}
	v := PartitionByWeek(list.Trips, now.In(s.loc))
	v.FromCache = list.FromCache

	switch filter {
	case FilterLastWeek:
		v.Past = filterLastWeek(v.Past, now.In(s.loc))
	case FilterLastMonth:
		v.Past = filterLastMonth(v.Past, now.In(s.loc))
	}
	return v, nil
}

// PartitionByWeek puts trips starting in now's ISO week (Monday 00:00 in
// now's location) into CurrentWeek and all others into Past. Input order
// is preserved.
func PartitionByWeek(trips []domain.Trip, now time.Time) TripViews {
	start := StartOfISOWeek(now)
	end := start.AddDate(0, 0, 7)

	v := TripViews{CurrentWeek: []domain.Trip{}, Past: []domain.Trip{}}
	for _, t := range trips {
		st := t.StartTime.In(now.Location())
		if !st.Before(start) && st.Before(end) {
			v.CurrentWeek = append(v.CurrentWeek, t)
		} else {
			v.Past = append(v.Past, t)
		}
	}
	return v
}

// StartOfISOWeek returns Monday 00:00 of the week containing t, in t's location.
func StartOfISOWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}

func filterLastWeek(trips []domain.Trip, now time.Time) []domain.Trip {
	thisWeek := StartOfISOWeek(now)
	return between(trips, thisWeek.AddDate(0, 0, -7), thisWeek)
}

func filterLastMonth(trips []domain.Trip, now time.Time) []domain.Trip {
	y, m, _ := now.Date()
	thisMonth := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return between(trips, thisMonth.AddDate(0, -1, 0), thisMonth)
}

func between(trips []domain.Trip, from, to time.Time) []domain.Trip {
	out := []domain.Trip{}
	for _, t := range trips {
		if !t.StartTime.Before(from) && t.StartTime.Before(to) {
			out = append(out, t)
		}
	}
	return out
}
