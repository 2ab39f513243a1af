package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geo"
)

// StateStore persists the per-user state document with merge semantics.
type StateStore interface {
	LoadUserState(ctx context.Context, userID string) (domain.UserState, error)
	SaveUserState(ctx context.Context, userID string, partial domain.UserState) error
}

// tripSource lists trips for the day summary. TripService satisfies it.
type tripSource interface {
	List(ctx context.Context, userID string) (TripList, error)
}

// OdometerService keeps the manually entered odometer readings and
// compares them with recorded trip distances.
type OdometerService struct {
	store  StateStore
	trips  tripSource
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewOdometerService constructs an OdometerService. loc is the user-local
// time zone that defines calendar days.
func NewOdometerService(store StateStore, trips tripSource, loc *time.Location, logger *slog.Logger) *OdometerService {
	if loc == nil {
		loc = time.Local
	}
	return &OdometerService{store: store, trips: trips, loc: loc, now: time.Now, logger: logger}
}

// Get returns the odometer state of userID after rolling the day over if
// the stored day stamp is older than today.
func (s *OdometerService) Get(ctx context.Context, userID string) (domain.OdometerState, error) {
	st, err := s.EnsureDayStamp(ctx, userID, s.now())
	if err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.Get: %w", err)
	}
	return st, nil
}

// SaveReading records reading as the current odometer value. The first
// reading of a day also becomes the day's start reading.
// Returns domain.ErrValidation for negative or non-finite readings.
func (s *OdometerService) SaveReading(ctx context.Context, userID string, reading float64) (domain.OdometerState, error) {
	if err := validateReading(reading); err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.SaveReading: %w", err)
	}

	st, err := s.load(ctx, userID)
	if err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.SaveReading: %w", err)
	}

	now := s.now()
	st = applyReading(st, reading, now.In(s.loc).Format(domain.DayStampLayout), now)
	if err := s.save(ctx, userID, st); err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.SaveReading: %w", err)
	}
	return st, nil
}

// EnsureDayStamp rolls the state over to the calendar day of now: when the
// stored day is older, the start-of-day readings are reset to the last
// current reading and the day stamp is updated. The current reading is
// never changed.
func (s *OdometerService) EnsureDayStamp(ctx context.Context, userID string, now time.Time) (domain.OdometerState, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.EnsureDayStamp: %w", err)
	}

	today := now.In(s.loc).Format(domain.DayStampLayout)
	rolled, changed := rollDay(st, today)
	if !changed {
		return st, nil
	}
	if err := s.save(ctx, userID, rolled); err != nil {
		return domain.OdometerState{}, fmt.Errorf("service.OdometerService.EnsureDayStamp: %w", err)
	}
	s.logger.Info("odometer day rolled over", "user_id", userID, "day", today)
	return rolled, nil
}

// ConfirmDay saves reading as the end-of-day value and compares the day's
// odometer distance with the distance of trips started that day. The
// start-of-day reading then moves to reading, so a later confirmation on
// the same day only covers what was driven after this one.
func (s *OdometerService) ConfirmDay(ctx context.Context, userID string, reading float64) (domain.DaySummary, error) {
	st, err := s.SaveReading(ctx, userID, reading)
	if err != nil {
		return domain.DaySummary{}, fmt.Errorf("service.OdometerService.ConfirmDay: %w", err)
	}

	list, err := s.trips.List(ctx, userID)
	if err != nil {
		return domain.DaySummary{}, fmt.Errorf("service.OdometerService.ConfirmDay: %w", err)
	}

	day := *st.DayStamp
	sum := domain.DaySummary{Day: day}
	for _, t := range list.Trips {
		if t.Active() || t.StartTime.In(s.loc).Format(domain.DayStampLayout) != day {
			continue
		}
		sum.RecordedKm += t.Distance
		sum.TripCount++
	}
	sum.OdometerKm = geo.Round3(*st.CurrentReading - *st.InitialStartOfDayReading)
	sum.RecordedKm = geo.Round3(sum.RecordedKm)
	sum.DifferenceKm = geo.Round3(sum.OdometerKm - sum.RecordedKm)

	confirmed := *st.CurrentReading
	st.StartOfDayReading = &confirmed
	if err := s.save(ctx, userID, st); err != nil {
		return domain.DaySummary{}, fmt.Errorf("service.OdometerService.ConfirmDay: %w", err)
	}
	return sum, nil
}

// load returns the stored state, resetting unreadable content to defaults.
func (s *OdometerService) load(ctx context.Context, userID string) (domain.OdometerState, error) {
	us, err := s.store.LoadUserState(ctx, userID)
	if err != nil {
		return domain.OdometerState{}, err
	}
	if len(us.Odometer) == 0 {
		return domain.OdometerState{}, nil
	}
	var st domain.OdometerState
	if err := json.Unmarshal(us.Odometer, &st); err != nil || !validState(st) {
		s.logger.Warn("resetting malformed odometer state", "user_id", userID, "error", err)
		return domain.OdometerState{}, nil
	}
	return st, nil
}

func (s *OdometerService) save(ctx context.Context, userID string, st domain.OdometerState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.store.SaveUserState(ctx, userID, domain.UserState{Odometer: b})
}

func applyReading(st domain.OdometerState, reading float64, today string, now time.Time) domain.OdometerState {
	st, _ = rollDay(st, today)
	r := reading
	st.CurrentReading = &r
	if st.DayStamp == nil || *st.DayStamp != today || st.StartOfDayReading == nil {
		sod, initial, day := reading, reading, today
		st.StartOfDayReading = &sod
		st.InitialStartOfDayReading = &initial
		st.DayStamp = &day
	}
	if st.InitialStartOfDayReading == nil {
		initial := *st.StartOfDayReading
		st.InitialStartOfDayReading = &initial
	}
	ts := now.UTC()
	st.LastUpdated = &ts
	return st
}

// rollDay resets the start-of-day readings when st belongs to an earlier day.
func rollDay(st domain.OdometerState, today string) (domain.OdometerState, bool) {
	if st.DayStamp == nil || *st.DayStamp == today || st.CurrentReading == nil {
		return st, false
	}
	sod, initial, day := *st.CurrentReading, *st.CurrentReading, today
	st.StartOfDayReading = &sod
	st.InitialStartOfDayReading = &initial
	st.DayStamp = &day
	return st, true
}

func validateReading(r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: reading must be a finite number", domain.ErrValidation)
	}
	if r < 0 {
		return fmt.Errorf("%w: reading must not be negative", domain.ErrValidation)
	}
	return nil
}

func validState(st domain.OdometerState) bool {
	for _, v := range []*float64{st.CurrentReading, st.StartOfDayReading, st.InitialStartOfDayReading} {
		if v != nil && validateReading(*v) != nil {
			return false
		}
	}
	if st.DayStamp != nil {
		if _, err := time.Parse(domain.DayStampLayout, *st.DayStamp); err != nil {
			return false
		}
	}
	return true
}
