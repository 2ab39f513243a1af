package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/position"
	"github.com/pkordes/triplog/internal/recorder"
)

// DraftStore is the local draft persistence the recorder and resume need.
type DraftStore interface {
	recorder.DraftStore
	ReadDraft(ctx context.Context, userID string) ([]byte, error)
}

// SessionDeps are shared by every user's recorder.
type SessionDeps struct {
	Geocoder  recorder.Geocoder
	Routes    recorder.RouteResolver
	Remote    recorder.TripAppender
	Local     DraftStore
	FixMaxAge time.Duration
}

// userSession is created empty under the registry lock and initialized
// under its own lock, so a slow draft read only blocks that user.
type userSession struct {
	mu       sync.Mutex
	ready    bool
	feed     *position.Feed
	recorder *recorder.Recorder
}

// Sessions holds one recorder and position feed per user, created on first
// use. Creating a session resumes the user's local draft, if any.
type Sessions struct {
	deps   SessionDeps
	logger *slog.Logger

	mu     sync.Mutex
	byUser map[string]*userSession
}

// NewSessions constructs an empty session registry.
func NewSessions(deps SessionDeps, logger *slog.Logger) *Sessions {
	return &Sessions{deps: deps, logger: logger, byUser: make(map[string]*userSession)}
}

// Start begins a trip for userID at the latest published position.
func (s *Sessions) Start(ctx context.Context, userID string) (domain.Trip, error) {
	us, err := s.session(ctx, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Sessions.Start: %w", err)
	}
	trip, err := us.recorder.Start(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Sessions.Start: %w", err)
	}
	return trip, nil
}

// Publish delivers a positioning fix for userID and returns the active
// trip afterwards, if one is running.
func (s *Sessions) Publish(ctx context.Context, userID string, fix domain.Fix) (domain.Trip, bool, error) {
	us, err := s.session(ctx, userID)
	if err != nil {
		return domain.Trip{}, false, fmt.Errorf("service.Sessions.Publish: %w", err)
	}
	us.feed.Publish(fix)
	trip, active := us.recorder.Active()
	return trip, active, nil
}

// Stop finalizes the active trip of userID. A returned error wrapping
// domain.ErrPersistence comes with a valid trip that is held locally.
func (s *Sessions) Stop(ctx context.Context, userID string) (domain.Trip, error) {
	us, err := s.session(ctx, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Sessions.Stop: %w", err)
	}
	trip, err := us.recorder.Stop(ctx)
	if err != nil {
		return trip, fmt.Errorf("service.Sessions.Stop: %w", err)
	}
	return trip, nil
}

// Active returns the in-progress trip of userID.
// Returns domain.ErrNoActiveTrip when the user is idle.
func (s *Sessions) Active(ctx context.Context, userID string) (domain.Trip, error) {
	us, err := s.session(ctx, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Sessions.Active: %w", err)
	}
	trip, ok := us.recorder.Active()
	if !ok {
		return domain.Trip{}, fmt.Errorf("service.Sessions.Active: %w", domain.ErrNoActiveTrip)
	}
	return trip, nil
}

func (s *Sessions) session(ctx context.Context, userID string) (*userSession, error) {
	s.mu.Lock()
	us, ok := s.byUser[userID]
	if !ok {
		us = &userSession{}
		s.byUser[userID] = us
	}
	s.mu.Unlock()

	us.mu.Lock()
	defer us.mu.Unlock()
	if us.ready {
		return us, nil
	}

	maxAge := s.deps.FixMaxAge
	if maxAge == 0 {
		maxAge = position.DefaultMaxAge
	}
	feed := position.NewFeed(maxAge)
	rec := recorder.New(userID, recorder.Deps{
		Positions: feed,
		Geocoder:  s.deps.Geocoder,
		Routes:    s.deps.Routes,
		Remote:    s.deps.Remote,
		Local:     s.deps.Local,
	}, s.logger)

	draft, err := s.deps.Local.ReadDraft(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// idle user
	case err != nil:
		return nil, err
	default:
		if err := rec.Resume(ctx, draft); err != nil {
			return nil, err
		}
	}

	us.feed, us.recorder, us.ready = feed, rec, true
	return us, nil
}
