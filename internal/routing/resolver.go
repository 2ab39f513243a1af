package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pkordes/triplog/internal/domain"
)

// Provider computes a driving distance between two points.
// Implementations must never return an error: anything that is not a usable
// distance is reported as Unavailable.
type Provider interface {
	Name() string
	Route(ctx context.Context, start, end domain.GeoPoint) Outcome
}

// Readier is implemented by providers that need to be polled before the
// first request. Providers without it are always ready.
type Readier interface {
	Ready(ctx context.Context) bool
}

// Readiness bounds for providers implementing Readier.
const (
	DefaultReadyAttempts = 30
	DefaultReadyInterval = 500 * time.Millisecond
	DefaultReadyTimeout  = 15 * time.Second
)

var errNotReady = errors.New("routing provider not ready")

// ResolverConfig controls a Resolver. Zero readiness values use the defaults.
type ResolverConfig struct {
	Enabled       bool
	ReadyAttempts int
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
}

// Resolver wraps the configured Provider with the enable flag, readiness
// polling and output validation. Once a Readier provider has reported ready
// it is not polled again.
type Resolver struct {
	provider Provider
	cfg      ResolverConfig
	logger   *slog.Logger

	ready atomic.Bool
}

// NewResolver creates a Resolver. A nil provider yields a permanently
// disabled resolver.
func NewResolver(p Provider, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = DefaultReadyAttempts
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Resolver{provider: p, cfg: cfg, logger: logger}
}

// Enabled reports whether routing is configured and switched on.
func (r *Resolver) Enabled() bool {
	return r != nil && r.cfg.Enabled && r.provider != nil
}

// Resolve returns the routed distance between start and end. A provider
// that implements Readier is polled first and no request is issued until it
// reports ready. A provider panic is recovered and reported as Unavailable.
func (r *Resolver) Resolve(ctx context.Context, start, end domain.GeoPoint) (out Outcome) {
	if !r.Enabled() {
		return Unavailable()
	}
	if !start.Valid() || !end.Valid() {
		return Unavailable()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("routing provider panicked", "provider", r.provider.Name(), "panic", rec)
			out = Unavailable()
		}
	}()

	if !r.WaitReady(ctx) {
		return Unavailable()
	}

	km, ok := r.provider.Route(ctx, start, end).Km()
	if !ok {
		r.logger.Debug("routing unavailable", "provider", r.provider.Name())
		return Unavailable()
	}
	return Distance(km)
}

// WaitReady blocks until the provider reports ready, the attempt budget is
// spent, or the readiness timeout elapses. It returns false for a disabled
// resolver.
func (r *Resolver) WaitReady(ctx context.Context) bool {
	if !r.Enabled() {
		return false
	}
	rd, ok := r.provider.(Readier)
	if !ok || r.ready.Load() {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadyTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(uint64(r.cfg.ReadyAttempts-1), retry.NewConstant(r.cfg.ReadyInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if rd.Ready(ctx) {
			return nil
		}
		return retry.RetryableError(errNotReady)
	})
	if err != nil {
		r.logger.Warn("routing provider not ready", "provider", r.provider.Name(), "error", err)
		return false
	}
	r.ready.Store(true)
	return true
}
