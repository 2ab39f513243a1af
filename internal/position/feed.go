// Package position holds the latest positioning fix per user and fans new
// fixes out to subscribers. Clients push fixes over HTTP; the recorder reads
// and watches them through the same interface a device sensor would offer.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkordes/triplog/internal/domain"
)

// DefaultMaxAge is how old the latest fix may be and still count as the
// current position.
const DefaultMaxAge = 2 * time.Minute

// Feed is safe for concurrent use.
type Feed struct {
	mu     sync.Mutex
	latest *domain.Fix
	subs   map[int]func(domain.Fix)
	nextID int
	maxAge time.Duration
	now    func() time.Time
}

// NewFeed creates an empty feed. maxAge <= 0 disables the staleness check.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{subs: make(map[int]func(domain.Fix)), maxAge: maxAge, now: time.Now}
}

// Publish records fix as the latest position and delivers it to every
// subscriber. Subscribers run on the caller's goroutine, outside the lock.
func (f *Feed) Publish(fix domain.Fix) {
	if fix.At.IsZero() {
		fix.At = f.now()
	}

	f.mu.Lock()
	cp := fix
	f.latest = &cp
	subs := make([]func(domain.Fix), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(fix)
	}
}

// Current returns the latest fix. It fails with domain.ErrLocationUnavailable
// when no fix was published yet or the latest one is stale.
func (f *Feed) Current(ctx context.Context) (domain.Fix, error) {
	if err := ctx.Err(); err != nil {
		return domain.Fix{}, fmt.Errorf("position.Feed.Current: %w: %v", domain.ErrLocationUnavailable, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latest == nil {
		return domain.Fix{}, fmt.Errorf("position.Feed.Current: %w", domain.ErrLocationUnavailable)
	}
	if f.maxAge > 0 && f.now().Sub(f.latest.At) > f.maxAge {
		return domain.Fix{}, fmt.Errorf("position.Feed.Current: %w: last fix is stale", domain.ErrLocationUnavailable)
	}
	return *f.latest, nil
}

// Watch subscribes fn to future fixes. The returned function unsubscribes
// and may be called more than once.
func (f *Feed) Watch(fn func(domain.Fix)) (stop func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
