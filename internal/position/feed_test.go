package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/position"
)

func TestFeed_CurrentWithoutFix(t *testing.T) {
	f := position.NewFeed(0)

	_, err := f.Current(context.Background())
	assert.ErrorIs(t, err, domain.ErrLocationUnavailable)
}

func TestFeed_CurrentReturnsLatest(t *testing.T) {
	f := position.NewFeed(0)
	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 1, Lng: 2}})
	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 3, Lng: 4}})

	got, err := f.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GeoPoint{Lat: 3, Lng: 4}, got.Point)
	assert.False(t, got.At.IsZero())
}

func TestFeed_StaleFix(t *testing.T) {
	f := position.NewFeed(time.Minute)
	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 1, Lng: 2}, At: time.Now().Add(-time.Hour)})

	_, err := f.Current(context.Background())
	assert.ErrorIs(t, err, domain.ErrLocationUnavailable)
}

func TestFeed_WatchAndStop(t *testing.T) {
	f := position.NewFeed(0)
	var got []domain.GeoPoint
	stop := f.Watch(func(fix domain.Fix) { got = append(got, fix.Point) })

	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 1, Lng: 1}})
	stop()
	stop()
	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 2, Lng: 2}})

	assert.Equal(t, []domain.GeoPoint{{Lat: 1, Lng: 1}}, got)
}

// A subscriber may call back into the feed without deadlocking.
func TestFeed_SubscriberCanReadCurrent(t *testing.T) {
	f := position.NewFeed(0)
	var seen domain.Fix
	f.Watch(func(domain.Fix) {
		seen, _ = f.Current(context.Background())
	})

	f.Publish(domain.Fix{Point: domain.GeoPoint{Lat: 5, Lng: 6}})
	assert.Equal(t, domain.GeoPoint{Lat: 5, Lng: 6}, seen.Point)
}
