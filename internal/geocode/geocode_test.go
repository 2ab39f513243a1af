package geocode_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/internal/geocode"
)

var point = domain.GeoPoint{Lat: 48.137154, Lng: 11.576124}

func newGeocoder(t *testing.T, h http.HandlerFunc) *geocode.Nominatim {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return geocode.NewNominatim(srv.URL, true, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddress_DisplayName(t *testing.T) {
	g := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"display_name":"Marienplatz, München"}`))
	})

	assert.Equal(t, "Marienplatz, München", g.Address(context.Background(), point))
}

func TestAddress_FallsBackToCoordinates(t *testing.T) {
	g := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	assert.Equal(t, "48.137154, 11.576124", g.Address(context.Background(), point))
}

func TestAddress_EmptyDisplayNameFallsBack(t *testing.T) {
	g := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	assert.Equal(t, geocode.Fallback(point), g.Address(context.Background(), point))
}

func TestAddress_Disabled(t *testing.T) {
	g := geocode.NewNominatim("http://127.0.0.1:1", false, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, geocode.Fallback(point), g.Address(context.Background(), point))
}

func TestAddress_InvalidPoint(t *testing.T) {
	g := geocode.NewNominatim("", false, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, domain.UnknownAddress, g.Address(context.Background(), domain.GeoPoint{Lat: 100}))
}
