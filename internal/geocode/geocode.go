// Package geocode turns coordinates into human-readable addresses.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkordes/triplog/internal/domain"
)

// DefaultEndpoint is the public Nominatim instance.
const DefaultEndpoint = "https://nominatim.openstreetmap.org"

// userAgent identifies this service to Nominatim, whose usage policy
// requires one.
const userAgent = "triplog/1.0"

// Nominatim reverse-geocodes through the Nominatim /reverse API.
// Address never fails: when the lookup fails it returns the coordinates
// formatted with six decimals.
type Nominatim struct {
	client   *http.Client
	endpoint string
	enabled  bool
	logger   *slog.Logger
}

// NewNominatim creates a reverse geocoder. With enabled false every lookup
// returns the coordinate fallback without a network call.
func NewNominatim(endpoint string, enabled bool, timeout time.Duration, logger *slog.Logger) *Nominatim {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Nominatim{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(endpoint, "/"),
		enabled:  enabled,
		logger:   logger,
	}
}

// Fallback is the label used when no address can be resolved.
func Fallback(p domain.GeoPoint) string {
	return fmt.Sprintf("%.6f, %.6f", p.Lat, p.Lng)
}

// Address returns the display name for p.
func (n *Nominatim) Address(ctx context.Context, p domain.GeoPoint) string {
	if !p.Valid() {
		return domain.UnknownAddress
	}
	if !n.enabled {
		return Fallback(p)
	}
	name, err := n.lookup(ctx, p)
	if err != nil {
		n.logger.Warn("reverse geocoding failed", "error", err)
		return Fallback(p)
	}
	return name
}

func (n *Nominatim) lookup(ctx context.Context, p domain.GeoPoint) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", p.Lat))
	q.Set("lon", fmt.Sprintf("%f", p.Lng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("geocode.Nominatim.lookup: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode.Nominatim.lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode.Nominatim.lookup: status %d", resp.StatusCode)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("geocode.Nominatim.lookup: decode: %w", err)
	}
	if body.DisplayName == "" {
		return "", fmt.Errorf("geocode.Nominatim.lookup: empty display_name")
	}
	return body.DisplayName, nil
}
