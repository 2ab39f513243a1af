package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkordes/triplog/internal/domain"
)

// Provider names accepted by New.
const (
	NameOpenRouteService = "openrouteservice"
	NameGraphHopper      = "graphhopper"
	NameOSRM             = "osrm"
	NameGateway          = "gateway"
)

// Default public endpoints.
const (
	DefaultOpenRouteServiceEndpoint = "https://api.openrouteservice.org/v2/directions/driving-car"
	DefaultGraphHopperEndpoint      = "https://graphhopper.com/api/1/route"
	DefaultOSRMEndpoint             = "https://router.project-osrm.org"
	DefaultGatewayEndpoint          = "http://localhost:8090"
)

// ProviderConfig selects and configures one provider.
type ProviderConfig struct {
	Name     string
	Endpoint string // empty uses the provider's default
	APIKey   string
	Timeout  time.Duration
}

// New builds the provider named in cfg.
func New(cfg ProviderConfig) (Provider, error) {
	hc := newHTTPClient(cfg.Timeout)
	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	switch cfg.Name {
	case NameOpenRouteService, "":
		return &OpenRouteService{client: hc, endpoint: orDefault(endpoint, DefaultOpenRouteServiceEndpoint), apiKey: cfg.APIKey}, nil
	case NameGraphHopper:
		return &GraphHopper{client: hc, endpoint: orDefault(endpoint, DefaultGraphHopperEndpoint), apiKey: cfg.APIKey}, nil
	case NameOSRM:
		return &OSRM{client: hc, endpoint: orDefault(endpoint, DefaultOSRMEndpoint)}, nil
	case NameGateway:
		return &Gateway{client: hc, endpoint: orDefault(endpoint, DefaultGatewayEndpoint), apiKey: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("routing.New: %w: unknown provider %q", domain.ErrValidation, cfg.Name)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ---- OpenRouteService ----

// OpenRouteService posts a coordinate pair to the directions API.
type OpenRouteService struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func (p *OpenRouteService) Name() string { return NameOpenRouteService }

func (p *OpenRouteService) Route(ctx context.Context, start, end domain.GeoPoint) Outcome {
	body := orsBody(start, end)
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", p.apiKey)
	}
	v, ok := postJSON(ctx, p.client, p.endpoint, body, header)
	if !ok {
		return Unavailable()
	}
	m, ok := lookup(v, "routes", 0, "summary", "distance")
	if !ok {
		return Unavailable()
	}
	return fromMeters(m)
}

func orsBody(start, end domain.GeoPoint) map[string]any {
	return map[string]any{
		"coordinates": [][2]float64{{start.Lng, start.Lat}, {end.Lng, end.Lat}},
	}
}

// ---- GraphHopper ----

// GraphHopper queries the route API with two point parameters.
type GraphHopper struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func (p *GraphHopper) Name() string { return NameGraphHopper }

func (p *GraphHopper) Route(ctx context.Context, start, end domain.GeoPoint) Outcome {
	v, ok := getJSON(ctx, p.client, pointQueryURL(p.endpoint, start, end, p.apiKey), nil)
	if !ok {
		return Unavailable()
	}
	m, ok := lookup(v, "paths", 0, "distance")
	if !ok {
		return Unavailable()
	}
	return fromMeters(m)
}

func pointQueryURL(endpoint string, start, end domain.GeoPoint, key string) string {
	q := url.Values{}
	q.Add("point", fmt.Sprintf("%f,%f", start.Lat, start.Lng))
	q.Add("point", fmt.Sprintf("%f,%f", end.Lat, end.Lng))
	q.Set("profile", "car")
	q.Set("calc_points", "false")
	if key != "" {
		q.Set("key", key)
	}
	return endpoint + "?" + q.Encode()
}

// ---- OSRM ----

// OSRM uses the path-encoded route service of an OSRM server.
type OSRM struct {
	client   *http.Client
	endpoint string
}

func (p *OSRM) Name() string { return NameOSRM }

func (p *OSRM) Route(ctx context.Context, start, end domain.GeoPoint) Outcome {
	v, ok := getJSON(ctx, p.client, osrmURL(p.endpoint, start, end), nil)
	if !ok {
		return Unavailable()
	}
	if code, _ := lookupString(v, "code"); code != "Ok" {
		return Unavailable()
	}
	m, ok := lookup(v, "routes", 0, "distance")
	if !ok {
		return Unavailable()
	}
	return fromMeters(m)
}

func osrmURL(endpoint string, start, end domain.GeoPoint) string {
	return fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		endpoint, start.Lng, start.Lat, end.Lng, end.Lat)
}
