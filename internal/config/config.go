// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// DatabaseURL is the Postgres connection string of the remote trip store. Required.
	DatabaseURL string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// LogFile, when set, receives a rotating copy of the log output.
	LogFile string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to ["http://localhost:5173"].
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// CachePath is the SQLite file of the local cache tier.
	CachePath string

	// DefaultUser is used for requests without an X-User-ID header.
	DefaultUser string

	// Location is the user-local time zone that defines calendar days and weeks.
	// Set TIMEZONE to an IANA name; defaults to the host zone.
	Location *time.Location

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// FixMaxAge is how old the latest position may be and still count as current.
	FixMaxAge time.Duration

	Routing  RoutingConfig
	Geocoder GeocoderConfig

	// ReconcileDelay paces routing requests during reconciliation.
	ReconcileDelay time.Duration
}

// RoutingConfig selects and tunes the routing provider.
type RoutingConfig struct {
	Provider     string
	Enabled      bool
	APIKey       string
	Endpoint     string // empty means the provider's public endpoint
	Timeout      time.Duration
	ReadyTimeout time.Duration
}

// GeocoderConfig configures reverse geocoding.
type GeocoderConfig struct {
	Endpoint string
	Enabled  bool
	Timeout  time.Duration
}

// LoadDotEnv reads variables from a .env file at path into the process
// environment. Variables that are already set win. A missing file is not
// an error; loaded reports whether the file existed.
func LoadDotEnv(path string) (loaded bool, err error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config.LoadDotEnv: %w", err)
	}
	return true, nil
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set and any
// variables that cannot be parsed.
func Load() (Config, error) {
	p := parser{}
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      os.Getenv("LOG_FILE"),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		CachePath:    getEnv("CACHE_PATH", "triplog-cache.db"),
		DefaultUser:  getEnv("DEFAULT_USER", "default"),
		Location:     p.location("TIMEZONE"),
		MaxBodyBytes: p.int64("MAX_BODY_BYTES", 1<<20),
		FixMaxAge:    p.duration("FIX_MAX_AGE", 2*time.Minute),
		Routing: RoutingConfig{
			Provider:     getEnv("ROUTING_PROVIDER", "openrouteservice"),
			Enabled:      p.bool("ROUTING_ENABLED", true),
			APIKey:       os.Getenv("ROUTING_API_KEY"),
			Endpoint:     os.Getenv("ROUTING_ENDPOINT"),
			Timeout:      p.duration("ROUTING_TIMEOUT", 10*time.Second),
			ReadyTimeout: p.duration("ROUTING_READY_TIMEOUT", 15*time.Second),
		},
		Geocoder: GeocoderConfig{
			Endpoint: getEnv("GEOCODER_ENDPOINT", "https://nominatim.openstreetmap.org"),
			Enabled:  p.bool("GEOCODER_ENABLED", true),
			Timeout:  p.duration("GEOCODER_TIMEOUT", 10*time.Second),
		},
		ReconcileDelay: p.duration("RECONCILE_DELAY", 100*time.Millisecond),
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(p.invalid, "; "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parser reads typed variables and collects every parse failure so Load
// can report them together.
type parser struct {
	invalid []string
}

func (p *parser) fail(key, value string, err error) {
	p.invalid = append(p.invalid, fmt.Sprintf("%s=%q: %v", key, value, err))
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	if d < 0 {
		p.fail(key, v, errors.New("must not be negative"))
		return fallback
	}
	return d
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	if n <= 0 {
		p.fail(key, v, errors.New("must be positive"))
		return fallback
	}
	return n
}

func (p *parser) location(key string) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		p.fail(key, v, err)
		return time.Local
	}
	return loc
}
