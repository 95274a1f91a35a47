// Package config loads the proxy configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/daily"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/errorreporting"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/logging"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/refresh"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/tracing"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/upstream"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Content types accepted for CONTENT_TYPE.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// Config is the complete proxy configuration.
type Config struct {
	Port      string `env:"PORT"       envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// RedisURL is a redis:// URL or host:port. Empty selects the in-process store.
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	KeyPrefix     string `env:"KEY_PREFIX"     envDefault:"bsky-stats"`

	UpstreamURL       string        `env:"UPSTREAM_URL"        envDefault:"https://bsky-search.jazco.io/stats"`
	UserAgent         string        `env:"USER_AGENT"          envDefault:"bsky-stats-proxy/0.1.0"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT"    envDefault:"10s"`
	UpstreamRateLimit float64       `env:"UPSTREAM_RATE_LIMIT" envDefault:"5"`
	UpstreamBurst     int           `env:"UPSTREAM_BURST"      envDefault:"5"`

	CacheTTL  time.Duration `env:"CACHE_TTL"  envDefault:"60s"`
	TimeBasis string        `env:"TIME_BASIS" envDefault:"sample"`

	LockEnabled         bool          `env:"LOCK_ENABLED"           envDefault:"true"`
	LockTTL             time.Duration `env:"LOCK_TTL"               envDefault:"500ms"`
	LockWaitInterval    time.Duration `env:"LOCK_WAIT_INTERVAL"     envDefault:"50ms"`
	LockWaitMaxAttempts int           `env:"LOCK_WAIT_MAX_ATTEMPTS" envDefault:"20"`
	ServeStale          bool          `env:"SERVE_STALE"            envDefault:"true"`
	Coalesce            bool          `env:"REFRESH_COALESCE"       envDefault:"true"`

	DailyEnabled  bool          `env:"DAILY_ENABLED"  envDefault:"true"`
	DailyInterval time.Duration `env:"DAILY_INTERVAL" envDefault:"1h"`
	DailyWindow   time.Duration `env:"DAILY_WINDOW"   envDefault:"168h"`

	ContentType string `env:"CONTENT_TYPE" envDefault:"application/json"`

	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`

	SentryDSN         string  `env:"SENTRY_DSN"`
	SentryEnvironment string  `env:"SENTRY_ENVIRONMENT" envDefault:"development"`
	SentrySampleRate  float64 `env:"SENTRY_SAMPLE_RATE" envDefault:"1"`

	// OTelEndpoint is the OTLP/HTTP collector as host:port.
	OTelEnabled    bool    `env:"OTEL_ENABLED"     envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_ENDPOINT"    envDefault:"localhost:4318"`
	OTelInsecure   bool    `env:"OTEL_INSECURE"    envDefault:"true"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"0.1"`
}

// Load reads the given .env files (default ".env") if they exist, then parses
// the environment and validates the result. Variables already set in the
// environment win over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the proxy cannot run with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if strings.TrimSpace(c.UpstreamURL) == "" {
		errs = append(errs, errors.New("UPSTREAM_URL is required"))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, errors.New("USER_AGENT is required"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be > 0 (got %s)", c.UpstreamTimeout))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be > 0 (got %s)", c.CacheTTL))
	}
	if _, err := stats.ParseTimeBasis(c.TimeBasis); err != nil {
		errs = append(errs, fmt.Errorf("TIME_BASIS: %w", err))
	}
	if c.LockEnabled {
		if c.LockTTL <= 0 {
			errs = append(errs, fmt.Errorf("LOCK_TTL must be > 0 (got %s)", c.LockTTL))
		}
		if c.LockWaitInterval <= 0 {
			errs = append(errs, fmt.Errorf("LOCK_WAIT_INTERVAL must be > 0 (got %s)", c.LockWaitInterval))
		}
		if c.LockWaitMaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("LOCK_WAIT_MAX_ATTEMPTS must be >= 1 (got %d)", c.LockWaitMaxAttempts))
		}
	}
	if c.DailyEnabled {
		if c.DailyInterval <= 0 {
			errs = append(errs, fmt.Errorf("DAILY_INTERVAL must be > 0 (got %s)", c.DailyInterval))
		}
		if c.DailyWindow <= 0 {
			errs = append(errs, fmt.Errorf("DAILY_WINDOW must be > 0 (got %s)", c.DailyWindow))
		}
	}
	if c.ContentType != ContentTypeJSON && c.ContentType != ContentTypeText {
		errs = append(errs, fmt.Errorf("CONTENT_TYPE must be %q or %q (got %q)", ContentTypeJSON, ContentTypeText, c.ContentType))
	}

	if c.SentrySampleRate < 0 || c.SentrySampleRate > 1 {
		errs = append(errs, fmt.Errorf("SENTRY_SAMPLE_RATE must be in [0, 1] (got %g)", c.SentrySampleRate))
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be in [0, 1] (got %g)", c.OTelSampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UseRedis reports whether a Redis server is configured.
func (c Config) UseRedis() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:   logging.LogLevel(c.LogLevel),
		Pretty:  c.LogPretty,
		Service: "bsky-stats-proxy",
	}
}

// Upstream returns the upstream client settings.
func (c Config) Upstream() upstream.Config {
	return upstream.Config{
		URL:       c.UpstreamURL,
		UserAgent: c.UserAgent,
		Timeout:   c.UpstreamTimeout,
		RateLimit: c.UpstreamRateLimit,
		Burst:     c.UpstreamBurst,
	}
}

// Calculator returns the growth-rate calculation settings.
func (c Config) Calculator() stats.CalculatorConfig {
	cfg := stats.DefaultCalculatorConfig()
	cfg.TTL = c.CacheTTL
	if basis, err := stats.ParseTimeBasis(c.TimeBasis); err == nil {
		cfg.Basis = basis
	}
	return cfg
}

// Refresh returns the refresh coordinator settings.
func (c Config) Refresh() refresh.Config {
	cfg := refresh.DefaultConfig()
	cfg.LockEnabled = c.LockEnabled
	cfg.LockTTL = c.LockTTL
	cfg.Wait.Interval = c.LockWaitInterval
	cfg.Wait.MaxAttempts = c.LockWaitMaxAttempts
	cfg.ServeStale = c.ServeStale
	cfg.Coalesce = c.Coalesce
	return cfg
}

// ErrorReporting returns the Sentry settings.
func (c Config) ErrorReporting() errorreporting.Config {
	return errorreporting.Config{
		DSN:         c.SentryDSN,
		Environment: c.SentryEnvironment,
		Release:     c.ServiceVersion,
		SampleRate:  c.SentrySampleRate,
	}
}

// Tracing returns the OpenTelemetry settings.
func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		Insecure:       c.OTelInsecure,
		SampleRate:     c.OTelSampleRate,
		ServiceName:    "bsky-stats-proxy",
		ServiceVersion: c.ServiceVersion,
	}
}

// Daily returns the daily job settings.
func (c Config) Daily() daily.Config {
	cfg := daily.DefaultConfig()
	cfg.Interval = c.DailyInterval
	cfg.Window = c.DailyWindow
	return cfg
}
