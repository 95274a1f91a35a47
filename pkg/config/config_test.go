package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/logging"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
)

// clearEnv unsets every variable Config reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "LOG_PRETTY", "REDIS_URL", "REDIS_PASSWORD", "REDIS_DB",
		"KEY_PREFIX", "UPSTREAM_URL", "USER_AGENT", "UPSTREAM_TIMEOUT",
		"UPSTREAM_RATE_LIMIT", "UPSTREAM_BURST", "CACHE_TTL", "TIME_BASIS",
		"LOCK_ENABLED", "LOCK_TTL", "LOCK_WAIT_INTERVAL", "LOCK_WAIT_MAX_ATTEMPTS",
		"SERVE_STALE", "REFRESH_COALESCE", "DAILY_ENABLED", "DAILY_INTERVAL", "DAILY_WINDOW",
		"CONTENT_TYPE", "SERVICE_VERSION", "SENTRY_DSN", "SENTRY_ENVIRONMENT", "SENTRY_SAMPLE_RATE",
		"OTEL_ENABLED", "OTEL_ENDPOINT", "OTEL_INSECURE", "OTEL_SAMPLE_RATE",
	} {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Port", cfg.Port, "8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"KeyPrefix", cfg.KeyPrefix, "bsky-stats"},
		{"UpstreamURL", cfg.UpstreamURL, "https://bsky-search.jazco.io/stats"},
		{"UpstreamTimeout", cfg.UpstreamTimeout, 10 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 60 * time.Second},
		{"TimeBasis", cfg.TimeBasis, "sample"},
		{"LockEnabled", cfg.LockEnabled, true},
		{"LockTTL", cfg.LockTTL, 500 * time.Millisecond},
		{"LockWaitInterval", cfg.LockWaitInterval, 50 * time.Millisecond},
		{"LockWaitMaxAttempts", cfg.LockWaitMaxAttempts, 20},
		{"ServeStale", cfg.ServeStale, true},
		{"Coalesce", cfg.Coalesce, true},
		{"DailyEnabled", cfg.DailyEnabled, true},
		{"DailyInterval", cfg.DailyInterval, time.Hour},
		{"DailyWindow", cfg.DailyWindow, 7 * 24 * time.Hour},
		{"ContentType", cfg.ContentType, ContentTypeJSON},
		{"SentryDSN", cfg.SentryDSN, ""},
		{"SentrySampleRate", cfg.SentrySampleRate, 1.0},
		{"OTelEnabled", cfg.OTelEnabled, false},
		{"OTelEndpoint", cfg.OTelEndpoint, "localhost:4318"},
		{"OTelSampleRate", cfg.OTelSampleRate, 0.1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if cfg.UseRedis() {
		t.Error("UseRedis() should be false without REDIS_URL")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("TIME_BASIS", "fetch")
	t.Setenv("LOCK_ENABLED", "false")
	t.Setenv("CONTENT_TYPE", "text/plain")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if !cfg.UseRedis() {
		t.Error("UseRedis() should be true")
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s", cfg.CacheTTL)
	}
	if cfg.LockEnabled {
		t.Error("LockEnabled should be false")
	}
	if cfg.ContentType != ContentTypeText {
		t.Errorf("ContentType = %q, want text/plain", cfg.ContentType)
	}

	calc := cfg.Calculator()
	if calc.Basis != stats.BasisFetchTime || calc.TTL != 30*time.Second {
		t.Errorf("Calculator() = %+v", calc)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")

	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=6000\nUSER_AGENT=dotenv-agent/1.0\nDAILY_ENABLED=false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// Variables godotenv sets are restored by clearEnv.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "7000" {
		t.Errorf("Port = %q, want environment value 7000", cfg.Port)
	}
	if cfg.UserAgent != "dotenv-agent/1.0" {
		t.Errorf("UserAgent = %q, want dotenv-agent/1.0", cfg.UserAgent)
	}
	if cfg.DailyEnabled {
		t.Error("DailyEnabled should be false")
	}
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL", "sixty")

	_, err := Load(noEnvFile(t))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Port:                "8080",
		LogLevel:            "info",
		UpstreamURL:         "https://example.com/stats",
		UserAgent:           "test/1.0",
		UpstreamTimeout:     time.Second,
		CacheTTL:            time.Minute,
		TimeBasis:           "sample",
		LockEnabled:         true,
		LockTTL:             500 * time.Millisecond,
		LockWaitInterval:    50 * time.Millisecond,
		LockWaitMaxAttempts: 20,
		DailyEnabled:        true,
		DailyInterval:       time.Hour,
		DailyWindow:         7 * 24 * time.Hour,
		ContentType:         ContentTypeJSON,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT is required"},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, "CACHE_TTL must be > 0"},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, "CACHE_TTL must be > 0"},
		{"unknown basis", func(c *Config) { c.TimeBasis = "lunar" }, "TIME_BASIS"},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }, "LOCK_TTL must be > 0"},
		{"zero lock ttl ignored when disabled", func(c *Config) { c.LockEnabled = false; c.LockTTL = 0 }, ""},
		{"no attempts", func(c *Config) { c.LockWaitMaxAttempts = 0 }, "LOCK_WAIT_MAX_ATTEMPTS"},
		{"zero daily interval", func(c *Config) { c.DailyInterval = 0 }, "DAILY_INTERVAL"},
		{"daily disabled", func(c *Config) { c.DailyEnabled = false; c.DailyInterval = 0 }, ""},
		{"bad content type", func(c *Config) { c.ContentType = "text/html" }, "CONTENT_TYPE"},
		{"empty user agent", func(c *Config) { c.UserAgent = " " }, "USER_AGENT is required"},
		{"sentry rate above one", func(c *Config) { c.SentrySampleRate = 1.5 }, "SENTRY_SAMPLE_RATE"},
		{"negative otel rate", func(c *Config) { c.OTelSampleRate = -0.1 }, "OTEL_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Error %q should contain %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "debug"
	cfg.LogPretty = true
	cfg.UpstreamRateLimit = 2
	cfg.UpstreamBurst = 3
	cfg.LockWaitMaxAttempts = 7
	cfg.ServeStale = false
	cfg.DailyWindow = 48 * time.Hour

	if l := cfg.Logging(); l.Level != logging.LevelDebug || !l.Pretty {
		t.Errorf("Logging() = %+v", l)
	}

	up := cfg.Upstream()
	if up.URL != cfg.UpstreamURL || up.RateLimit != 2 || up.Burst != 3 || up.Timeout != time.Second {
		t.Errorf("Upstream() = %+v", up)
	}

	r := cfg.Refresh()
	if !r.LockEnabled || r.LockTTL != 500*time.Millisecond || r.Wait.MaxAttempts != 7 || r.ServeStale {
		t.Errorf("Refresh() = %+v", r)
	}

	d := cfg.Daily()
	if d.Interval != time.Hour || d.Window != 48*time.Hour {
		t.Errorf("Daily() = %+v", d)
	}

	cfg.SentryDSN = "https://public@example.com/1"
	cfg.ServiceVersion = "1.2.3"
	if e := cfg.ErrorReporting(); e.DSN != cfg.SentryDSN || e.Release != "1.2.3" {
		t.Errorf("ErrorReporting() = %+v", e)
	}

	cfg.OTelEnabled = true
	cfg.OTelEndpoint = "collector:4318"
	if tr := cfg.Tracing(); !tr.Enabled || tr.Endpoint != "collector:4318" || tr.ServiceVersion != "1.2.3" {
		t.Errorf("Tracing() = %+v", tr)
	}
}
