// Package logging configures the process-wide zerolog logger and hands out
// per-component child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as accepted in LOG_LEVEL.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written. Unknown names fall back to info.
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Service, when set, is attached to every entry as "service".
	Service string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger described by cfg and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted as
// an alias of "warn"; empty, unknown and disabling names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl < zerolog.TraceLevel || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger returns a child of the global logger tagged with component.
// Call it after Setup; loggers created earlier keep the previous output.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Level usage across the proxy:
//
//	trace  refresh state transitions (idle, lock_wait, fetching, updating, error)
//	debug  cache hits, lock polling and release, growth-rate inputs
//	info   refreshes, daily job runs, startup and shutdown
//	warn   stale record served, undecodable cache entries, lock release failures
//	error  failed requests, daily job failures, store connection errors
//
// Common fields: component, key, attempt, ttl, status, duration,
// error_class, next_update_time.
