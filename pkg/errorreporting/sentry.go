// Package errorreporting forwards refresh, daily job and panic errors to
// Sentry. Every function is a no-op until Init is called with a DSN.
package errorreporting

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds Sentry settings.
type Config struct {
	// DSN enables reporting. Empty disables it.
	DSN string

	Environment string
	Release     string

	// SampleRate is the share of error events sent, in (0, 1]. Zero means 1.
	SampleRate float64

	// BeforeSend runs after scrubbing. Returning nil drops the event.
	BeforeSend func(*sentry.Event) *sentry.Event
}

var enabled atomic.Bool

// Strings scrubbed from event text before it leaves the process.
var scrubRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	// credentials in redis:// and http:// URLs
	{regexp.MustCompile(`://[^/\s:@]*:[^/\s@]+@`), "://[REDACTED]@"},
	{regexp.MustCompile(`(?i)(password|token|secret|api[_-]?key)(["\s:=]+)[^\s"&]+`), "$1$2[REDACTED]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[REDACTED]"},
}

// Init configures the Sentry client. It reports whether reporting is on.
func Init(cfg Config) (bool, error) {
	if cfg.DSN == "" {
		enabled.Store(false)
		return false, nil
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	hook := cfg.BeforeSend

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       rate,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event = scrubEvent(event)
			if hook != nil {
				return hook(event)
			}
			return event
		},
	})
	if err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	enabled.Store(true)
	return true, nil
}

// Enabled reports whether Init succeeded with a DSN.
func Enabled() bool {
	return enabled.Load()
}

// Capture reports err with the given tags.
func Capture(err error, tags map[string]string) {
	if err == nil || !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value.
func CapturePanic(v any, tags map[string]string) {
	if !Enabled() {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		for k, val := range tags {
			scope.SetTag(k, val)
		}
	})
	hub.Recover(v)
}

// Flush waits up to timeout for queued events to be sent.
func Flush(timeout time.Duration) bool {
	if !Enabled() {
		return true
	}
	return sentry.Flush(timeout)
}

func scrubEvent(event *sentry.Event) *sentry.Event {
	event.Message = scrub(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = scrub(event.Exception[i].Value)
	}
	if event.Request != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
		event.Request.QueryString = ""
	}
	return event
}

func scrub(text string) string {
	for _, r := range scrubRules {
		text = r.pattern.ReplaceAllString(text, r.repl)
	}
	return text
}
