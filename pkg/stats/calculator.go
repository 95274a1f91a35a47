package stats

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the growth-rate calculation. The user delta and fallback rate
// are historical values that clients rely on; do not re-derive them.
const (
	// DefaultTTL is how long a record stays fresh.
	DefaultTTL = 60 * time.Second

	// DefaultUserDelta is the user growth assumed when there is no previous record.
	DefaultUserDelta = 120

	// DefaultFallbackRate is the per-second rate used when no time has elapsed
	// between samples (2.34 * 60).
	DefaultFallbackRate = 2.34 * 60

	// DefaultUnderestimate scales the raw rate down so the published growth
	// never overshoots.
	DefaultUnderestimate = 0.95
)

// TimeBasis selects what anchors a record's update times.
type TimeBasis string

const (
	// BasisSampleTime anchors on the sample's own updated_at.
	BasisSampleTime TimeBasis = "sample"

	// BasisFetchTime anchors on the wall clock at fetch time.
	BasisFetchTime TimeBasis = "fetch"
)

// ParseTimeBasis converts a configuration string to a TimeBasis.
func ParseTimeBasis(s string) (TimeBasis, error) {
	switch TimeBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisSampleTime:
		return BasisSampleTime, nil
	case BasisFetchTime:
		return BasisFetchTime, nil
	default:
		return "", fmt.Errorf("unknown time basis %q", s)
	}
}

// CalculatorConfig holds the tunables of the growth-rate calculation.
type CalculatorConfig struct {
	TTL              time.Duration
	Basis            TimeBasis
	DefaultUserDelta int64
	FallbackRate     float64
	Underestimate    float64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultCalculatorConfig returns the production calculation settings.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		TTL:              DefaultTTL,
		Basis:            BasisSampleTime,
		DefaultUserDelta: DefaultUserDelta,
		FallbackRate:     DefaultFallbackRate,
		Underestimate:    DefaultUnderestimate,
		Now:              time.Now,
	}
}

// Calculator derives cache records from upstream samples.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a Calculator, filling zero fields from the defaults.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	def := DefaultCalculatorConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Basis == "" {
		cfg.Basis = def.Basis
	}
	if cfg.DefaultUserDelta == 0 {
		cfg.DefaultUserDelta = def.DefaultUserDelta
	}
	if cfg.FallbackRate == 0 {
		cfg.FallbackRate = def.FallbackRate
	}
	if cfg.Underestimate == 0 {
		cfg.Underestimate = def.Underestimate
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Calculator{cfg: cfg}
}

// TTL returns the configured freshness window.
func (c *Calculator) TTL() time.Duration {
	return c.cfg.TTL
}

// Calculate builds the record for sample. prev is the record being replaced
// and may be nil. It has no side effects.
func (c *Calculator) Calculate(sample *Sample, prev *CacheRecord) CacheRecord {
	now := c.cfg.Now()

	// anchor is the instant this record describes; prev carries the same
	// kind of instant, so elapsed always compares like with like.
	anchor := sample.UpdatedAt
	if c.cfg.Basis == BasisFetchTime {
		anchor = now
	}

	baseline := now.Add(-c.cfg.TTL)
	if prev != nil {
		baseline = prev.LastUpdateTime
	}
	elapsed := anchor.Sub(baseline)

	delta := c.cfg.DefaultUserDelta
	if prev != nil {
		delta = sample.TotalUsers - prev.TotalUsers
	}

	rate := c.cfg.FallbackRate
	if elapsed > 0 {
		rate = float64(delta) / elapsed.Seconds()
	}

	return CacheRecord{
		TotalUsers:               sample.TotalUsers,
		TotalPosts:               sample.TotalPosts,
		TotalFollows:             sample.TotalFollows,
		TotalLikes:               sample.TotalLikes,
		UsersGrowthRatePerSecond: rate * c.cfg.Underestimate,
		LastUpdateTime:           anchor,
		NextUpdateTime:           anchor.Add(c.cfg.TTL),
	}
}

// DefaultDailyWindow is how far back FilterDaily keeps entries.
const DefaultDailyWindow = 7 * 24 * time.Hour

// FilterDaily returns the entries of data dated within [now-window, now],
// both ends inclusive, preserving input order.
func FilterDaily(data []DailyDatum, now time.Time, window time.Duration) []DailyDatum {
	from := now.Add(-window)
	out := make([]DailyDatum, 0, len(data))
	for _, d := range data {
		if d.Date.Before(from) || d.Date.After(now) {
			continue
		}
		out = append(out, d)
	}
	return out
}
