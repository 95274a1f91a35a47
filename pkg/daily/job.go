// Package daily keeps the trailing window of per-day upstream activity in the
// store. It runs on its own schedule, independent of the request path.
package daily

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/errorreporting"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Prometheus metrics for the daily job.
var (
	dailyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_daily_runs_total",
		Help: "Total daily job runs by result",
	}, []string{"result"})

	dailyEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stats_daily_entries",
		Help: "Number of daily entries stored by the last successful run",
	})

	dailyLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stats_daily_last_success_timestamp_seconds",
		Help: "Unix time of the last successful daily job run",
	})
)

// Fetcher retrieves an upstream sample.
type Fetcher interface {
	Fetch(ctx context.Context) (*stats.Sample, error)
}

// Store persists the daily list.
type Store interface {
	SetDaily(ctx context.Context, data []stats.DailyDatum) error
}

// Config holds the job configuration.
type Config struct {
	// Interval between runs.
	Interval time.Duration

	// Window is how far back entries are kept.
	Window time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns an hourly job keeping seven days.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Window:   stats.DefaultDailyWindow,
		Now:      time.Now,
	}
}

// Job refreshes the daily list.
type Job struct {
	fetcher Fetcher
	store   Store
	config  Config
	logger  zerolog.Logger
}

// New creates a Job. Zero fields in cfg fall back to the defaults.
func New(fetcher Fetcher, store Store, cfg Config, logger zerolog.Logger) *Job {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	return &Job{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		logger:  logger,
	}
}

// Run fetches upstream once and replaces the stored daily list with the
// entries inside the window.
func (j *Job) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, "daily.Run")
	defer func() { tracing.End(span, err) }()

	sample, err := j.fetcher.Fetch(ctx)
	if err != nil {
		dailyRunsTotal.WithLabelValues("fetch_error").Inc()
		return fmt.Errorf("fetch upstream stats: %w", err)
	}

	now := j.config.Now()
	data := stats.FilterDaily(sample.DailyData, now, j.config.Window)

	if err := j.store.SetDaily(ctx, data); err != nil {
		dailyRunsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("store daily data: %w", err)
	}

	dailyRunsTotal.WithLabelValues("success").Inc()
	dailyEntries.Set(float64(len(data)))
	dailyLastSuccess.Set(float64(now.Unix()))
	span.SetAttributes(attribute.Int("stored", len(data)))

	j.logger.Info().
		Int("received", len(sample.DailyData)).
		Int("stored", len(data)).
		Dur("window", j.config.Window).
		Msg("Daily stats updated")

	return nil
}

// Start runs the job immediately and then every Interval until ctx is done.
// Run errors are logged; Start only returns when ctx is done.
func (j *Job) Start(ctx context.Context) error {
	j.logger.Info().Dur("interval", j.config.Interval).Msg("Daily job started")

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("Daily job run failed")
			errorreporting.Capture(err, map[string]string{"component": "daily"})
		}

		select {
		case <-ctx.Done():
			j.logger.Info().Msg("Daily job stopped")
			return nil
		case <-ticker.C:
		}
	}
}
