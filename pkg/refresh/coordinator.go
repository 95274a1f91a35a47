// Package refresh decides, per request, whether the cached stats record can be
// served or must be rebuilt from upstream, and serialises rebuilds across
// processes with an advisory lock in the shared store.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/cache"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/errorreporting"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for refresh coordination.
var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_refresh_total",
		Help: "Total GetOrRefresh calls by result",
	}, []string{"result"})

	refreshStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_refresh_state_transitions_total",
		Help: "Total refresh state transitions by target state",
	}, []string{"state"})

	refreshLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_refresh_lock_wait_seconds",
		Help:    "Time spent waiting for the refresh lock",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	refreshLockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_refresh_lock_timeouts_total",
		Help: "Total number of times the lock wait was exhausted",
	})
)

// Results recorded in stats_refresh_total.
const (
	resultHit       = "hit"
	resultRefreshed = "refreshed"
	resultRaced     = "raced"
	resultStale     = "stale"
	resultTimeout   = "timeout"
	resultError     = "error"
)

// RecordStore is the part of cache.Manager the coordinator needs.
type RecordStore interface {
	GetRecord(ctx context.Context) (*stats.CacheRecord, error)
	SetRecord(ctx context.Context, rec *stats.CacheRecord) error
	DeleteRecord(ctx context.Context) error
	AcquireLock(ctx context.Context, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, token string) error
}

// Fetcher retrieves a fresh upstream sample.
type Fetcher interface {
	Fetch(ctx context.Context) (*stats.Sample, error)
}

// Config holds the coordinator configuration.
type Config struct {
	// LockEnabled turns on the advisory refresh lock.
	LockEnabled bool

	// LockTTL is the lifetime of the lock record. A crashed holder blocks
	// others for at most this long.
	LockTTL time.Duration

	// Wait controls polling while another caller holds the lock.
	Wait WaitPolicy

	// ServeStale returns the last stale record seen when the wait is exhausted.
	ServeStale bool

	// Coalesce lets concurrent callers in this process share one in-flight
	// refresh. The store lock still serialises refreshes across processes.
	Coalesce bool

	// ReleaseTimeout bounds the lock release, which runs detached from
	// request cancellation.
	ReleaseTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		LockEnabled:    true,
		LockTTL:        500 * time.Millisecond,
		Wait:           DefaultWaitPolicy(),
		ServeStale:     true,
		Coalesce:       true,
		ReleaseTimeout: time.Second,
		Now:            time.Now,
	}
}

// Coordinator serves the cached record and rebuilds it when it is stale.
type Coordinator struct {
	store   RecordStore
	fetcher Fetcher
	calc    *stats.Calculator
	config  Config
	logger  zerolog.Logger
	flight  singleflight.Group
}

// New creates a Coordinator. Zero durations in cfg fall back to the defaults.
func New(store RecordStore, fetcher Fetcher, calc *stats.Calculator, cfg Config, logger zerolog.Logger) *Coordinator {
	if store == nil {
		panic("store cannot be nil")
	}
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if calc == nil {
		calc = stats.NewCalculator(stats.DefaultCalculatorConfig())
	}

	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = def.ReleaseTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	cfg.Wait = cfg.Wait.normalize()

	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		calc:    calc,
		config:  cfg,
		logger:  logger,
	}
}

// GetOrRefresh returns the cached record if it is fresh, otherwise fetches a
// new sample, stores the derived record and returns it. With Coalesce set,
// callers may receive the same record pointer and must not modify it.
func (c *Coordinator) GetOrRefresh(ctx context.Context) (*stats.CacheRecord, error) {
	if !c.config.Coalesce {
		return c.run(ctx)
	}

	for {
		started := make(chan struct{})
		ch := c.flight.DoChan(flightKey, func() (any, error) {
			close(started)
			return c.run(ctx)
		})

		select {
		case res := <-ch:
			if res.Err != nil && res.Shared && ctx.Err() == nil && isContextErr(res.Err) {
				// The leading caller went away; retry under our own context.
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Val.(*stats.CacheRecord), nil
		case <-ctx.Done():
			select {
			case <-started:
				// We lead the flight; let it unwind and release the lock.
				res := <-ch
				if res.Err != nil {
					return nil, res.Err
				}
				return res.Val.(*stats.CacheRecord), nil
			default:
				return nil, fmt.Errorf("waiting for shared refresh: %w", ctx.Err())
			}
		}
	}
}

const flightKey = "record"

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) run(ctx context.Context) (*stats.CacheRecord, error) {
	ctx, span := tracing.Start(ctx, "refresh.GetOrRefresh")
	rec, result, err := c.getOrRefresh(ctx)
	span.SetAttributes(attribute.String("result", result))
	tracing.End(span, err)

	if err != nil {
		if !isContextErr(err) {
			errorreporting.Capture(err, map[string]string{"component": "refresh", "result": result})
		}
		c.enter(StateError)
		refreshTotal.WithLabelValues(result).Inc()
		c.enter(StateIdle)
		return nil, err
	}
	refreshTotal.WithLabelValues(result).Inc()
	c.enter(StateIdle)
	return rec, nil
}

func (c *Coordinator) getOrRefresh(ctx context.Context) (*stats.CacheRecord, string, error) {
	var stale *stats.CacheRecord
	var waitStart time.Time

	for attempt := 1; ; attempt++ {
		rec, err := c.readRecord(ctx)
		if err != nil {
			return nil, resultError, err
		}
		if rec.IsFresh(c.config.Now()) {
			c.observeWait(waitStart)
			c.logger.Debug().Time("next_update_time", rec.NextUpdateTime).Msg("Serving cached stats")
			return rec, resultHit, nil
		}
		if rec != nil {
			stale = rec
		}

		if !c.config.LockEnabled {
			return c.refresh(ctx, stale)
		}

		token, ok, err := c.store.AcquireLock(ctx, c.config.LockTTL)
		if err != nil {
			c.observeWait(waitStart)
			return nil, resultError, fmt.Errorf("acquire refresh lock: %w", err)
		}
		if ok {
			c.observeWait(waitStart)
			return c.refreshLocked(ctx, token, stale)
		}

		if attempt >= c.config.Wait.MaxAttempts {
			c.observeWait(waitStart)
			refreshLockTimeouts.Inc()
			if c.config.ServeStale && stale != nil {
				c.logger.Warn().
					Int("attempts", attempt).
					Time("last_update_time", stale.LastUpdateTime).
					Msg("Refresh lock still held, serving stale stats")
				return stale, resultStale, nil
			}
			return nil, resultTimeout, fmt.Errorf("%w after %d attempts", ErrLockTimeout, attempt)
		}

		if waitStart.IsZero() {
			waitStart = time.Now()
			c.enter(StateLockWait)
		}
		c.logger.Debug().Int("attempt", attempt).Msg("Refresh lock held, waiting")

		if err := c.config.Wait.Wait(ctx, attempt); err != nil {
			c.observeWait(waitStart)
			return nil, resultError, err
		}
	}
}

// refreshLocked runs a refresh while holding the lock identified by token.
// The lock is released on every path.
func (c *Coordinator) refreshLocked(ctx context.Context, token string, stale *stats.CacheRecord) (*stats.CacheRecord, string, error) {
	defer c.releaseLock(ctx, token)

	// Someone may have finished a refresh between our read and the lock.
	rec, err := c.readRecord(ctx)
	if err != nil {
		return nil, resultError, err
	}
	if rec.IsFresh(c.config.Now()) {
		c.logger.Debug().Msg("Stats refreshed by another caller")
		return rec, resultRaced, nil
	}
	if rec != nil {
		stale = rec
	}

	return c.refresh(ctx, stale)
}

// refresh replaces the stored record with one derived from a new sample.
// prev is the record being replaced and may be nil.
func (c *Coordinator) refresh(ctx context.Context, prev *stats.CacheRecord) (*stats.CacheRecord, string, error) {
	c.enter(StateFetching)

	if err := c.store.DeleteRecord(ctx); err != nil {
		return nil, resultError, fmt.Errorf("delete stale record: %w", err)
	}

	start := time.Now()
	sample, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Upstream fetch failed")
		return nil, resultError, fmt.Errorf("fetch upstream stats: %w", err)
	}

	c.enter(StateUpdating)
	rec := c.calc.Calculate(sample, prev)

	ev := c.logger.Debug().
		Time("last_update_time", rec.LastUpdateTime).
		Float64("users_growth_rate_per_second", rec.UsersGrowthRatePerSecond)
	if prev != nil {
		ev = ev.Dur("elapsed", rec.LastUpdateTime.Sub(prev.LastUpdateTime))
	}
	ev.Msg("Calculated stats record")

	if err := c.store.SetRecord(ctx, &rec); err != nil {
		return nil, resultError, fmt.Errorf("store record: %w", err)
	}

	c.logger.Info().
		Int64("total_users", rec.TotalUsers).
		Time("next_update_time", rec.NextUpdateTime).
		Dur("duration", time.Since(start)).
		Msg("Stats refreshed")

	return &rec, resultRefreshed, nil
}

// readRecord returns the stored record, or nil if there is none. An
// undecodable record counts as missing so the next refresh overwrites it.
func (c *Coordinator) readRecord(ctx context.Context) (*stats.CacheRecord, error) {
	rec, err := c.store.GetRecord(ctx)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, nil
	case errors.Is(err, cache.ErrInvalidEntry):
		c.logger.Warn().Err(err).Msg("Discarding undecodable stats record")
		return nil, nil
	default:
		return nil, fmt.Errorf("read record: %w", err)
	}
}

func (c *Coordinator) releaseLock(ctx context.Context, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ReleaseTimeout)
	defer cancel()

	if err := c.store.ReleaseLock(releaseCtx, token); err != nil {
		// The lock TTL will clear it.
		c.logger.Warn().Err(err).Msg("Failed to release refresh lock")
	}
}

func (c *Coordinator) enter(s State) {
	refreshStateTransitions.WithLabelValues(s.String()).Inc()
	c.logger.Trace().Str("state", s.String()).Msg("Refresh state")
}

func (c *Coordinator) observeWait(start time.Time) {
	if !start.IsZero() {
		refreshLockWaitSeconds.Observe(time.Since(start).Seconds())
	}
}
