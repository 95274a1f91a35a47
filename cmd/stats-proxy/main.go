package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/cache"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/config"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/daily"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/errorreporting"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/logging"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/refresh"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/server"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/tracing"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Configuration from environment (and .env)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ok, err := errorreporting.Init(cfg.ErrorReporting()); err != nil {
		logger.Warn().Err(err).Msg("Error reporting disabled")
	} else if ok {
		logger.Info().Str("environment", cfg.SentryEnvironment).Msg("Error reporting enabled")
		defer errorreporting.Flush(2 * time.Second)
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing())
	if err != nil {
		logger.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	// Store
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to store")
	}
	defer closeStore()

	a, err := newApp(cfg, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create proxy")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("upstream", cfg.UpstreamURL).
		Str("user_agent", cfg.UserAgent).
		Bool("redis", cfg.UseRedis()).
		Bool("lock", cfg.LockEnabled).
		Bool("daily", cfg.DailyEnabled).
		Msg("Starting stats proxy")

	if err := a.run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Stats proxy stopped")
}

// app is the wired proxy.
type app struct {
	server *http.Server
	job    *daily.Job
}

// newApp wires every component on top of store.
func newApp(cfg config.Config, store cache.Store) (*app, error) {
	mgr := cache.NewManager(store, cfg.KeyPrefix, logging.NewLogger("cache"))

	client, err := upstream.New(cfg.Upstream(), logging.NewLogger("upstream"))
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	calc := stats.NewCalculator(cfg.Calculator())
	coord := refresh.New(mgr, client, calc, cfg.Refresh(), logging.NewLogger("refresh"))

	srvCfg := server.DefaultConfig()
	srvCfg.ContentType = cfg.ContentType
	handler := server.NewHandler(coord, mgr, mgr, srvCfg, logging.NewLogger("server"))

	a := &app{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.DailyEnabled {
		a.job = daily.New(client, mgr, cfg.Daily(), logging.NewLogger("daily"))
	}
	return a, nil
}

// run serves until ctx is done, then shuts down gracefully.
func (a *app) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *app) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.job != nil {
		g.Go(func() error {
			return a.job.Start(gctx)
		})
	}

	return g.Wait()
}

// newStore connects to Redis when configured, otherwise returns an
// in-process store.
func newStore(ctx context.Context, cfg config.Config) (cache.Store, func(), error) {
	if !cfg.UseRedis() {
		log.Warn().Msg("REDIS_URL not set, using in-memory store")
		return cache.NewMemoryStore(), func() {}, nil
	}

	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")

	return cache.NewRedisStore(redisClient), func() { redisClient.Close() }, nil
}

// redisOptions accepts a redis:// URL or a bare host:port. REDIS_PASSWORD
// and a non-zero REDIS_DB override the URL.
func redisOptions(cfg config.Config) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(cfg.RedisURL, "://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.RedisURL}
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	return opts, nil
}
