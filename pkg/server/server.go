// Package server exposes the cached stats over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/cache"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/metrics"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Refresher returns the current stats record, refreshing it if needed.
type Refresher interface {
	GetOrRefresh(ctx context.Context) (*stats.CacheRecord, error)
}

// DailyReader returns the stored daily list.
type DailyReader interface {
	GetDaily(ctx context.Context) ([]stats.DailyDatum, error)
}

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the handler configuration.
type Config struct {
	// ContentType is sent on every response except /metrics.
	ContentType string

	// RequestTimeout bounds GetOrRefresh per request. Zero means the
	// request context alone.
	RequestTimeout time.Duration

	// ReadyTimeout bounds the store ping of /ready.
	ReadyTimeout time.Duration
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() Config {
	return Config{
		ContentType:    "application/json",
		RequestTimeout: 30 * time.Second,
		ReadyTimeout:   2 * time.Second,
	}
}

// Handler serves the stats routes.
type Handler struct {
	refresher Refresher
	daily     DailyReader
	pinger    Pinger
	config    Config
	logger    zerolog.Logger
	handler   http.Handler
}

// NewHandler creates the HTTP handler. daily and pinger may be nil, in which
// case /daily serves an empty list and /ready always succeeds.
func NewHandler(refresher Refresher, daily DailyReader, pinger Pinger, cfg Config, logger zerolog.Logger) *Handler {
	if refresher == nil {
		panic("refresher cannot be nil")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultConfig().ContentType
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultConfig().ReadyTimeout
	}

	h := &Handler{
		refresher: refresher,
		daily:     daily,
		pinger:    pinger,
		config:    cfg,
		logger:    logger,
	}
	h.handler = h.recoverPanics(h.withCORS(h.routes()))
	return h
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	// Stats
	r.HandleFunc("/", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/daily", h.handleDaily).Methods(http.MethodGet)

	// Auxiliary
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ua", h.handleUserAgent).Methods(http.MethodGet)

	r.NotFoundHandler = h.countUnmatched(http.HandlerFunc(h.handleNotFound))
	r.MethodNotAllowedHandler = h.countUnmatched(http.HandlerFunc(h.handleMethodNotAllowed))

	return r
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	rec, err := h.refresher.GetOrRefresh(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Error fetching stats")
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch stats: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDaily(w http.ResponseWriter, r *http.Request) {
	data := []stats.DailyDatum{}
	if h.daily != nil {
		stored, err := h.daily.GetDaily(r.Context())
		switch {
		case err == nil:
			data = stored
		case errors.Is(err, cache.ErrCacheMiss):
			// Job has not run yet.
		default:
			h.logger.Error().Err(err).Msg("Error reading daily stats")
			h.writeError(w, http.StatusInternalServerError, "Failed to fetch daily stats: "+err.Error())
			return
		}
	}

	h.writeJSON(w, http.StatusOK, data)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.config.ReadyTimeout)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Store not ready")
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) handleUserAgent(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"user_agent": r.UserAgent()})
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Route not found")
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write response")
	}
}
