package server

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/errorreporting"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for served requests.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_http_requests_total",
		Help: "Total HTTP requests by route and status",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stats_http_request_duration_seconds",
		Help:    "HTTP handler duration in seconds by route",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"route"})

	panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_http_panics_total",
		Help: "Total handler panics recovered",
	})
)

// Route labels for requests without a path template.
const (
	routeUnmatched = "unmatched"
	routePreflight = "preflight"
)

// recoverPanics turns a handler panic into a 500 and reports it.
func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(p)
			}

			h.logger.Error().
				Interface("panic", p).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("Panic recovered")
			errorreporting.CapturePanic(p, map[string]string{"method": r.Method, "path": r.URL.Path})
			panicsTotal.Inc()

			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS sets the CORS and content-type headers on every response,
// including 404 and 405, and answers preflight requests for any path.
func (h *Handler) withCORS(next http.Handler) http.Handler {
	preflight := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", "*")
		header.Set("Content-Type", h.config.ContentType)

		if r.Method == http.MethodOptions {
			h.observe(routePreflight, w, r, preflight)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records metrics and a debug log line for matched routes.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeUnmatched
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.observe(route, w, r, next)
	})
}

// countUnmatched records metrics for the router's fallback handlers.
func (h *Handler) countUnmatched(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.observe(routeUnmatched, w, r, next)
	})
}

func (h *Handler) observe(route string, w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	next.ServeHTTP(rec, r)

	duration := time.Since(start)
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())

	h.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", route).
		Int("status", rec.status).
		Dur("duration", duration).
		Msg("Request served")
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
