// Package metrics provides the Prometheus registry and /metrics handler for the
// stats proxy. All metrics are defined in their respective packages (cache,
// refresh, upstream, daily, server) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler exposing every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - stats_cache_hits_total{key} (Counter): Reads that found a value ("cache", "daily")
//   - stats_cache_misses_total{key} (Counter): Reads that found nothing
//   - stats_cache_size_bytes{key} (Gauge): Encoded size of the last write per key
//   - stats_cache_errors_total{operation} (Counter): Store errors (get, set, delete, lock, unlock)
//   - stats_cache_lock_acquisitions_total{result} (Counter): Lock attempts (acquired, contended, error)
//
// Refresh Metrics (pkg/refresh):
//   - stats_refresh_total{result} (Counter): GetOrRefresh outcomes (hit, refreshed, raced, stale, timeout, error)
//   - stats_refresh_state_transitions_total{state} (Counter): Refresh state transitions
//   - stats_refresh_lock_wait_seconds (Histogram): Time spent waiting for the refresh lock
//   - stats_refresh_lock_timeouts_total (Counter): Exhausted lock waits
//
// Upstream Metrics (pkg/upstream):
//   - stats_upstream_requests_total{status} (Counter): Requests by HTTP status
//   - stats_upstream_request_duration_seconds (Histogram): Request duration
//   - stats_upstream_errors_total{class} (Counter): Errors by class (client, server, network, parse)
//
// Daily Job Metrics (pkg/daily):
//   - stats_daily_runs_total{result} (Counter): Runs by result (success, fetch_error, store_error)
//   - stats_daily_entries (Gauge): Entries stored by the last successful run
//   - stats_daily_last_success_timestamp_seconds (Gauge): Unix time of the last successful run
//
// HTTP Metrics (pkg/server):
//   - stats_http_requests_total{route, status} (Counter): Served requests
//   - stats_http_request_duration_seconds{route} (Histogram): Handler duration
//   - stats_http_panics_total (Counter): Recovered handler panics
//
// stats_refresh_total counts coordinator runs. With coalescing enabled, one
// run can serve several concurrent requests; compare with
// stats_http_requests_total{route="/"} for the request rate.
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(stats_refresh_total{result="hit"}[5m])) / sum(rate(stats_refresh_total[5m]))
//
//   # Refreshes per minute
//   rate(stats_refresh_total{result="refreshed"}[1m]) * 60
//
//   # Lock contention
//   rate(stats_cache_lock_acquisitions_total{result="contended"}[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(stats_upstream_request_duration_seconds_bucket[5m]))
//
//   # Daily job staleness
//   time() - stats_daily_last_success_timestamp_seconds > 7200
