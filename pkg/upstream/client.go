// Package upstream fetches statistics snapshots from the upstream stats
// endpoint, with client-side rate limiting and error classification.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/Sternrassler/bsky-stats-proxy/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// DefaultURL is the public statistics endpoint.
const DefaultURL = "https://bsky-search.jazco.io/stats"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 32 << 20

// Prometheus metrics for upstream fetches.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_upstream_requests_total",
		Help: "Total upstream stats requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_upstream_request_duration_seconds",
		Help:    "Upstream stats request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// URL of the statistics endpoint
	URL string

	// User-Agent header sent upstream
	UserAgent string

	// Timeout bounds a single request, including reading the body
	Timeout time.Duration

	// Rate Limiting (0 disables the limiter)
	RateLimit float64 // Requests per second
	Burst     int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		URL:       DefaultURL,
		UserAgent: userAgent,
		Timeout:   10 * time.Second,
		RateLimit: 5,
		Burst:     5,
	}
}

// Client fetches statistics snapshots.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("upstream url is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Fetch retrieves and decodes one statistics snapshot.
// Failures are returned as *Error; nothing is retried here.
func (c *Client) Fetch(ctx context.Context) (sample *stats.Sample, err error) {
	ctx, span := tracing.Start(ctx, "upstream.Fetch", attribute.String("url", c.config.URL))
	defer func() { tracing.End(span, err) }()

	return c.fetch(ctx)
}

func (c *Client) fetch(ctx context.Context) (*stats.Sample, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(&Error{Class: ErrorClassNetwork, Message: "rate limiter wait", Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", c.config.URL).Msg("Fetching upstream stats")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, c.fail(&Error{Class: ErrorClassNetwork, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, c.fail(&Error{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(&Error{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		})
	}

	sample, err := decodeSample(body)
	if err != nil {
		return nil, c.fail(&Error{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassParse,
			Message:    "decode stats",
			Err:        err,
		})
	}

	c.logger.Debug().
		Int64("total_users", sample.TotalUsers).
		Time("updated_at", sample.UpdatedAt).
		Int("daily_entries", len(sample.DailyData)).
		Msg("Fetched upstream stats")

	return sample, nil
}

func (c *Client) fail(e *Error) error {
	upstreamErrorsTotal.WithLabelValues(string(e.Class)).Inc()
	c.logger.Warn().
		Err(e.Err).
		Int("status", e.StatusCode).
		Str("error_class", string(e.Class)).
		Msg(e.Message)
	return e
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// wireSample mirrors stats.Sample with pointers so missing required
// fields can be told apart from zero values.
type wireSample struct {
	TotalUsers          *int64                     `json:"total_users"`
	TotalPosts          *int64                     `json:"total_posts"`
	TotalFollows        *int64                     `json:"total_follows"`
	TotalLikes          *int64                     `json:"total_likes"`
	UpdatedAt           *time.Time                 `json:"updated_at"`
	FollowerPercentiles []stats.FollowerPercentile `json:"follower_percentiles"`
	DailyData           []stats.DailyDatum         `json:"daily_data"`
}

func decodeSample(body []byte) (*stats.Sample, error) {
	var w wireSample
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}

	var missing []string
	if w.TotalUsers == nil {
		missing = append(missing, "total_users")
	}
	if w.TotalPosts == nil {
		missing = append(missing, "total_posts")
	}
	if w.TotalFollows == nil {
		missing = append(missing, "total_follows")
	}
	if w.TotalLikes == nil {
		missing = append(missing, "total_likes")
	}
	if w.UpdatedAt == nil || w.UpdatedAt.IsZero() {
		missing = append(missing, "updated_at")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	return &stats.Sample{
		TotalUsers:          *w.TotalUsers,
		TotalPosts:          *w.TotalPosts,
		TotalFollows:        *w.TotalFollows,
		TotalLikes:          *w.TotalLikes,
		FollowerPercentiles: w.FollowerPercentiles,
		UpdatedAt:           *w.UpdatedAt,
		DailyData:           w.DailyData,
	}, nil
}
