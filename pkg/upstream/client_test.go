package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/internal/testutil"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig("bsky-stats-proxy-test/1.0")
	cfg.URL = url
	cfg.RateLimit = 0
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("TestApp/1.0.0"),
			expectError: false,
		},
		{
			name: "empty url",
			config: Config{
				UserAgent: "TestApp/1.0.0",
				Timeout:   time.Second,
			},
			expectError: true,
			errorMsg:    "upstream url is required",
		},
		{
			name: "empty user agent",
			config: Config{
				URL:     DefaultURL,
				Timeout: time.Second,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "zero timeout",
			config: Config{
				URL:       DefaultURL,
				UserAgent: "TestApp/1.0.0",
			},
			expectError: true,
			errorMsg:    "timeout must be > 0 (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config, zerolog.Nop())

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	if cfg.URL != DefaultURL {
		t.Errorf("URL = %q, want %q", cfg.URL, DefaultURL)
	}
	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout = %v, should be > 0", cfg.Timeout)
	}
	if cfg.RateLimit <= 0 {
		t.Errorf("RateLimit = %v, should be > 0", cfg.RateLimit)
	}
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	updated := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	mock.SetResponse(testutil.NewHealthyResponse(testutil.StatsJSON(1000, updated)))

	client := newTestClient(t, mock.URL())
	sample, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if sample.TotalUsers != 1000 || sample.TotalPosts != 5000 || sample.TotalFollows != 2000 || sample.TotalLikes != 9000 {
		t.Errorf("unexpected totals: %+v", sample)
	}
	if !sample.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", sample.UpdatedAt, updated)
	}
}

func TestFetch_Headers(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	client := newTestClient(t, mock.URL())
	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	headers := mock.LastRequestHeader()
	if got := headers.Get("User-Agent"); got != "bsky-stats-proxy-test/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := headers.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestFetch_DailyData(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	mock.SetResponse(testutil.NewHealthyResponse(testutil.StatsWithDailyJSON(now, now, 10)))

	client := newTestClient(t, mock.URL())
	sample, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(sample.DailyData) != 10 {
		t.Fatalf("DailyData len = %d, want 10", len(sample.DailyData))
	}
	if !sample.DailyData[9].Date.Equal(now) {
		t.Errorf("last daily date = %v, want %v", sample.DailyData[9].Date, now)
	}
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.MockResponse
		wantClass  ErrorClass
		wantStatus int
		wantIs     error
	}{
		{
			name:       "server error",
			response:   testutil.NewServerErrorResponse(),
			wantClass:  ErrorClassServer,
			wantStatus: http.StatusInternalServerError,
			wantIs:     ErrFetch,
		},
		{
			name:       "client error",
			response:   testutil.NewNotFoundResponse(),
			wantClass:  ErrorClassClient,
			wantStatus: http.StatusNotFound,
			wantIs:     ErrFetch,
		},
		{
			name:       "malformed body",
			response:   testutil.NewMalformedResponse(),
			wantClass:  ErrorClassParse,
			wantStatus: http.StatusOK,
			wantIs:     ErrParse,
		},
		{
			name:       "missing fields",
			response:   testutil.NewHealthyResponse(`{"total_users": 5}`),
			wantClass:  ErrorClassParse,
			wantStatus: http.StatusOK,
			wantIs:     ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(tt.response)

			client := newTestClient(t, mock.URL())
			_, err := client.Fetch(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}

			var upErr *Error
			if !errors.As(err, &upErr) {
				t.Fatalf("expected *Error, got %T: %v", err, err)
			}
			if upErr.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", upErr.Class, tt.wantClass)
			}
			if upErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.wantStatus)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantIs)
			}
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	url := mock.URL()
	mock.Close()

	client := newTestClient(t, url)
	_, err := client.Fetch(context.Background())

	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Class != ErrorClassNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Error("network error should match ErrFetch")
	}
}

func TestFetch_Timeout(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	resp := testutil.NewHealthyResponse(testutil.StatsJSON(1, time.Now()))
	resp.Delay = 200 * time.Millisecond
	mock.SetResponse(resp)

	client := newTestClient(t, mock.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Fetch(ctx); !errors.Is(err, ErrFetch) {
		t.Errorf("expected ErrFetch on timeout, got %v", err)
	}
}

func TestFetch_RateLimited(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.URL = mock.URL()
	cfg.RateLimit = 1
	cfg.Burst = 1
	client, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}

	// The burst is spent; the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Fetch(ctx)

	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Message != "rate limiter wait" {
		t.Fatalf("expected rate limiter error, got %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
}
