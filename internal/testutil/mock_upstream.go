// Package testutil provides testing utilities for the stats proxy.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of the mock stats endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of the upstream stats endpoint.
type MockUpstream struct {
	server  *httptest.Server
	mu      sync.RWMutex
	handler func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount      int
	lastRequestHeader http.Header
}

// NewMockUpstream creates a mock serving a healthy snapshot by default.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{}
	mock.handler = mock.defaultHandler

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastRequestHeader = r.Header.Clone()
		handler := mock.handler
		mock.mu.Unlock()

		handler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastRequestHeader = nil
}

// SetHandler replaces the request handler.
func (m *MockUpstream) SetHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetResponse configures a fixed response.
func (m *MockUpstream) SetResponse(resp MockResponse) {
	m.SetHandler(func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// defaultHandler serves a snapshot stamped with the current time.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(StatsJSON(1000, time.Now().UTC())))
}

// StatsJSON renders a minimal upstream payload.
func StatsJSON(totalUsers int64, updatedAt time.Time) string {
	return fmt.Sprintf(
		`{"total_users":%d,"total_posts":5000,"total_follows":2000,"total_likes":9000,"updated_at":%q}`,
		totalUsers, updatedAt.Format(time.RFC3339Nano))
}

// StatsWithDailyJSON renders a payload whose daily_data holds one entry per
// day for the days ending at last, oldest first.
func StatsWithDailyJSON(updatedAt time.Time, last time.Time, days int) string {
	type datum struct {
		Date     string `json:"date"`
		NumPosts int    `json:"num_posts"`
	}
	payload := struct {
		TotalUsers   int64   `json:"total_users"`
		TotalPosts   int64   `json:"total_posts"`
		TotalFollows int64   `json:"total_follows"`
		TotalLikes   int64   `json:"total_likes"`
		UpdatedAt    string  `json:"updated_at"`
		DailyData    []datum `json:"daily_data"`
	}{
		TotalUsers:   1000,
		TotalPosts:   5000,
		TotalFollows: 2000,
		TotalLikes:   9000,
		UpdatedAt:    updatedAt.Format(time.RFC3339Nano),
	}
	for i := days - 1; i >= 0; i-- {
		payload.DailyData = append(payload.DailyData, datum{
			Date:     last.AddDate(0, 0, -i).Format(time.RFC3339),
			NumPosts: days - i,
		})
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// NewHealthyResponse creates a 200 OK response with the given body.
func NewHealthyResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
	}
}

// NewMalformedResponse creates a 200 OK response with an undecodable body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"total_users": "lots"`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
