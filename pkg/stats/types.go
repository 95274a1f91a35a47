// Package stats defines the upstream statistics model, the cached record
// served to clients, and the pure calculation that derives one from the other.
package stats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sample is one statistics snapshot as returned by the upstream endpoint.
type Sample struct {
	TotalUsers          int64                `json:"total_users"`
	TotalPosts          int64                `json:"total_posts"`
	TotalFollows        int64                `json:"total_follows"`
	TotalLikes          int64                `json:"total_likes"`
	FollowerPercentiles []FollowerPercentile `json:"follower_percentiles,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
	DailyData           []DailyDatum         `json:"daily_data,omitempty"`
}

// FollowerPercentile is one point of the upstream follower distribution.
type FollowerPercentile struct {
	Percentile float64 `json:"percentile"`
	Value      float64 `json:"value"`
}

// DailyDatum holds the per-day activity counters reported upstream.
type DailyDatum struct {
	Date                 Date  `json:"date"`
	NumLikes             int64 `json:"num_likes"`
	NumLikers            int64 `json:"num_likers"`
	NumPosters           int64 `json:"num_posters"`
	NumPosts             int64 `json:"num_posts"`
	NumPostsWithImages   int64 `json:"num_posts_with_images"`
	NumImages            int64 `json:"num_images"`
	NumImagesWithAltText int64 `json:"num_images_with_alt_text"`
	NumFirstTimePosters  int64 `json:"num_first_time_posters"`
	NumFollows           int64 `json:"num_follows"`
	NumFollowers         int64 `json:"num_followers"`
	NumBlocks            int64 `json:"num_blocks"`
	NumBlockers          int64 `json:"num_blockers"`
}

// CacheRecord is the value served to clients and persisted between refreshes.
type CacheRecord struct {
	TotalUsers               int64     `json:"total_users"`
	TotalPosts               int64     `json:"total_posts"`
	TotalFollows             int64     `json:"total_follows"`
	TotalLikes               int64     `json:"total_likes"`
	UsersGrowthRatePerSecond float64   `json:"users_growth_rate_per_second"`
	LastUpdateTime           time.Time `json:"last_update_time"`
	NextUpdateTime           time.Time `json:"next_update_time"`
}

// IsFresh reports whether the record may still be served at now.
func (r *CacheRecord) IsFresh(now time.Time) bool {
	return r != nil && now.Before(r.NextUpdateTime)
}

// TTL returns the time left until the record goes stale.
// Returns 0 if it already is.
func (r *CacheRecord) TTL(now time.Time) time.Duration {
	ttl := r.NextUpdateTime.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// dateOnly is the layout upstream uses for some daily_data entries.
const dateOnly = "2006-01-02"

// Date is a calendar timestamp that decodes from either RFC 3339 or a bare
// YYYY-MM-DD string. It always encodes as RFC 3339.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return fmt.Errorf("date: unsupported format %q", s)
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.RFC3339))
}
