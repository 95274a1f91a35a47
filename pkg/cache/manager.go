package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bsky-stats-proxy/pkg/stats"
	"github.com/rs/zerolog"
)

// Manager handles the typed values of the stats proxy on top of a Store.
type Manager struct {
	store  Store
	keys   Keys
	logger zerolog.Logger
}

// NewManager creates a new cache manager. prefix namespaces all keys.
func NewManager(store Store, prefix string, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("store cannot be nil")
	}
	return &Manager{
		store:  store,
		keys:   NewKeys(prefix),
		logger: logger,
	}
}

// Keys returns the keys this manager reads and writes.
func (m *Manager) Keys() Keys {
	return m.keys
}

// Ping checks that the underlying store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// GetRecord retrieves the cached stats record. Stale records are returned
// as-is; freshness is the caller's decision.
// Returns ErrCacheMiss if no record is stored.
func (m *Manager) GetRecord(ctx context.Context) (*stats.CacheRecord, error) {
	var rec stats.CacheRecord
	if err := m.getJSON(ctx, m.keys.Record, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetRecord stores rec without expiry. The record outlives its TTL so the
// next refresh can compute growth against it.
func (m *Manager) SetRecord(ctx context.Context, rec *stats.CacheRecord) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}
	return m.setJSON(ctx, m.keys.Record, rec, 0)
}

// DeleteRecord removes the cached stats record.
func (m *Manager) DeleteRecord(ctx context.Context) error {
	key := m.keys.Record.String()
	if err := m.store.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

// GetDaily retrieves the windowed daily data.
// Returns ErrCacheMiss if the daily job has not stored anything yet.
func (m *Manager) GetDaily(ctx context.Context) ([]stats.DailyDatum, error) {
	var data []stats.DailyDatum
	if err := m.getJSON(ctx, m.keys.Daily, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// SetDaily replaces the daily data wholesale.
func (m *Manager) SetDaily(ctx context.Context, data []stats.DailyDatum) error {
	if data == nil {
		data = []stats.DailyDatum{}
	}
	return m.setJSON(ctx, m.keys.Daily, data, 0)
}

// AcquireLock tries once to take the refresh lock for ttl.
// On success it returns the token that ReleaseLock needs.
func (m *Manager) AcquireLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token, err := newLockToken()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	key := m.keys.Lock.String()
	ok, err := m.store.SetNX(ctx, key, []byte(token), ttl)
	if err != nil {
		CacheErrors.WithLabelValues("lock").Inc()
		LockAcquisitions.WithLabelValues("error").Inc()
		return "", false, err
	}
	if !ok {
		LockAcquisitions.WithLabelValues("contended").Inc()
		return "", false, nil
	}

	LockAcquisitions.WithLabelValues("acquired").Inc()
	m.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Refresh lock acquired")
	return token, true, nil
}

// ReleaseLock releases the refresh lock if token still owns it. A lock that
// already expired, or was taken over after expiry, is left alone.
func (m *Manager) ReleaseLock(ctx context.Context, token string) error {
	key := m.keys.Lock.String()
	released, err := m.store.CompareAndDelete(ctx, key, []byte(token))
	if err != nil {
		CacheErrors.WithLabelValues("unlock").Inc()
		return err
	}
	if !released {
		m.logger.Warn().Str("key", key).Msg("Refresh lock expired before release")
		return nil
	}
	m.logger.Debug().Str("key", key).Msg("Refresh lock released")
	return nil
}

func (m *Manager) getJSON(ctx context.Context, k Key, v any) error {
	key := k.String()

	data, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.WithLabelValues(k.Name).Inc()
			return ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key, err)
	}

	CacheHits.WithLabelValues(k.Name).Inc()
	return nil
}

func (m *Manager) setJSON(ctx context.Context, k Key, v any, ttl time.Duration) error {
	key := k.String()

	data, err := json.Marshal(v)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	CacheSize.WithLabelValues(k.Name).Set(float64(len(data)))
	return nil
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
