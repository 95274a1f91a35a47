package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process Store. It is used when no Redis server is
// configured and by tests. Expired keys are dropped lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// lookup returns the live item for key. Caller must hold s.mu.
func (s *MemoryStore) lookup(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

// SetNX implements Store.
func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &StoreError{Op: "setnx", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// CompareAndDelete implements Store.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &StoreError{Op: "compare-and-delete", Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	if !ok || !bytes.Equal(item.value, value) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
