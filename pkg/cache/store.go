package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the key-value primitive the cache is built on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StoreError) Unwrap() error {
	return e.Err
}
