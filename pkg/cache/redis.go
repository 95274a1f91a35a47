package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// SetNX implements Store.
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, &StoreError{Op: "setnx", Key: key, Err: err}
	}
	return ok, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// CompareAndDelete implements Store.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.redis, []string{key}, value).Int64()
	if err != nil {
		return false, &StoreError{Op: "compare-and-delete", Key: key, Err: err}
	}
	return n == 1, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}
