// Package cache provides the key-value storage behind the stats proxy.
//
// Two layers live here:
//
//   - Store is a thin get/set/delete-by-key contract with optional TTL, plus
//     the SET-if-absent and compare-and-delete primitives the refresh lock
//     needs. RedisStore implements it on Redis, MemoryStore in process.
//   - Manager is the typed layer on top: it owns the logical keys (cached
//     record, refresh lock, daily data), JSON encoding, and metrics.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(cache.NewRedisStore(redisClient), "bsky-stats", logging.NewLogger("cache"))
//
//	rec, err := manager.GetRecord(ctx)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// cold cache
//	}
//
// # Refresh Lock
//
//	token, ok, err := manager.AcquireLock(ctx, 500*time.Millisecond)
//	if ok {
//		defer manager.ReleaseLock(ctx, token)
//	}
//
// The lock is advisory. It only excludes writers that also take it, and it
// expires on its own so a crashed holder never blocks refreshes for longer
// than its TTL.
//
// # Metrics
//
//   - stats_cache_hits_total{key} - reads that found a value
//   - stats_cache_misses_total{key} - reads that found nothing
//   - stats_cache_size_bytes{key} - size of the last value written
//   - stats_cache_errors_total{operation} - store failures
//   - stats_cache_lock_acquisitions_total{result} - lock attempts
package cache
