package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks reads that found a value, by logical key
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_hits_total",
			Help: "Total number of cache reads that found a value",
		},
		[]string{"key"}, // "cache", "daily"
	)

	// CacheMisses tracks reads that found nothing, by logical key
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_misses_total",
			Help: "Total number of cache reads that found nothing",
		},
		[]string{"key"},
	)

	// CacheSize tracks the encoded size of the last write per key
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stats_cache_size_bytes",
			Help: "Encoded size of the last value written per key",
		},
		[]string{"key"},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "lock", "unlock"
	)

	// LockAcquisitions tracks refresh lock attempts by outcome
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_lock_acquisitions_total",
			Help: "Total number of refresh lock attempts by result",
		},
		[]string{"result"}, // "acquired", "contended", "error"
	)
)
