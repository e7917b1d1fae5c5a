// Package cache provides the key/value stores behind function metadata caching.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheClosed indicates an operation on a closed cache.
	ErrCacheClosed = errors.New("cache closed")
)

// Cache is a byte-oriented key/value store with per-entry expiry.
type Cache interface {
	// Get retrieves a value. It returns ErrCacheMiss if the key is absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero TTL uses the cache default; a negative
	// TTL means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the cache's resources.
	Close() error
}

// Stats contains cache statistics.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// New creates the cache selected by cfg. It returns (nil, nil) when caching
// is not configured.
func New(cfg config.CacheConfig, logger observability.Logger) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return NewMemoryCache(cfg.MaxEntries, cfg.TTL.Duration(), logger), nil
	case config.CacheRedis:
		return NewRedisCache(cfg.RedisURL, cfg.KeyPrefix, cfg.TTL.Duration(), logger)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "avarfc/cache"

func expiry(ttl, defaultTTL time.Duration) time.Duration {
	if ttl == 0 {
		return defaultTTL
	}
	return ttl
}
