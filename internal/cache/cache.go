// Package cache provides the TTL cache abstraction shared by the
// authentication, signing, and certificate engines. Each engine owns its
// own cache instances; nothing in this package is process-global.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheDisabled indicates that caching is disabled.
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrConnectionFailed indicates that the cache connection failed.
	ErrConnectionFailed = errors.New("cache connection failed")
)

// Cache is the main interface for caching.
//
// Expiry is lazy: a Get or Exists on an entry past its TTL behaves as a
// miss regardless of whether the background sweep has run yet.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the cache and stops any background sweeps.
	Close() error
}

// CacheWithStats extends Cache with statistics.
type CacheWithStats interface {
	Cache

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Size is the current number of entries in the cache.
	Size int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Backend identifies a cache backend implementation.
type Backend string

const (
	// BackendMemory is the in-process memory backend.
	BackendMemory Backend = "memory"

	// BackendRedis is the Redis backend.
	BackendRedis Backend = "redis"

	// BackendDisabled disables caching entirely.
	BackendDisabled Backend = "disabled"
)

// disabledCache is a cache that always returns ErrCacheDisabled.
type disabledCache struct{}

// NewDisabled returns a cache that rejects every operation. Used when an
// engine is configured with caching turned off.
func NewDisabled() Cache {
	return &disabledCache{}
}

func (c *disabledCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrCacheDisabled
}

func (c *disabledCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Delete(_ context.Context, _ string) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Exists(_ context.Context, _ string) (bool, error) {
	return false, ErrCacheDisabled
}

func (c *disabledCache) Close() error {
	return nil
}
