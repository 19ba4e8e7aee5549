package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures the Redis cache backend.
type RedisOptions struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix is prepended to every key, namespacing the engine's
	// entries within a shared Redis instance.
	KeyPrefix string

	// DialTimeout bounds the initial connection. Defaults to 5s.
	DialTimeout time.Duration

	// Logger is the structured logger. Defaults to a nop logger.
	Logger *zap.Logger
}

// redisCache implements Cache backed by Redis. TTL enforcement is
// delegated to Redis key expiry, so there is no sweep goroutine.
type redisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger

	hits   int64
	misses int64
}

// NewRedis creates a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions) (CacheWithStats, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: redis address required", ErrInvalidConfig)
	}

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &redisCache{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		logger:    logger,
	}, nil
}

func (c *redisCache) prefixed(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

// Get retrieves a value from Redis.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}

	atomic.AddInt64(&c.hits, 1)
	return value, nil
}

// Set stores a value in Redis with the given TTL.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from Redis.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Exists checks if a key exists in Redis.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefixed(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked for Redis because
// the keyspace is shared.
func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
