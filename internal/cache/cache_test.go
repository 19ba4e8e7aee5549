package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_LazyExpiry(t *testing.T) {
	// Long sweep interval so only the lazy read path can expire the entry.
	c := NewMemory(MemoryOptions{SweepInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(30 * time.Millisecond)

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "expired entry must read as a miss before any sweep")

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemory(MemoryOptions{SweepInterval: 10 * time.Millisecond})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemory(MemoryOptions{MaxEntries: 2})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	// Touch "a" so "b" becomes the eviction candidate.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryCache_Sweep(t *testing.T) {
	c := NewMemory(MemoryOptions{SweepInterval: 10 * time.Millisecond}).(*memoryCache)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 5*time.Millisecond))

	assert.Eventually(t, func() bool {
		return c.Stats().Size == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.01)
}

func TestDisabledCache(t *testing.T) {
	c := NewDisabled()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheDisabled)
	assert.NoError(t, c.Close())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, RedisOptions{Addr: mr.Addr(), KeyPrefix: "authcore"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "token", []byte("abc"), time.Minute))

	got, err := c.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	// Prefixed key is what lands in Redis.
	assert.True(t, mr.Exists("authcore:token"))

	// Expiry via Redis key TTL.
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Delete(ctx, "token"))
	exists, err := c.Exists(ctx, "token")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_BadAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRedis(context.Background(), RedisOptions{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}
