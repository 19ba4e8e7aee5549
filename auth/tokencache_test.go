package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCachePutGet(t *testing.T) {
	cache := NewTokenCache(5*time.Second, nil)

	cache.Put("api", TokenEntry{Token: "abc", ExpiresAt: time.Now().Add(time.Hour)})

	entry, ok := cache.Get("api")
	require.True(t, ok)
	assert.Equal(t, "abc", entry.Token)
	assert.Equal(t, 1, cache.Len())
}

func TestTokenCacheMiss(t *testing.T) {
	cache := NewTokenCache(5*time.Second, nil)

	_, ok := cache.Get("missing")
	assert.False(t, ok)
}

func TestTokenCacheRefreshBuffer(t *testing.T) {
	cache := NewTokenCache(5*time.Second, nil)

	// Expiry inside the refresh buffer counts as already expired.
	cache.Put("near", TokenEntry{Token: "abc", ExpiresAt: time.Now().Add(3 * time.Second)})
	_, ok := cache.Get("near")
	assert.False(t, ok)

	// The expired entry is evicted on read.
	assert.Equal(t, 0, cache.Len())

	// Expiry beyond the buffer is still fresh.
	cache.Put("far", TokenEntry{Token: "def", ExpiresAt: time.Now().Add(time.Minute)})
	_, ok = cache.Get("far")
	assert.True(t, ok)
}

func TestTokenCacheNoExpiry(t *testing.T) {
	cache := NewTokenCache(time.Second, nil)

	cache.Put("forever", TokenEntry{Token: "abc"})

	entry, ok := cache.Get("forever")
	require.True(t, ok)
	assert.True(t, entry.ExpiresAt.IsZero())
}

func TestTokenCacheDelete(t *testing.T) {
	cache := NewTokenCache(time.Second, nil)

	cache.Put("key", TokenEntry{Token: "abc"})
	cache.Delete("key")

	_, ok := cache.Get("key")
	assert.False(t, ok)
}

func TestTokenCacheSweep(t *testing.T) {
	cache := NewTokenCache(5*time.Second, nil)

	cache.Put("expired", TokenEntry{Token: "a", ExpiresAt: time.Now().Add(time.Second)})
	cache.Put("fresh", TokenEntry{Token: "b", ExpiresAt: time.Now().Add(time.Hour)})
	cache.Put("forever", TokenEntry{Token: "c"})

	dropped := cache.Sweep()
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 2, cache.Len())
}

func TestTokenCacheReplace(t *testing.T) {
	cache := NewTokenCache(time.Second, nil)

	cache.Put("key", TokenEntry{Token: "old"})
	cache.Put("key", TokenEntry{Token: "new", RefreshToken: "r1", Scope: "read"})

	entry, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Token)
	assert.Equal(t, "r1", entry.RefreshToken)
	assert.Equal(t, "read", entry.Scope)
	assert.Equal(t, 1, cache.Len())
}
