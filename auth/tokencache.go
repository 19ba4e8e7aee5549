package auth

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshBuffer is the margin before real expiry after which a
// cached token is treated as already expired.
const DefaultRefreshBuffer = 30 * time.Second

// TokenEntry is a cached token with its refresh metadata.
type TokenEntry struct {
	// Token is the credential value.
	Token string

	// ExpiresAt is the token expiry, zero for no expiry.
	ExpiresAt time.Time

	// RefreshToken supports later refresh, when the issuer provided one.
	RefreshToken string

	// Scope is the granted scope string, when the issuer provided one.
	Scope string
}

// TokenCache holds issued tokens keyed by caller-chosen cache keys.
// Entries expire once now plus the refresh buffer reaches the token
// expiry; expired entries are evicted lazily on read and eagerly by
// Sweep.
type TokenCache struct {
	mu            sync.RWMutex
	entries       map[string]TokenEntry
	refreshBuffer time.Duration
	logger        *zap.Logger
}

// NewTokenCache creates a token cache. A non-positive refreshBuffer
// uses the default.
func NewTokenCache(refreshBuffer time.Duration, logger *zap.Logger) *TokenCache {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		entries:       make(map[string]TokenEntry),
		refreshBuffer: refreshBuffer,
		logger:        logger,
	}
}

// Get returns the cached entry for key. An entry within the refresh
// buffer of its expiry is evicted and reported as a miss.
func (c *TokenCache) Get(key string) (TokenEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return TokenEntry{}, false
	}
	if c.expired(entry, time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return TokenEntry{}, false
	}
	return entry, true
}

// Put stores an entry under key, replacing any existing one.
func (c *TokenCache) Put(key string, entry TokenEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Delete drops the entry for key.
func (c *TokenCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts every expired entry and returns how many were dropped.
func (c *TokenCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Debug("token cache swept", zap.Int("dropped", dropped))
	}
	return dropped
}

// expired reports whether now + refreshBuffer has reached the entry's
// expiry. Entries without an expiry never expire.
func (c *TokenCache) expired(entry TokenEntry, now time.Time) bool {
	if entry.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(c.refreshBuffer).Before(entry.ExpiresAt)
}
