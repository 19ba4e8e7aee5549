package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is the default interval between background sweeps
// of expired entries.
const DefaultSweepInterval = time.Minute

// MemoryOptions configures the in-memory cache.
type MemoryOptions struct {
	// MaxEntries caps the number of entries; the least recently used
	// entry is evicted when the cap is exceeded. Defaults to 10000.
	MaxEntries int

	// DefaultTTL applies to Set calls with a zero TTL.
	DefaultTTL time.Duration

	// SweepInterval is the interval between background sweeps of
	// expired entries. Defaults to DefaultSweepInterval. Sweeping is an
	// optimization only; reads never return entries past their TTL.
	SweepInterval time.Duration

	// Logger is the structured logger. Defaults to a nop logger.
	Logger *zap.Logger
}

// memoryCache implements an in-memory LRU cache with per-entry TTL.
type memoryCache struct {
	logger        *zap.Logger
	maxEntries    int
	defaultTTL    time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// memoryEntry represents an entry in the memory cache.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemory creates a new in-memory cache and starts its sweep goroutine.
func NewMemory(opts MemoryOptions) CacheWithStats {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &memoryCache{
		logger:        logger,
		maxEntries:    maxEntries,
		defaultTTL:    opts.DefaultTTL,
		sweepInterval: sweep,
		items:         make(map[string]*list.Element),
		eviction:      list.New(),
		stopCh:        make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Get retrieves a value from the cache.
func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)

	// Lazy expiry: a hit past its TTL is a miss.
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)

	return entry.value, nil
}

// Set stores a value in the cache.
func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	entry := &memoryEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.eviction.MoveToFront(elem)
		elem.Value = entry
		return nil
	}

	elem := c.eviction.PushFront(entry)
	c.items[key] = elem

	for c.eviction.Len() > c.maxEntries {
		c.evictOldest()
	}

	return nil
}

// Delete removes a value from the cache.
func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}

	return nil
}

// Exists checks if a key exists in the cache.
func (c *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return false, nil
	}

	return true, nil
}

// Close stops the sweep goroutine and drops all entries.
func (c *memoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()

	return nil
}

// Stats returns cache statistics.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(c.eviction.Len())
	c.mu.Unlock()

	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   size,
	}
}

// evictOldest removes the least recently used entry.
// Must be called with the lock held.
func (c *memoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Must be called with the lock held.
func (c *memoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
}

// sweepLoop periodically removes expired entries.
func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes expired entries under a single write lock so that
// entries cannot be replaced between identification and removal.
func (c *memoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	if len(toRemove) > 0 {
		c.logger.Debug("cache sweep completed", zap.Int("removed", len(toRemove)))
	}
}
