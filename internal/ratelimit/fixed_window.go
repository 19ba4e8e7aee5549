package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
// Time is divided into fixed windows and requests are counted within each
// window; the counter resets to zero once the window elapses.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	logger *zap.Logger

	counters sync.Map

	// now is overridable for tests.
	now func() time.Time
}

// windowCounter tracks the request count for one key's current window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(_ context.Context, key string, n int) (*Result, error) {
	now := l.now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: windowStart})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	// New window: reset the counter.
	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+n <= l.limit
	if allowed {
		wc.count += n
	}

	remaining := l.limit - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(_ context.Context, key string) error {
	l.counters.Delete(key)
	return nil
}

// Cleanup removes counters whose window has elapsed. Run from the
// dispatcher's periodic sweep.
func (l *FixedWindowLimiter) Cleanup() {
	windowStart := l.windowStart(l.now())

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		stale := wc.windowStart.Before(windowStart)
		wc.mu.Unlock()

		if stale {
			l.counters.Delete(key)
		}
		return true
	})
}

// windowStart returns the start time of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}
