// Package ratelimit provides fixed-window rate limiting keyed per
// authentication scheme. The dispatcher checks the window before any
// strategy runs and fails closed when the quota is exhausted.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the window resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// NoopLimiter always allows requests. Used when rate limiting is disabled.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(_ context.Context, _ string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, _ int) (*Result, error) {
	return l.Allow(ctx, key)
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(_ context.Context, _ string) error {
	return nil
}
