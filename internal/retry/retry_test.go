package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	cfg := &Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	cfg := &Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	wantErr := errors.New("persistent")
	calls := 0

	err := Do(context.Background(), cfg, func() error {
		calls++
		return wantErr
	}, nil)

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	cfg := &Config{MaxRetries: 5, InitialBackoff: time.Millisecond}
	calls := 0

	err := Do(context.Background(), cfg, func() error {
		calls++
		return NewHTTPStatusError(403, "http://169.254.169.254/latest/meta-data")
	}, &Options{ShouldRetry: ShouldRetryHTTP})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 403, statusErr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, nil, func() error { return errors.New("never runs") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := &Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	var attempts []int

	_ = Do(context.Background(), cfg, func() error {
		return errors.New("boom")
	}, &Options{OnRetry: func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCalculateBackoff(t *testing.T) {
	// Zero jitter makes the curve deterministic.
	b0 := CalculateBackoff(0, 100*time.Millisecond, time.Minute, 0)
	b1 := CalculateBackoff(1, 100*time.Millisecond, time.Minute, 0)
	b2 := CalculateBackoff(2, 100*time.Millisecond, time.Minute, 0)

	assert.Equal(t, 100*time.Millisecond, b0)
	assert.Equal(t, 200*time.Millisecond, b1)
	assert.Equal(t, 400*time.Millisecond, b2)

	capped := CalculateBackoff(20, 100*time.Millisecond, time.Second, 0)
	assert.Equal(t, time.Second, capped)
}

func TestShouldRetryHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", NewHTTPStatusError(500, "u"), true},
		{"503", NewHTTPStatusError(503, "u"), true},
		{"429", NewHTTPStatusError(429, "u"), true},
		{"408", NewHTTPStatusError(408, "u"), true},
		{"401", NewHTTPStatusError(401, "u"), false},
		{"403", NewHTTPStatusError(403, "u"), false},
		{"404", NewHTTPStatusError(404, "u"), false},
		{"400", NewHTTPStatusError(400, "u"), false},
		{"transient", MarkTransient(errors.New("conn reset")), true},
		{"plain", errors.New("parse failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetryHTTP(tt.err))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c *Config
	assert.Equal(t, DefaultMaxRetries, c.GetMaxRetries())
	assert.Equal(t, DefaultInitialBackoff, c.GetInitialBackoff())
	assert.Equal(t, DefaultMaxBackoff, c.GetMaxBackoff())
	assert.Equal(t, DefaultJitterFactor, c.GetJitterFactor())

	over := &Config{JitterFactor: 2.0}
	assert.Equal(t, MaxJitterFactor, over.GetJitterFactor())
}
