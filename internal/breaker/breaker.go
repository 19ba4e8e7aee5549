// Package breaker implements a circuit breaker guarding the outbound
// endpoints the engines depend on (OCSP responders, CRL distribution
// points, credential metadata services).
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is testing if the endpoint recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many probes run in half-open state.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config contains circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default is 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit. Default is 2.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before moving to
	// half-open. Default is 30s.
	OpenTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes in half-open state.
	// Default is 1.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the default circuit breaker configuration.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		out.SuccessThreshold = c.SuccessThreshold
	}
	if c.OpenTimeout > 0 {
		out.OpenTimeout = c.OpenTimeout
	}
	if c.HalfOpenMaxRequests > 0 {
		out.HalfOpenMaxRequests = c.HalfOpenMaxRequests
	}
	return out
}

// Breaker implements the circuit breaker pattern for a single endpoint.
type Breaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenSuccess  int
	halfOpenInFlight int
	openedAt         time.Time

	// now is overridable for tests.
	now func() time.Time
}

// New creates a circuit breaker for the named endpoint.
func New(name string, config *Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Execute runs fn under the breaker's admission control.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState resolves open→half-open transitions on read.
// Must be called with the lock held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		b.halfOpenInFlight++
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenInFlight--
	}

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

// onSuccess must be called with the lock held.
func (b *Breaker) onSuccess() {
	b.consecutiveFails = 0

	if b.state == StateHalfOpen {
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// onFailure must be called with the lock held.
func (b *Breaker) onFailure() {
	b.consecutiveFails++

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.consecutiveFails >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.halfOpenSuccess = 0
	b.halfOpenInFlight = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	b.logger.Info("circuit breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// Registry manages one breaker per endpoint.
type Registry struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with shared configuration.
func NewRegistry(config *Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		config:   config.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named endpoint, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := New(name, r.config, r.logger)
	r.breakers[name] = b
	return b
}
