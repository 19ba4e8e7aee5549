package audit

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultCapacity is the default ring buffer capacity.
const DefaultCapacity = 1000

const redactedValue = "[REDACTED]"

// redactedKeys are detail keys whose values never reach the trail.
var redactedKeys = []string{
	"password", "secret", "token", "authorization", "credential",
	"private_key", "session_key",
}

// Trail is a bounded in-memory audit trail. When the capacity is
// exceeded the oldest events are trimmed.
type Trail struct {
	capacity int
	logger   *zap.Logger
	metrics  *Metrics

	mu     sync.Mutex
	events []*Event
}

// TrailOption is a functional option for the trail.
type TrailOption func(*Trail)

// WithLogger sets the structured logger used to mirror events.
func WithLogger(logger *zap.Logger) TrailOption {
	return func(t *Trail) {
		t.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics collector.
func WithMetrics(m *Metrics) TrailOption {
	return func(t *Trail) {
		t.metrics = m
	}
}

// WithCapacity overrides the ring buffer capacity.
func WithCapacity(n int) TrailOption {
	return func(t *Trail) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// NewTrail creates an audit trail.
func NewTrail(opts ...TrailOption) *Trail {
	t := &Trail{
		capacity: DefaultCapacity,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Record stores an event, redacting credential material from its details.
func (t *Trail) Record(event *Event) {
	if event == nil {
		return
	}

	redactDetails(event.Details)

	t.mu.Lock()
	t.events = append(t.events, event)
	if len(t.events) > t.capacity {
		// Trim oldest beyond the cap.
		overflow := len(t.events) - t.capacity
		t.events = append(t.events[:0:0], t.events[overflow:]...)
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordEvent(event.Type, event.Action, event.Outcome)
	}

	t.logger.Debug("audit event",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("action", string(event.Action)),
		zap.String("outcome", string(event.Outcome)),
		zap.String("scheme", event.Scheme))
}

// Events returns a snapshot of the trail, oldest first.
func (t *Trail) Events() []*Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of stored events.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Clear drops all stored events.
func (t *Trail) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// redactDetails replaces credential values in place.
func redactDetails(details map[string]interface{}) {
	for key := range details {
		lower := strings.ToLower(key)
		for _, sensitive := range redactedKeys {
			if strings.Contains(lower, sensitive) {
				details[key] = redactedValue
				break
			}
		}
	}
}
