// Package audit records authentication outcomes in a bounded in-memory
// trail and exposes them as Prometheus counters. Credential material is
// redacted before an event is stored.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeSigning        EventType = "signing"
	EventTypeCertificate    EventType = "certificate"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Common actions.
const (
	// Authentication actions
	ActionApplyAuth    Action = "apply_auth"
	ActionTokenRefresh Action = "token_refresh"
	ActionChallenge    Action = "challenge_response"
	ActionSessionEnd   Action = "session_end"

	// Signing actions
	ActionSignRequest  Action = "sign_request"
	ActionPresignURL   Action = "presign_url"
	ActionResolveCreds Action = "resolve_credentials"

	// Certificate actions
	ActionValidateCert    Action = "validate_certificate"
	ActionRevocationCheck Action = "revocation_check"

	// Security actions
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
	ActionPolicyViolation   Action = "policy_violation"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Scheme is the authentication scheme or signing variant involved.
	Scheme string `json:"scheme,omitempty"`

	// Target is the request host or certificate subject acted on.
	Target string `json:"target,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration,omitempty"`

	// Details contains additional metadata. Values under credential
	// keys are redacted on record.
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}
