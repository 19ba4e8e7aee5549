package auth

import (
	"crypto/tls"
	"time"
)

// Result is the outcome of a successful authentication.
type Result struct {
	// Success is true when the strategy produced credentials.
	Success bool

	// Scheme is the strategy that ran.
	Scheme Scheme

	// Headers are applied to the outbound request. They are also set on
	// the request descriptor in place.
	Headers map[string]string

	// ExpiresAt is the credential expiry, zero for none.
	ExpiresAt time.Time

	// SessionID identifies the NTLM session, when one exists.
	SessionID string

	// TLS carries the client TLS configuration for certificate auth.
	TLS *tls.Config
}
