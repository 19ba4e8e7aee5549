package auth

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes carried by AuthError.
const (
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodePolicyViolation     = "POLICY_VIOLATION"
	CodeMissingChallenge    = "MISSING_CHALLENGE"
	CodeMalformedChallenge  = "MALFORMED_CHALLENGE"
	CodeRefreshNotSupported = "REFRESH_NOT_SUPPORTED"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeDelegateFailed      = "DELEGATE_FAILED"
	CodeTokenGeneration     = "TOKEN_GENERATION_FAILED"
)

// Sentinel errors for authentication operations.
var (
	// ErrAuthenticationFailed is the root of every dispatcher failure.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrNoSchemeConfigured indicates the config carries no active variant.
	ErrNoSchemeConfigured = errors.New("auth: no scheme configured")

	// ErrMultipleSchemes indicates more than one variant is set.
	ErrMultipleSchemes = errors.New("auth: multiple schemes configured")

	// ErrMissingChallenge indicates a scheme needing a server challenge
	// was invoked without one.
	ErrMissingChallenge = errors.New("auth: server challenge required")

	// ErrSessionNotFound indicates an unknown or expired session id.
	ErrSessionNotFound = errors.New("auth: session not found")
)

// AuthError describes a dispatcher failure with a stable code.
type AuthError struct {
	// Code is the machine-readable failure code.
	Code string

	// Scheme is the authentication scheme involved, when known.
	Scheme Scheme

	// Message describes the failure.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is marks every AuthError as an authentication failure.
func (e *AuthError) Is(target error) bool {
	if errors.Is(target, ErrAuthenticationFailed) {
		return true
	}
	_, ok := target.(*AuthError)
	return ok || errors.Is(e.Cause, target)
}

// newAuthError creates an AuthError.
func newAuthError(code string, scheme Scheme, message string) *AuthError {
	return &AuthError{Code: code, Scheme: scheme, Message: message}
}

// wrapAuthError creates an AuthError around a cause.
func wrapAuthError(code string, scheme Scheme, message string, cause error) *AuthError {
	return &AuthError{Code: code, Scheme: scheme, Message: message, Cause: cause}
}

// ErrorCode extracts the stable code from an error, empty when the
// error is not an AuthError.
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}
