package awssign

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the signing engine.
var (
	// ErrNoCredentials indicates no provider in the chain produced
	// usable credentials.
	ErrNoCredentials = errors.New("awssign: no credentials available")

	// ErrCredentialsExpired indicates resolved credentials are past
	// their expiry.
	ErrCredentialsExpired = errors.New("awssign: credentials expired")

	// ErrMissingRegion indicates signing was attempted without a region.
	ErrMissingRegion = errors.New("awssign: region is required")

	// ErrMissingService indicates signing was attempted without a
	// service name and none could be inferred from the hostname.
	ErrMissingService = errors.New("awssign: service is required")

	// ErrUnsupportedVersion indicates an unknown signature version.
	ErrUnsupportedVersion = errors.New("awssign: unsupported signature version")

	// ErrMalformedCredentialsFile indicates the shared credentials file
	// could not be parsed.
	ErrMalformedCredentialsFile = errors.New("awssign: malformed credentials file")

	// ErrProfileNotFound indicates the requested profile is absent from
	// the shared credentials file.
	ErrProfileNotFound = errors.New("awssign: profile not found")

	// ErrMetadataUnavailable indicates the instance or container
	// metadata endpoint could not be reached.
	ErrMetadataUnavailable = errors.New("awssign: metadata endpoint unavailable")
)

// SignatureError describes a signing failure.
type SignatureError struct {
	// Operation is the signing operation that failed.
	Operation string

	// Message describes the failure.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("awssign: %s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("awssign: %s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// newSignatureError creates a SignatureError.
func newSignatureError(operation, message string, cause error) *SignatureError {
	return &SignatureError{Operation: operation, Message: message, Cause: cause}
}

// CredentialError aggregates every provider failure observed while
// walking the credential chain.
type CredentialError struct {
	// Failures maps provider name to its failure.
	Failures map[string]error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	if len(e.Failures) == 0 {
		return ErrNoCredentials.Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for name, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return fmt.Sprintf("awssign: credential chain exhausted: [%s]", strings.Join(parts, "; "))
}

// Unwrap marks the aggregate as a no-credentials condition.
func (e *CredentialError) Unwrap() error {
	return ErrNoCredentials
}
