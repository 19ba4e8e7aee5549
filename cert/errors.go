package cert

import (
	"errors"
	"fmt"
)

// Sentinel errors for certificate operations.
var (
	// ErrNoCertificate indicates that no certificate material was provided.
	ErrNoCertificate = errors.New("no certificate provided")

	// ErrUnknownFormat indicates that the certificate format could not be detected.
	ErrUnknownFormat = errors.New("unknown certificate format")

	// ErrMalformedCertificate indicates unparseable certificate input.
	ErrMalformedCertificate = errors.New("malformed certificate")

	// ErrMalformedKey indicates unparseable private key input.
	ErrMalformedKey = errors.New("malformed private key")

	// ErrCertificateExpired indicates the certificate is outside its validity window.
	ErrCertificateExpired = errors.New("certificate expired")

	// ErrCertificateNotYetValid indicates the certificate is not yet valid.
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")

	// ErrSelfSigned indicates a self-signed certificate where one is not allowed.
	ErrSelfSigned = errors.New("self-signed certificate not allowed")

	// ErrChainIncomplete indicates the chain does not terminate at a self-signed root.
	ErrChainIncomplete = errors.New("certificate chain incomplete")

	// ErrChainInvalid indicates a broken issuer link in the chain.
	ErrChainInvalid = errors.New("certificate chain invalid")

	// ErrCertificateRevoked indicates a revoked certificate.
	ErrCertificateRevoked = errors.New("certificate revoked")

	// ErrRevocationUnavailable indicates the revocation status could not be determined.
	ErrRevocationUnavailable = errors.New("revocation status unavailable")

	// ErrHostnameMismatch indicates the certificate does not cover the target host.
	ErrHostnameMismatch = errors.New("certificate hostname mismatch")

	// ErrWeakKey indicates a key below the minimum size for its algorithm family.
	ErrWeakKey = errors.New("key size below minimum")

	// ErrSignatureAlgorithmNotAllowed indicates a disallowed signature algorithm.
	ErrSignatureAlgorithmNotAllowed = errors.New("signature algorithm not allowed")

	// ErrNotInStore indicates a store lookup miss.
	ErrNotInStore = errors.New("certificate not in store")

	// ErrTimeout indicates an outbound revocation or toolchain call timed out.
	ErrTimeout = errors.New("certificate operation timed out")
)

// CertificateError represents a certificate engine failure with context.
type CertificateError struct {
	Op      string
	Subject string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	msg := fmt.Sprintf("certificate error (%s): %s", e.Op, e.Message)
	if e.Subject != "" {
		msg = fmt.Sprintf("certificate error (%s) [%s]: %s", e.Op, e.Subject, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// NewCertificateError creates a CertificateError.
func NewCertificateError(op, subject, message string) *CertificateError {
	return &CertificateError{Op: op, Subject: subject, Message: message}
}

// NewCertificateErrorWithCause creates a CertificateError wrapping a cause.
func NewCertificateErrorWithCause(op, subject, message string, cause error) *CertificateError {
	return &CertificateError{Op: op, Subject: subject, Message: message, Cause: cause}
}

// IsCertificateError checks if an error is a certificate engine error.
func IsCertificateError(err error) bool {
	var certErr *CertificateError
	return errors.As(err, &certErr)
}
