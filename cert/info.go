// Package cert loads certificates in PEM, DER, and PKCS#12 encodings,
// validates trust chains, and checks revocation status over OCSP and CRL.
package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// Format identifies the encoding of loaded certificate material.
type Format string

const (
	// FormatPEM is PEM-armored material.
	FormatPEM Format = "pem"

	// FormatDER is raw DER bytes.
	FormatDER Format = "der"

	// FormatPKCS12 is a PKCS#12/PFX container.
	FormatPKCS12 Format = "pkcs12"
)

// Info holds loaded certificate material. Immutable once loaded; the
// store keys it by content hash.
type Info struct {
	// Certificate is the parsed leaf certificate.
	Certificate *x509.Certificate

	// CertificatePEM is the leaf in PEM encoding.
	CertificatePEM []byte

	// PrivateKeyPEM is the private key in PEM encoding, if present.
	PrivateKeyPEM []byte

	// CAChain holds intermediate and root certificates, leaf-adjacent first.
	CAChain []*x509.Certificate

	// Format is the detected input encoding.
	Format Format

	// ContentHash is the SHA-256 of the raw leaf, hex encoded.
	ContentHash string
}

// Subject returns the leaf subject common name.
func (i *Info) Subject() string {
	if i == nil || i.Certificate == nil {
		return ""
	}
	return i.Certificate.Subject.CommonName
}

// Fingerprint returns the SHA-256 fingerprint of a certificate as a
// colon-separated upper-case hex string.
func Fingerprint(c *x509.Certificate) string {
	if c == nil {
		return ""
	}
	sum := sha256.Sum256(c.Raw)
	return formatFingerprint(sum[:])
}

// contentHash returns the plain hex SHA-256 of raw certificate bytes,
// used as the store key.
func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func formatFingerprint(sum []byte) string {
	const hexdigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(sum)*3)
	for i, b := range sum {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	return string(out)
}

// ValidationResult is the outcome of running the validation pipeline.
type ValidationResult struct {
	// Valid is true when no step recorded an error.
	Valid bool

	// Errors are fatal findings.
	Errors []string

	// Warnings are non-fatal findings (e.g. revocation unreachable).
	Warnings []string

	// Fields extracted from the certificate.
	Subject            string
	Issuer             string
	SerialNumber       string
	FingerprintSHA256  string
	NotBefore          time.Time
	NotAfter           time.Time
	SignatureAlgorithm string
	KeyUsage           []string
	ExtKeyUsage        []string
	SubjectAltNames    []string

	// Revocation carries the revocation verdict, when checked.
	Revocation *RevocationStatus
}

// addError records a fatal finding.
func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// addWarning records a non-fatal finding.
func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
