package cert

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ValidateOptions controls the validation pipeline.
type ValidateOptions struct {
	// AllowExpired accepts certificates past NotAfter, within
	// ExpiredAllowance of the expiry.
	AllowExpired bool

	// ExpiredAllowance bounds how far past expiry AllowExpired reaches.
	// Zero means any age.
	ExpiredAllowance time.Duration

	// AllowSelfSigned accepts self-signed certificates.
	AllowSelfSigned bool

	// CAChain supplies intermediate and root certificates for chain
	// validation. Empty skips the chain step.
	CAChain []*x509.Certificate

	// AllowedSignatureAlgorithms restricts leaf signature algorithms.
	// Empty allows any.
	AllowedSignatureAlgorithms []string

	// MinRSAKeyBits is the minimum RSA modulus size. Zero means 2048.
	MinRSAKeyBits int

	// MinECKeyBits is the minimum EC curve size. Zero means 256.
	MinECKeyBits int

	// CheckRevocation runs the OCSP/CRL check.
	CheckRevocation bool

	// RequireRevocationCheck upgrades an unavailable revocation status
	// from a warning to a hard failure.
	RequireRevocationCheck bool

	// Hostname, when set, must match the certificate's SANs or CN.
	Hostname string
}

// Validator runs the certificate validation pipeline.
type Validator struct {
	logger  *zap.Logger
	revoker *Revoker
	metrics *Metrics
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the structured logger.
func WithValidatorLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithRevoker sets the revocation checker used when CheckRevocation is on.
func WithRevoker(r *Revoker) ValidatorOption {
	return func(v *Validator) {
		v.revoker = r
	}
}

// WithValidatorMetrics sets the metrics collector.
func WithValidatorMetrics(m *Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = m
	}
}

// NewValidator creates a certificate validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every pipeline step, collecting errors and warnings.
// Steps never abort the pipeline; the overall verdict is the absence of
// errors.
func (v *Validator) Validate(ctx context.Context, c *x509.Certificate, opts ValidateOptions) (*ValidationResult, error) {
	if c == nil {
		return nil, NewCertificateErrorWithCause("validate", "", "nil certificate", ErrNoCertificate)
	}

	result := &ValidationResult{
		Subject:            c.Subject.String(),
		Issuer:             c.Issuer.String(),
		SerialNumber:       c.SerialNumber.String(),
		FingerprintSHA256:  Fingerprint(c),
		NotBefore:          c.NotBefore,
		NotAfter:           c.NotAfter,
		SignatureAlgorithm: c.SignatureAlgorithm.String(),
	}

	v.checkValidityWindow(c, opts, result)
	v.extractUsage(c, result)
	v.checkChain(c, opts, result)
	v.checkSelfSigned(c, opts, result)
	v.checkSignatureAlgorithm(c, opts, result)
	v.checkKeySize(c, opts, result)
	v.checkRevocation(ctx, c, opts, result)
	v.checkHostname(c, opts, result)

	result.Valid = len(result.Errors) == 0

	if v.metrics != nil {
		v.metrics.RecordValidation(result.Valid)
	}

	v.logger.Debug("certificate validated",
		zap.String("subject", result.Subject),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)))

	return result, nil
}

func (v *Validator) checkValidityWindow(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	now := time.Now()

	if now.Before(c.NotBefore) {
		result.addError(fmt.Sprintf("certificate not valid until %s", c.NotBefore.Format(time.RFC3339)))
		return
	}

	if now.After(c.NotAfter) {
		if opts.AllowExpired {
			if opts.ExpiredAllowance > 0 && now.Sub(c.NotAfter) > opts.ExpiredAllowance {
				result.addError(fmt.Sprintf("certificate expired on %s, beyond the configured allowance", c.NotAfter.Format(time.RFC3339)))
				return
			}
			result.addWarning(fmt.Sprintf("certificate expired on %s (allowed by configuration)", c.NotAfter.Format(time.RFC3339)))
			return
		}
		result.addError(fmt.Sprintf("certificate expired on %s", c.NotAfter.Format(time.RFC3339)))
	}
}

// extractUsage walks the extension list for key usage, EKU, and SANs.
func (v *Validator) extractUsage(c *x509.Certificate, result *ValidationResult) {
	exts, err := ParseExtensions(c)
	if err != nil {
		result.addWarning("could not parse certificate extensions: " + err.Error())
		return
	}

	if usage, err := KeyUsageNames(exts); err == nil {
		result.KeyUsage = usage
	} else {
		result.addWarning("could not parse key usage: " + err.Error())
	}

	if eku, err := ExtKeyUsageNames(exts); err == nil {
		result.ExtKeyUsage = eku
	} else {
		result.addWarning("could not parse extended key usage: " + err.Error())
	}

	if sans, err := SubjectAltNames(exts); err == nil {
		result.SubjectAltNames = sans
	} else {
		result.addWarning("could not parse subject alternative names: " + err.Error())
	}
}

// checkChain walks issuer→subject links through the supplied CA chain,
// verifying each CA's validity window and expecting a self-signed root.
func (v *Validator) checkChain(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	if len(opts.CAChain) == 0 {
		return
	}

	now := time.Now()
	current := c
	remaining := append([]*x509.Certificate(nil), opts.CAChain...)

	for {
		if isSelfSigned(current) {
			// Terminated at a self-signed root.
			return
		}

		issuer := popIssuer(&remaining, current)
		if issuer == nil {
			result.addError(fmt.Sprintf("no issuer found for %q; chain does not terminate at a root", current.Subject.CommonName))
			return
		}

		if err := current.CheckSignatureFrom(issuer); err != nil {
			result.addError(fmt.Sprintf("signature of %q not issued by %q: %v", current.Subject.CommonName, issuer.Subject.CommonName, err))
			return
		}

		if now.Before(issuer.NotBefore) || now.After(issuer.NotAfter) {
			result.addError(fmt.Sprintf("CA certificate %q is outside its validity window", issuer.Subject.CommonName))
			return
		}

		current = issuer
	}
}

// popIssuer removes and returns the chain certificate whose subject
// matches the current certificate's issuer.
func popIssuer(remaining *[]*x509.Certificate, current *x509.Certificate) *x509.Certificate {
	for i, candidate := range *remaining {
		if candidate.Subject.String() == current.Issuer.String() {
			*remaining = append((*remaining)[:i], (*remaining)[i+1:]...)
			return candidate
		}
	}
	return nil
}

func (v *Validator) checkSelfSigned(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	if opts.AllowSelfSigned {
		return
	}
	if isSelfSigned(c) {
		result.addError("certificate is self-signed and self-signed certificates are not allowed")
	}
}

func (v *Validator) checkSignatureAlgorithm(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	if len(opts.AllowedSignatureAlgorithms) == 0 {
		return
	}

	algo := c.SignatureAlgorithm.String()
	for _, allowed := range opts.AllowedSignatureAlgorithms {
		if strings.EqualFold(algo, allowed) {
			return
		}
	}
	result.addError(fmt.Sprintf("signature algorithm %s is not in the allowed list", algo))
}

func (v *Validator) checkKeySize(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	minRSA := opts.MinRSAKeyBits
	if minRSA <= 0 {
		minRSA = 2048
	}
	minEC := opts.MinECKeyBits
	if minEC <= 0 {
		minEC = 256
	}

	switch key := c.PublicKey.(type) {
	case *rsa.PublicKey:
		if bits := key.N.BitLen(); bits < minRSA {
			result.addError(fmt.Sprintf("RSA key size %d below minimum %d", bits, minRSA))
		}
	case *ecdsa.PublicKey:
		if bits := key.Curve.Params().BitSize; bits < minEC {
			result.addError(fmt.Sprintf("EC key size %d below minimum %d", bits, minEC))
		}
	case ed25519.PublicKey:
		// Fixed size; always acceptable.
	default:
		result.addWarning("unrecognized public key type; key size not checked")
	}
}

// checkRevocation consults the revoker. An unavailable status degrades
// to a warning unless the policy requires the check to complete.
func (v *Validator) checkRevocation(ctx context.Context, c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	if !opts.CheckRevocation {
		return
	}
	if v.revoker == nil {
		result.addWarning("revocation check requested but no revocation checker configured")
		return
	}

	var issuer *x509.Certificate
	for _, candidate := range opts.CAChain {
		if candidate.Subject.String() == c.Issuer.String() {
			issuer = candidate
			break
		}
	}

	status, err := v.revoker.Check(ctx, c, issuer)
	if err != nil {
		if opts.RequireRevocationCheck {
			result.addError("revocation status unavailable: " + err.Error())
		} else {
			result.addWarning("revocation status unavailable: " + err.Error())
		}
		return
	}

	result.Revocation = status
	if status.Revoked {
		msg := "certificate is revoked"
		if status.Reason != "" {
			msg += " (" + status.Reason + ")"
		}
		result.addError(msg)
	}
}

func (v *Validator) checkHostname(c *x509.Certificate, opts ValidateOptions, result *ValidationResult) {
	host := opts.Hostname
	if host == "" {
		return
	}

	for _, dnsName := range c.DNSNames {
		if matchHostname(host, dnsName) {
			return
		}
	}

	// Legacy CN fallback.
	if matchHostname(host, c.Subject.CommonName) {
		return
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, certIP := range c.IPAddresses {
			if ip.Equal(certIP) {
				return
			}
		}
	}

	result.addError(fmt.Sprintf("certificate is not valid for host %q", host))
}

// isSelfSigned checks issuer==subject and a valid self-signature.
// The raw signature check avoids CA constraint enforcement, so a
// self-signed leaf without CA basic constraints is still recognized.
func isSelfSigned(c *x509.Certificate) bool {
	if c == nil || c.Issuer.String() != c.Subject.String() {
		return false
	}
	return c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}

// matchHostname matches a hostname against a pattern, wildcard-aware.
func matchHostname(host, pattern string) bool {
	if pattern == "" {
		return false
	}

	if strings.EqualFold(host, pattern) {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // keep the dot
		if idx := strings.Index(host, "."); idx > 0 {
			return strings.EqualFold(host[idx:], suffix)
		}
	}

	return false
}
