package cert

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"
	"golang.org/x/time/rate"

	"github.com/apitestkit/authcore/asn1"
	"github.com/apitestkit/authcore/internal/breaker"
	"github.com/apitestkit/authcore/internal/cache"
	"github.com/apitestkit/authcore/internal/retry"
)

// RevocationMethod identifies how a revocation verdict was obtained.
type RevocationMethod string

const (
	// MethodOCSP means the verdict came from an OCSP responder.
	MethodOCSP RevocationMethod = "ocsp"

	// MethodCRL means the verdict came from a certificate revocation list.
	MethodCRL RevocationMethod = "crl"

	// MethodCache means the verdict was served from the status cache.
	MethodCache RevocationMethod = "cache"
)

// RevocationStatus is the outcome of a revocation check.
type RevocationStatus struct {
	// Revoked reports whether the certificate is revoked.
	Revoked bool `json:"revoked"`

	// Reason is the revocation reason, when the source supplied one.
	Reason string `json:"reason,omitempty"`

	// RevokedAt is the revocation time, when the source supplied one.
	RevokedAt time.Time `json:"revoked_at,omitempty"`

	// Method is how the verdict was obtained.
	Method RevocationMethod `json:"method"`

	// CheckedAt is when the verdict was produced.
	CheckedAt time.Time `json:"checked_at"`

	// NextUpdate is when the source expects fresh data, when known.
	NextUpdate time.Time `json:"next_update,omitempty"`
}

// crlReasonNames maps CRLReason enumeration values to names.
var crlReasonNames = map[int]string{
	0:  "unspecified",
	1:  "keyCompromise",
	2:  "cACompromise",
	3:  "affiliationChanged",
	4:  "superseded",
	5:  "cessationOfOperation",
	6:  "certificateHold",
	8:  "removeFromCRL",
	9:  "privilegeWithdrawn",
	10: "aACompromise",
}

// RevokerConfig holds revocation checker configuration.
type RevokerConfig struct {
	// StatusTTL bounds how long a verdict is cached per certificate.
	StatusTTL time.Duration

	// CRLTTL bounds how long a fetched CRL body is cached per URL.
	CRLTTL time.Duration

	// FetchTimeout bounds each network fetch.
	FetchTimeout time.Duration

	// RequestsPerSecond throttles outbound responder traffic.
	RequestsPerSecond float64
}

// DefaultRevokerConfig returns the default revocation checker configuration.
func DefaultRevokerConfig() *RevokerConfig {
	return &RevokerConfig{
		StatusTTL:         time.Hour,
		CRLTTL:            4 * time.Hour,
		FetchTimeout:      10 * time.Second,
		RequestsPerSecond: 10,
	}
}

func (c *RevokerConfig) withDefaults() *RevokerConfig {
	def := DefaultRevokerConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.StatusTTL <= 0 {
		out.StatusTTL = def.StatusTTL
	}
	if out.CRLTTL <= 0 {
		out.CRLTTL = def.CRLTTL
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = def.FetchTimeout
	}
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = def.RequestsPerSecond
	}
	return &out
}

// Revoker checks certificate revocation over OCSP with CRL fallback.
// Verdicts are cached by certificate fingerprint and CRL bodies by URL,
// each distribution endpoint sits behind a circuit breaker, and
// outbound traffic is rate limited.
type Revoker struct {
	config   *RevokerConfig
	client   *http.Client
	cache    cache.Cache
	breakers *breaker.Registry
	retryCfg *retry.Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
}

// RevokerOption configures a Revoker.
type RevokerOption func(*Revoker)

// WithRevokerLogger sets the structured logger.
func WithRevokerLogger(logger *zap.Logger) RevokerOption {
	return func(r *Revoker) {
		r.logger = logger
	}
}

// WithRevokerCache sets the cache backing verdicts and CRL bodies.
func WithRevokerCache(c cache.Cache) RevokerOption {
	return func(r *Revoker) {
		r.cache = c
	}
}

// WithRevokerHTTPClient sets the HTTP client used for fetches.
func WithRevokerHTTPClient(client *http.Client) RevokerOption {
	return func(r *Revoker) {
		r.client = client
	}
}

// WithRevokerRetry sets the retry policy for responder fetches.
func WithRevokerRetry(cfg *retry.Config) RevokerOption {
	return func(r *Revoker) {
		r.retryCfg = cfg
	}
}

// WithRevokerMetrics sets the metrics collector.
func WithRevokerMetrics(m *Metrics) RevokerOption {
	return func(r *Revoker) {
		r.metrics = m
	}
}

// NewRevoker creates a revocation checker.
func NewRevoker(config *RevokerConfig, opts ...RevokerOption) *Revoker {
	cfg := config.withDefaults()
	r := &Revoker{
		config:   cfg,
		logger:   zap.NewNop(),
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if r.cache == nil {
		r.cache = cache.NewDisabled()
	}
	r.breakers = breaker.NewRegistry(breaker.DefaultConfig(), r.logger)
	r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	return r
}

// Check determines the revocation status of c. OCSP is tried first when
// the certificate advertises a responder and an issuer is available;
// CRL distribution points are the fallback. When every source fails the
// error wraps ErrRevocationUnavailable.
func (r *Revoker) Check(ctx context.Context, c *x509.Certificate, issuer *x509.Certificate) (*RevocationStatus, error) {
	if c == nil {
		return nil, NewCertificateErrorWithCause("revocation", "", "nil certificate", ErrNoCertificate)
	}

	cacheKey := "revocation:status:" + Fingerprint(c)
	if data, err := r.cache.Get(ctx, cacheKey); err == nil {
		var status RevocationStatus
		if json.Unmarshal(data, &status) == nil {
			status.Method = MethodCache
			if r.metrics != nil {
				r.metrics.RecordRevocationCheck(string(MethodCache), !status.Revoked)
			}
			return &status, nil
		}
	}

	exts, err := ParseExtensions(c)
	if err != nil {
		return nil, NewCertificateErrorWithCause("revocation", c.Subject.CommonName,
			"could not parse extensions", err)
	}

	var lastErr error

	if issuer != nil {
		ocspURLs, _ := OCSPServers(exts)
		for _, server := range ocspURLs {
			status, err := r.checkOCSP(ctx, c, issuer, server)
			if err != nil {
				lastErr = err
				r.logger.Debug("ocsp check failed",
					zap.String("responder", server),
					zap.Error(err))
				continue
			}
			r.storeStatus(ctx, cacheKey, status)
			return status, nil
		}
	}

	crlURLs, _ := CRLDistributionPoints(exts)
	for _, dist := range crlURLs {
		status, err := r.checkCRL(ctx, c, dist)
		if err != nil {
			lastErr = err
			r.logger.Debug("crl check failed",
				zap.String("distribution_point", dist),
				zap.Error(err))
			continue
		}
		r.storeStatus(ctx, cacheKey, status)
		return status, nil
	}

	if r.metrics != nil {
		r.metrics.RecordRevocationCheck("unavailable", false)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, lastErr)
	}
	return nil, fmt.Errorf("%w: certificate advertises no reachable revocation source", ErrRevocationUnavailable)
}

// storeStatus caches a verdict, capping the TTL at the source's next
// update when that is sooner.
func (r *Revoker) storeStatus(ctx context.Context, key string, status *RevocationStatus) {
	ttl := r.config.StatusTTL
	if !status.NextUpdate.IsZero() {
		if until := time.Until(status.NextUpdate); until > 0 && until < ttl {
			ttl = until
		}
	}
	if data, err := json.Marshal(status); err == nil {
		_ = r.cache.Set(ctx, key, data, ttl)
	}
	if r.metrics != nil {
		r.metrics.RecordRevocationCheck(string(status.Method), !status.Revoked)
	}
}

// checkOCSP posts a request to one responder and parses the reply.
func (r *Revoker) checkOCSP(ctx context.Context, c, issuer *x509.Certificate, server string) (*RevocationStatus, error) {
	reqBody, err := buildOCSPRequest(c, issuer)
	if err != nil {
		return nil, err
	}

	body, err := r.fetch(ctx, server, "POST", "application/ocsp-request", reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := ocsp.ParseResponseForCert(body, c, issuer)
	if err != nil {
		return nil, fmt.Errorf("parse ocsp response: %w", err)
	}

	status := &RevocationStatus{
		Method:     MethodOCSP,
		CheckedAt:  time.Now(),
		NextUpdate: resp.NextUpdate,
	}
	switch resp.Status {
	case ocsp.Revoked:
		status.Revoked = true
		status.RevokedAt = resp.RevokedAt
		if name, ok := crlReasonNames[resp.RevocationReason]; ok {
			status.Reason = name
		}
	case ocsp.Good:
		// Not revoked.
	default:
		return nil, fmt.Errorf("ocsp responder does not know the certificate")
	}
	return status, nil
}

// buildOCSPRequest assembles a DER OCSPRequest with a SHA-1 CertID over
// the issuer name and key.
func buildOCSPRequest(c, issuer *x509.Certificate) ([]byte, error) {
	keyBits, err := SubjectPublicKeyBits(issuer)
	if err != nil {
		return nil, fmt.Errorf("extract issuer public key: %w", err)
	}
	nameHash := sha1.Sum(issuer.RawSubject)
	keyHash := sha1.Sum(keyBits)

	sha1OID, err := asn1.EncodeOID(asn1.OIDSHA1)
	if err != nil {
		return nil, err
	}
	hashAlgorithm := asn1.EncodeSequence(sha1OID, asn1.EncodeNull())

	certID := asn1.EncodeSequence(
		hashAlgorithm,
		asn1.EncodeOctetString(nameHash[:]),
		asn1.EncodeOctetString(keyHash[:]),
		asn1.EncodeInteger(c.SerialNumber),
	)

	request := asn1.EncodeSequence(certID)
	requestList := asn1.EncodeSequence(request)
	tbsRequest := asn1.EncodeSequence(requestList)
	return asn1.EncodeSequence(tbsRequest), nil
}

// checkCRL fetches one distribution point and scans it for the serial.
func (r *Revoker) checkCRL(ctx context.Context, c *x509.Certificate, dist string) (*RevocationStatus, error) {
	body, err := r.fetchCRL(ctx, dist)
	if err != nil {
		return nil, err
	}

	list, err := parseCRL(body)
	if err != nil {
		return nil, err
	}

	status := &RevocationStatus{
		Method:     MethodCRL,
		CheckedAt:  time.Now(),
		NextUpdate: list.NextUpdate,
	}
	for _, entry := range list.Revoked {
		if entry.SerialNumber.Cmp(c.SerialNumber) == 0 {
			status.Revoked = true
			status.RevokedAt = entry.RevokedAt
			status.Reason = entry.Reason
			break
		}
	}
	return status, nil
}

// fetchCRL returns the CRL body for a distribution point, serving from
// the URL cache when fresh.
func (r *Revoker) fetchCRL(ctx context.Context, dist string) ([]byte, error) {
	cacheKey := "revocation:crl:" + dist
	if body, err := r.cache.Get(ctx, cacheKey); err == nil {
		return body, nil
	}

	body, err := r.fetch(ctx, dist, "GET", "", nil)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Set(ctx, cacheKey, body, r.config.CRLTTL)
	return body, nil
}

// fetch performs one rate-limited, breaker-guarded, retried HTTP exchange.
func (r *Revoker) fetch(ctx context.Context, rawURL, method, contentType string, reqBody []byte) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid revocation endpoint %q: %w", rawURL, err)
	}

	var body []byte
	br := r.breakers.Get(parsed.Host)
	err = br.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, r.retryCfg, func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(fetchCtx, method, rawURL, bytes.NewReader(reqBody))
			if err != nil {
				return err
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := r.client.Do(req)
			if err != nil {
				return retry.MarkTransient(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &retry.HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
			}

			body, err = io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			return err
		}, &retry.Options{ShouldRetry: retry.ShouldRetryHTTP})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// crlEntry is one revoked certificate in a CRL.
type crlEntry struct {
	SerialNumber *big.Int
	RevokedAt    time.Time
	Reason       string
}

// crlList is the parsed subset of a CertificateList the checker needs.
type crlList struct {
	ThisUpdate time.Time
	NextUpdate time.Time
	Revoked    []crlEntry
}

// parseCRL decodes a DER (or PEM wrapped) CertificateList down to its
// revoked entry list. Signature verification over the CRL body is the
// caller's concern; the checker trusts transport plus issuer pinning.
func parseCRL(data []byte) (*crlList, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("parse crl: no PEM block found")
		}
		data = block.Bytes
	}

	top, _, err := asn1.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse crl: %w", err)
	}
	if err := top.Expect(asn1.TagSequence); err != nil {
		return nil, fmt.Errorf("parse crl: %w", err)
	}
	members, err := asn1.Children(top)
	if err != nil || len(members) < 1 {
		return nil, fmt.Errorf("parse crl: malformed CertificateList")
	}

	tbs, err := asn1.Children(members[0])
	if err != nil {
		return nil, fmt.Errorf("parse crl: malformed TBSCertList")
	}

	list := &crlList{}
	idx := 0

	// Optional version.
	if idx < len(tbs) && tbs[idx].Class == asn1.ClassUniversal && tbs[idx].Tag == asn1.TagInteger {
		idx++
	}
	// signature AlgorithmIdentifier, then issuer Name.
	idx += 2
	if idx >= len(tbs) {
		return nil, fmt.Errorf("parse crl: TBSCertList too short")
	}

	if t, err := asn1.ParseTime(tbs[idx].Bytes, tbs[idx].Tag); err == nil {
		list.ThisUpdate = t
		idx++
	} else {
		return nil, fmt.Errorf("parse crl: bad thisUpdate: %w", err)
	}

	if idx < len(tbs) && isTimeTag(tbs[idx].Tag) {
		if t, err := asn1.ParseTime(tbs[idx].Bytes, tbs[idx].Tag); err == nil {
			list.NextUpdate = t
		}
		idx++
	}

	if idx < len(tbs) && tbs[idx].Class == asn1.ClassUniversal && tbs[idx].Tag == asn1.TagSequence {
		entries, err := asn1.Children(tbs[idx])
		if err != nil {
			return nil, fmt.Errorf("parse crl: malformed revokedCertificates: %w", err)
		}
		for _, raw := range entries {
			entry, err := parseCRLEntry(raw)
			if err != nil {
				return nil, err
			}
			list.Revoked = append(list.Revoked, entry)
		}
	}

	return list, nil
}

func parseCRLEntry(raw *asn1.RawValue) (crlEntry, error) {
	fields, err := asn1.Children(raw)
	if err != nil || len(fields) < 2 {
		return crlEntry{}, fmt.Errorf("parse crl: malformed revoked entry")
	}

	serial, err := asn1.ParseInteger(fields[0].Bytes)
	if err != nil {
		return crlEntry{}, fmt.Errorf("parse crl: bad entry serial: %w", err)
	}
	revokedAt, err := asn1.ParseTime(fields[1].Bytes, fields[1].Tag)
	if err != nil {
		return crlEntry{}, fmt.Errorf("parse crl: bad revocation date: %w", err)
	}

	entry := crlEntry{SerialNumber: serial, RevokedAt: revokedAt}
	if len(fields) >= 3 {
		entry.Reason = crlEntryReason(fields[2])
	}
	return entry, nil
}

// crlEntryReason extracts the reasonCode extension from an entry's
// extension list, when present.
func crlEntryReason(extList *asn1.RawValue) string {
	exts, err := asn1.Children(extList)
	if err != nil {
		return ""
	}
	for _, ext := range exts {
		fields, err := asn1.Children(ext)
		if err != nil || len(fields) < 2 {
			continue
		}
		oid, err := asn1.ParseOID(fields[0].Bytes)
		if err != nil || !oid.Equal(asn1.OIDCRLReasonCode) {
			continue
		}
		// Value is an OCTET STRING wrapping an ENUMERATED.
		value := fields[len(fields)-1]
		inner, _, err := asn1.Decode(value.Bytes)
		if err != nil || inner.Tag != asn1.TagEnumerated {
			continue
		}
		code, err := asn1.ParseInteger(inner.Bytes)
		if err != nil {
			continue
		}
		if name, ok := crlReasonNames[int(code.Int64())]; ok {
			return name
		}
	}
	return ""
}

func isTimeTag(tag int) bool {
	return tag == asn1.TagUTCTime || tag == asn1.TagGeneralizedTime
}
