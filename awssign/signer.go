package awssign

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apitestkit/authcore/internal/cache"
)

// Signature algorithm constants.
const (
	algorithmV4     = "AWS4-HMAC-SHA256"
	scopeTerminator = "aws4_request"
	amzDateFormat   = "20060102T150405Z"
	amzDateShort    = "20060102"

	// UnsignedPayload is the payload-hash sentinel for unsigned bodies.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// StreamingPayload is the payload-hash sentinel for chunked uploads.
	StreamingPayload = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"
)

// signingKeyTTL bounds derived-key reuse. Keys embed the date, so a
// generous TTL is safe; the date rolling over changes the cache key.
const signingKeyTTL = 12 * time.Hour

// Headers never included in the signed set.
var ignoredHeaders = map[string]bool{
	"authorization":  true,
	"content-length": true,
	"user-agent":     true,
}

// Signer computes v4 request signatures.
type Signer struct {
	logger   *zap.Logger
	metrics  *Metrics
	keyCache cache.Cache
	now      func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerLogger sets the structured logger.
func WithSignerLogger(logger *zap.Logger) SignerOption {
	return func(s *Signer) {
		s.logger = logger
	}
}

// WithSignerMetrics sets the metrics collector.
func WithSignerMetrics(m *Metrics) SignerOption {
	return func(s *Signer) {
		s.metrics = m
	}
}

// WithSigningKeyCache sets the cache holding derived signing keys.
func WithSigningKeyCache(c cache.Cache) SignerOption {
	return func(s *Signer) {
		s.keyCache = c
	}
}

// NewSigner creates a v4 signer.
func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keyCache == nil {
		s.keyCache = cache.NewMemory(cache.MemoryOptions{
			MaxEntries: 256,
			DefaultTTL: signingKeyTTL,
			Logger:     s.logger,
		})
	}
	return s
}

// SignHTTP signs req in place, setting X-Amz-Date, X-Amz-Content-Sha256,
// the session token header when present, and Authorization. payloadHash
// is the hex SHA-256 of the body, or one of the payload sentinels.
func (s *Signer) SignHTTP(creds Credentials, req *http.Request, payloadHash, service, region string, signingTime time.Time) error {
	if !creds.HasKeys() {
		return newSignatureError("sign", "credentials missing key material", ErrNoCredentials)
	}
	if region == "" {
		return newSignatureError("sign", "no region configured or inferred", ErrMissingRegion)
	}
	if service == "" {
		return newSignatureError("sign", "no service configured or inferred", ErrMissingService)
	}
	if signingTime.IsZero() {
		signingTime = s.now()
	}
	signingTime = signingTime.UTC()

	amzDate := signingTime.Format(amzDateFormat)
	dateStr := signingTime.Format(amzDateShort)

	if payloadHash == "" {
		payloadHash = UnsignedPayload
	}

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if creds.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	signedHeaders := signedHeaderNames(req)
	canonicalRequest := buildCanonicalRequest(req, signedHeaders, payloadHash)

	scope := strings.Join([]string{dateStr, region, service, scopeTerminator}, "/")
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)

	key := s.signingKey(creds.SecretAccessKey, dateStr, region, service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithmV4,
		creds.AccessKeyID, scope,
		strings.Join(signedHeaders, ";"),
		signature,
	))

	if s.metrics != nil {
		s.metrics.RecordSign("v4", true)
	}
	s.logger.Debug("request signed",
		zap.String("service", service),
		zap.String("region", region),
		zap.String("signed_headers", strings.Join(signedHeaders, ";")))

	return nil
}

// Presign produces a presigned URL valid for ttl. The signature and its
// inputs travel as query parameters; only the host header is signed.
func (s *Signer) Presign(creds Credentials, method, rawURL, service, region string, ttl time.Duration, signingTime time.Time) (string, error) {
	if !creds.HasKeys() {
		return "", newSignatureError("presign", "credentials missing key material", ErrNoCredentials)
	}
	if region == "" {
		return "", newSignatureError("presign", "no region configured or inferred", ErrMissingRegion)
	}
	if service == "" {
		return "", newSignatureError("presign", "no service configured or inferred", ErrMissingService)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", newSignatureError("presign", "invalid url", err)
	}
	if signingTime.IsZero() {
		signingTime = s.now()
	}
	signingTime = signingTime.UTC()

	amzDate := signingTime.Format(amzDateFormat)
	dateStr := signingTime.Format(amzDateShort)
	scope := strings.Join([]string{dateStr, region, service, scopeTerminator}, "/")

	query := parsed.Query()
	query.Set("X-Amz-Algorithm", algorithmV4)
	query.Set("X-Amz-Credential", creds.AccessKeyID+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")
	if creds.SessionToken != "" {
		query.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI(parsed.EscapedPath()),
		canonicalQueryString(query),
		"host:" + hostOf(parsed) + "\n",
		"host",
		UnsignedPayload,
	}, "\n")

	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
	key := s.signingKey(creds.SecretAccessKey, dateStr, region, service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	// The signature is appended last.
	parsed.RawQuery = canonicalQueryString(query) + "&X-Amz-Signature=" + signature

	if s.metrics != nil {
		s.metrics.RecordSign("presign", true)
	}
	return parsed.String(), nil
}

// signingKey derives (or recalls) the chained HMAC signing key. The
// cache key carries a digest of the secret, never the secret itself.
func (s *Signer) signingKey(secret, dateStr, region, service string) []byte {
	secretDigest := sha256.Sum256([]byte(secret))
	cacheKey := fmt.Sprintf("sigkey:%s:%s:%s:%s",
		hex.EncodeToString(secretDigest[:8]), dateStr, region, service)

	ctx := context.Background()
	if key, err := s.keyCache.Get(ctx, cacheKey); err == nil {
		return key
	}

	key := deriveSigningKey(secret, dateStr, region, service)
	_ = s.keyCache.Set(ctx, cacheKey, key, signingKeyTTL)
	return key
}

// deriveSigningKey chains the four v4 HMAC derivation steps.
func deriveSigningKey(secret, dateStr, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStr)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, scopeTerminator)
}

// buildCanonicalRequest serializes the request into the v4 canonical form.
func buildCanonicalRequest(req *http.Request, signedHeaders []string, payloadHash string) string {
	return strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.EscapedPath()),
		canonicalQueryString(req.URL.Query()),
		canonicalHeaders(req, signedHeaders),
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")
}

// buildStringToSign embeds the hashed canonical request in the signing
// envelope.
func buildStringToSign(amzDate, scope, canonicalRequest string) string {
	digest := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		algorithmV4,
		amzDate,
		scope,
		hex.EncodeToString(digest[:]),
	}, "\n")
}

// signedHeaderNames collects the sorted lower-case names of headers
// included in the signature: host plus everything not on the ignore
// list.
func signedHeaderNames(req *http.Request) []string {
	names := []string{"host"}
	for name := range req.Header {
		lower := strings.ToLower(name)
		if ignoredHeaders[lower] {
			continue
		}
		names = append(names, lower)
	}
	sort.Strings(names)
	return names
}

// canonicalHeaders serializes the signed headers: lower-case names,
// values with interior whitespace collapsed, one per line.
func canonicalHeaders(req *http.Request, signedHeaders []string) string {
	var b strings.Builder
	for _, name := range signedHeaders {
		b.WriteString(name)
		b.WriteByte(':')
		if name == "host" {
			b.WriteString(hostOf(req.URL))
		} else {
			values := req.Header.Values(http.CanonicalHeaderKey(name))
			for i, v := range values {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(collapseSpaces(strings.TrimSpace(v)))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// canonicalURI normalizes the request path: each segment percent-encoded
// with slashes preserved, empty path as "/".
func canonicalURI(escapedPath string) string {
	if escapedPath == "" {
		return "/"
	}
	decoded, err := url.PathUnescape(escapedPath)
	if err != nil {
		decoded = escapedPath
	}
	return uriEncode(decoded, false)
}

// canonicalQueryString sorts parameters by key then value, both
// percent-encoded.
func canonicalQueryString(values url.Values) string {
	type pair struct{ key, value string }
	var pairs []pair
	for key, vals := range values {
		for _, v := range vals {
			pairs = append(pairs, pair{uriEncode(key, true), uriEncode(v, true)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// uriEncode percent-encodes per the v4 rules: unreserved characters
// pass through, everything else becomes %XX, slashes conditionally.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// collapseSpaces reduces runs of interior whitespace to one space.
func collapseSpaces(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// hostOf returns the host component used for signing, dropping default
// ports.
func hostOf(u *url.URL) string {
	host := u.Host
	switch {
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	}
	return host
}

// hmacSHA256 computes one HMAC-SHA256 step.
func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// HashPayload returns the hex SHA-256 of a request body.
func HashPayload(body []byte) string {
	digest := sha256.Sum256(body)
	return hex.EncodeToString(digest[:])
}
