package awssign

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Subresources included in the legacy object-storage canonical resource.
var s3Subresources = map[string]bool{
	"acl": true, "cors": true, "delete": true, "lifecycle": true,
	"location": true, "logging": true, "notification": true,
	"policy": true, "requestPayment": true, "tagging": true,
	"torrent": true, "uploadId": true, "uploads": true,
	"versionId": true, "versioning": true, "versions": true,
	"website": true,
}

// SignV2 applies the legacy query-style v2 signature: an HMAC-SHA256
// over method, host, path, and the sorted query string, appended as a
// Signature parameter.
func (s *Signer) SignV2(creds Credentials, req *http.Request, signingTime time.Time) error {
	if !creds.HasKeys() {
		return newSignatureError("sign-v2", "credentials missing key material", ErrNoCredentials)
	}
	if signingTime.IsZero() {
		signingTime = s.now()
	}

	query := req.URL.Query()
	query.Set("AWSAccessKeyId", creds.AccessKeyID)
	query.Set("SignatureVersion", "2")
	query.Set("SignatureMethod", "HmacSHA256")
	query.Set("Timestamp", signingTime.UTC().Format(time.RFC3339))
	if creds.SessionToken != "" {
		query.Set("SecurityToken", creds.SessionToken)
	}

	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	stringToSign := strings.Join([]string{
		req.Method,
		strings.ToLower(hostOf(req.URL)),
		path,
		canonicalQueryString(query),
	}, "\n")

	signature := base64.StdEncoding.EncodeToString(
		hmacSHA256([]byte(creds.SecretAccessKey), stringToSign))

	query.Set("Signature", signature)
	req.URL.RawQuery = query.Encode()

	if s.metrics != nil {
		s.metrics.RecordSign("v2", true)
	}
	return nil
}

// SignS3Legacy applies the object-storage v2 header signature:
// HMAC-SHA1 over method, content headers, date, canonicalized x-amz
// headers, and the canonical resource, formatted as "AWS key:sig".
func (s *Signer) SignS3Legacy(creds Credentials, req *http.Request, bucket string, signingTime time.Time) error {
	if !creds.HasKeys() {
		return newSignatureError("sign-s3", "credentials missing key material", ErrNoCredentials)
	}
	if signingTime.IsZero() {
		signingTime = s.now()
	}

	date := req.Header.Get("Date")
	if date == "" {
		date = signingTime.UTC().Format(http.TimeFormat)
		req.Header.Set("Date", date)
	}
	if creds.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	stringToSign := strings.Join([]string{
		req.Method,
		req.Header.Get("Content-MD5"),
		req.Header.Get("Content-Type"),
		date,
		canonicalAmzHeaders(req.Header) + canonicalS3Resource(req.URL, bucket),
	}, "\n")

	mac := hmac.New(sha1.New, []byte(creds.SecretAccessKey))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", "AWS "+creds.AccessKeyID+":"+signature)

	if s.metrics != nil {
		s.metrics.RecordSign("s3-legacy", true)
	}
	return nil
}

// canonicalAmzHeaders serializes x-amz-* headers: lower-case names,
// sorted, values joined by comma, one "name:value\n" line each.
func canonicalAmzHeaders(header http.Header) string {
	var names []string
	for name := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		values := header.Values(http.CanonicalHeaderKey(name))
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(values, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// canonicalS3Resource builds "/bucket/key" plus any signed subresources
// in sorted order.
func canonicalS3Resource(u *url.URL, bucket string) string {
	resource := u.Path
	if resource == "" {
		resource = "/"
	}
	if bucket != "" && !strings.HasPrefix(resource, "/"+bucket) {
		resource = "/" + bucket + resource
	}

	var subs []string
	for key, vals := range u.Query() {
		if !s3Subresources[key] {
			continue
		}
		if len(vals) > 0 && vals[0] != "" {
			subs = append(subs, key+"="+vals[0])
		} else {
			subs = append(subs, key)
		}
	}
	if len(subs) > 0 {
		sort.Strings(subs)
		resource += "?" + strings.Join(subs, "&")
	}
	return resource
}
