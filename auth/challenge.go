package auth

import (
	"strings"
)

// Challenge is a parsed server challenge from a WWW-Authenticate or
// Proxy-Authenticate header.
type Challenge struct {
	// Scheme is the challenge scheme token (Digest, NTLM, ...).
	Scheme string

	// Raw is the challenge value after the scheme token.
	Raw string

	// Params holds the parsed key/value pairs for parameterized
	// challenges; nil for opaque payloads such as NTLM.
	Params map[string]string
}

// ParseChallenge parses the literal value of a challenge header.
func ParseChallenge(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, newAuthError(CodeMalformedChallenge, "", "empty challenge")
	}

	scheme := header
	rest := ""
	if idx := strings.IndexAny(header, " \t"); idx >= 0 {
		scheme = header[:idx]
		rest = strings.TrimSpace(header[idx+1:])
	}

	challenge := &Challenge{Scheme: scheme, Raw: rest}
	if strings.Contains(rest, "=") && !isOpaquePayload(rest) {
		challenge.Params = parseChallengeParams(rest)
	}
	return challenge, nil
}

// isOpaquePayload reports whether the challenge body is a single
// base64 blob rather than key/value parameters. NTLM Type2 payloads
// end in padding or carry no commas and no quoted values.
func isOpaquePayload(rest string) bool {
	if strings.ContainsAny(rest, " \t,\"") {
		return false
	}
	// A lone token with '=' only as trailing padding.
	trimmed := strings.TrimRight(rest, "=")
	return !strings.Contains(trimmed, "=")
}

// parseChallengeParams parses comma-separated k=v pairs with optional
// quoting, as used by Digest challenges.
func parseChallengeParams(rest string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitChallengeParams(rest) {
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		value := strings.TrimSpace(part[idx+1:])
		value = strings.Trim(value, `"`)
		params[key] = value
	}
	return params
}

// splitChallengeParams splits on commas outside quoted strings.
func splitChallengeParams(rest string) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '"':
			quoted = !quoted
			b.WriteByte(c)
		case c == ',' && !quoted:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
