package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// digestParams carries everything the digest computation needs. Kept
// separate from DigestConfig so the computation is a pure function of
// its inputs.
type digestParams struct {
	username  string
	password  string
	realm     string
	nonce     string
	uri       string
	method    string
	algorithm string // MD5 or MD5-sess
	qop       string // empty, auth, or auth-int
	cnonce    string
	nc        string
	opaque    string
	bodyHash  string // hex MD5 of the body, for auth-int
}

// digestResponse computes the response hash per the RFC 7616 pattern.
// Without qop the RFC 2069 form is used.
func digestResponse(p digestParams) string {
	ha1 := md5Hex(p.username + ":" + p.realm + ":" + p.password)
	if strings.EqualFold(p.algorithm, "MD5-sess") {
		ha1 = md5Hex(ha1 + ":" + p.nonce + ":" + p.cnonce)
	}

	ha2 := md5Hex(p.method + ":" + p.uri)
	if p.qop == "auth-int" {
		ha2 = md5Hex(p.method + ":" + p.uri + ":" + p.bodyHash)
	}

	if p.qop == "" {
		return md5Hex(ha1 + ":" + p.nonce + ":" + ha2)
	}
	return md5Hex(strings.Join([]string{ha1, p.nonce, p.nc, p.cnonce, p.qop, ha2}, ":"))
}

// buildDigestHeader formats the Authorization value from the computed
// response.
func buildDigestHeader(p digestParams, response string) string {
	var b strings.Builder
	b.WriteString("Digest ")
	writeDigestParam(&b, "username", p.username, true)
	b.WriteString(", ")
	writeDigestParam(&b, "realm", p.realm, true)
	b.WriteString(", ")
	writeDigestParam(&b, "nonce", p.nonce, true)
	b.WriteString(", ")
	writeDigestParam(&b, "uri", p.uri, true)
	b.WriteString(", ")
	writeDigestParam(&b, "response", response, true)
	if p.algorithm != "" {
		b.WriteString(", ")
		writeDigestParam(&b, "algorithm", p.algorithm, false)
	}
	if p.qop != "" {
		b.WriteString(", ")
		writeDigestParam(&b, "qop", p.qop, false)
		b.WriteString(", ")
		writeDigestParam(&b, "nc", p.nc, false)
		b.WriteString(", ")
		writeDigestParam(&b, "cnonce", p.cnonce, true)
	}
	if p.opaque != "" {
		b.WriteString(", ")
		writeDigestParam(&b, "opaque", p.opaque, true)
	}
	return b.String()
}

func writeDigestParam(b *strings.Builder, key, value string, quoted bool) {
	b.WriteString(key)
	b.WriteByte('=')
	if quoted {
		b.WriteByte('"')
		b.WriteString(value)
		b.WriteByte('"')
	} else {
		b.WriteString(value)
	}
}

// applyDigest builds the Authorization header from the server
// challenge. The challenge must have been supplied, either on the
// config or through HandleChallengeResponse.
func (d *Dispatcher) applyDigest(req *http.Request, cfg *DigestConfig, challenge *Challenge) (map[string]string, error) {
	if challenge == nil {
		if cfg.Challenge == "" {
			return nil, newAuthError(CodeMissingChallenge, SchemeDigest,
				"digest auth requires the server challenge")
		}
		parsed, err := ParseChallenge(cfg.Challenge)
		if err != nil {
			return nil, err
		}
		challenge = parsed
	}
	if !strings.EqualFold(challenge.Scheme, "Digest") || challenge.Params == nil {
		return nil, newAuthError(CodeMalformedChallenge, SchemeDigest,
			fmt.Sprintf("expected a Digest challenge, got %q", challenge.Scheme))
	}

	params := digestParams{
		username:  cfg.Username,
		password:  cfg.Password,
		realm:     challenge.Params["realm"],
		nonce:     challenge.Params["nonce"],
		opaque:    challenge.Params["opaque"],
		algorithm: challenge.Params["algorithm"],
		method:    req.Method,
		uri:       cfg.URI,
	}
	if params.nonce == "" {
		return nil, newAuthError(CodeMalformedChallenge, SchemeDigest, "challenge carries no nonce")
	}
	if params.uri == "" {
		params.uri = req.URL.RequestURI()
	}

	params.qop = selectQop(challenge.Params["qop"])
	if params.qop != "" {
		params.cnonce = newCnonce()
		params.nc = "00000001"
	}
	if params.qop == "auth-int" {
		body, err := requestBody(req)
		if err != nil {
			return nil, wrapAuthError(CodeInvalidConfig, SchemeDigest, "read request body", err)
		}
		params.bodyHash = md5Hex(string(body))
	}

	response := digestResponse(params)
	return map[string]string{
		"Authorization": buildDigestHeader(params, response),
	}, nil
}

// selectQop picks a quality-of-protection value from the server's
// offered list, preferring auth.
func selectQop(offered string) string {
	if offered == "" {
		return ""
	}
	var hasAuthInt bool
	for _, qop := range strings.Split(offered, ",") {
		switch strings.TrimSpace(qop) {
		case "auth":
			return "auth"
		case "auth-int":
			hasAuthInt = true
		}
	}
	if hasAuthInt {
		return "auth-int"
	}
	return ""
}

// newCnonce generates a fresh client nonce.
func newCnonce() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// requestBody reads a replayable copy of the request body.
func requestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
