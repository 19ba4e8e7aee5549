package auth

import (
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNTLMType1(t *testing.T) {
	msg := buildNTLMType1("corp", "devbox")

	require.GreaterOrEqual(t, len(msg), 32)
	assert.Equal(t, ntlmSignature, msg[:8])
	assert.Equal(t, uint32(ntlmTypeNegotiate), binary.LittleEndian.Uint32(msg[8:12]))

	flags := binary.LittleEndian.Uint32(msg[12:16])
	assert.NotZero(t, flags&ntlmFlagUnicode)
	assert.NotZero(t, flags&ntlmFlagNTLM)
	assert.NotZero(t, flags&ntlmFlagDomainSupplied)
	assert.NotZero(t, flags&ntlmFlagWSSupplied)

	// Domain and workstation are uppercased ASCII after the header.
	assert.Equal(t, "CORPDEVBOX", string(msg[32:]))
}

func TestBuildNTLMType1NoDomain(t *testing.T) {
	msg := buildNTLMType1("", "")

	assert.Len(t, msg, 32)
	flags := binary.LittleEndian.Uint32(msg[12:16])
	assert.Zero(t, flags&ntlmFlagDomainSupplied)
	assert.Zero(t, flags&ntlmFlagWSSupplied)
}

func TestNTLMType2RoundTrip(t *testing.T) {
	serverChallenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	msg := buildNTLMType2("DOMAIN", ntlmFlagUnicode|ntlmFlagNTLM, serverChallenge)

	parsed, err := parseNTLMType2(msg)
	require.NoError(t, err)

	assert.Equal(t, "DOMAIN", parsed.TargetName)
	assert.Equal(t, serverChallenge, parsed.ServerChallenge)
	assert.Equal(t, uint32(ntlmFlagUnicode|ntlmFlagNTLM), parsed.Flags)
}

func TestParseNTLMType2Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("NTLMSSP\x00")},
		{"bad signature", make([]byte, 32)},
		{"wrong type", buildNTLMType1("", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseNTLMType2(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestBuildNTLMType3Layout(t *testing.T) {
	cfg := &NTLMConfig{
		Username:    "user",
		Password:    "secret",
		Domain:      "corp",
		Workstation: "devbox",
	}
	serverChallenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	msg := buildNTLMType3(cfg, serverChallenge, ntlmFlagUnicode)

	require.GreaterOrEqual(t, len(msg), 64)
	assert.Equal(t, ntlmSignature, msg[:8])
	assert.Equal(t, uint32(ntlmTypeAuthenticate), binary.LittleEndian.Uint32(msg[8:12]))

	// LM and NTLM responses are 24 bytes each.
	assert.Equal(t, uint16(24), binary.LittleEndian.Uint16(msg[12:14]))
	assert.Equal(t, uint16(24), binary.LittleEndian.Uint16(msg[20:22]))

	// Domain buffer points at the uppercased UTF-16LE domain.
	domainLen := int(binary.LittleEndian.Uint16(msg[28:30]))
	domainOffset := int(binary.LittleEndian.Uint32(msg[32:36]))
	assert.Equal(t, "CORP", fromUTF16LE(msg[domainOffset:domainOffset+domainLen]))

	userLen := int(binary.LittleEndian.Uint16(msg[36:38]))
	userOffset := int(binary.LittleEndian.Uint32(msg[40:44]))
	assert.Equal(t, "user", fromUTF16LE(msg[userOffset:userOffset+userLen]))
}

func TestNTLMResponsesDeterministic(t *testing.T) {
	challenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	lm1, nt1 := ntlmResponses("secret", challenge)
	lm2, nt2 := ntlmResponses("secret", challenge)
	assert.Equal(t, lm1, lm2)
	assert.Equal(t, nt1, nt2)
	assert.Len(t, lm1, 24)
	assert.Len(t, nt1, 24)

	_, ntOther := ntlmResponses("other", challenge)
	assert.NotEqual(t, nt1, ntOther)
}

func TestNTLMHandshake(t *testing.T) {
	d := NewDispatcher()
	cfg := &NTLMConfig{
		Username:    "user",
		Password:    "secret",
		Domain:      "corp",
		Workstation: "devbox",
	}

	// Phase 1: a fresh config opens a session and sends Type1.
	req1, err := http.NewRequest(http.MethodGet, "https://server.corp/api", nil)
	require.NoError(t, err)
	result, err := d.applyNTLM(req1, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionID)
	assert.True(t, strings.HasPrefix(req1.Header.Get("Authorization"), "NTLM "))

	// Phase 2: the server challenge produces the Type3 message.
	cfg.SessionID = result.SessionID
	type2 := buildNTLMType2("CORP", ntlmFlagUnicode|ntlmFlagNTLM, []byte{9, 8, 7, 6, 5, 4, 3, 2})
	challenge := &Challenge{
		Scheme: "NTLM",
		Raw:    base64.StdEncoding.EncodeToString(type2),
	}

	req2, err := http.NewRequest(http.MethodGet, "https://server.corp/api", nil)
	require.NoError(t, err)
	result, err = d.handleNTLMChallenge(req2, cfg, challenge)
	require.NoError(t, err)

	auth := req2.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "NTLM "))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "NTLM "))
	require.NoError(t, err)
	assert.Equal(t, uint32(ntlmTypeAuthenticate), binary.LittleEndian.Uint32(raw[8:12]))

	// Phase 3: the authenticated session replays its header.
	req3, err := http.NewRequest(http.MethodGet, "https://server.corp/api/other", nil)
	require.NoError(t, err)
	result, err = d.applyNTLM(req3, cfg)
	require.NoError(t, err)
	assert.Equal(t, auth, req3.Header.Get("Authorization"))
	assert.Equal(t, cfg.SessionID, result.SessionID)
}

func TestNTLMSessionNotFound(t *testing.T) {
	d := NewDispatcher()
	req, err := http.NewRequest(http.MethodGet, "https://server.corp/", nil)
	require.NoError(t, err)

	_, err = d.applyNTLM(req, &NTLMConfig{Username: "u", Password: "p", SessionID: "missing"})
	require.Error(t, err)
	assert.Equal(t, CodeSessionNotFound, ErrorCode(err))
}

func TestNTLMPendingSessionRejectsApply(t *testing.T) {
	d := NewDispatcher()
	session := d.Sessions().Create()

	req, err := http.NewRequest(http.MethodGet, "https://server.corp/", nil)
	require.NoError(t, err)

	_, err = d.applyNTLM(req, &NTLMConfig{Username: "u", Password: "p", SessionID: session.ID})
	require.Error(t, err)
	assert.Equal(t, CodeMissingChallenge, ErrorCode(err))
}

func TestNTLMChallengeBadPayload(t *testing.T) {
	d := NewDispatcher()
	session := d.Sessions().Create()

	req, err := http.NewRequest(http.MethodGet, "https://server.corp/", nil)
	require.NoError(t, err)

	cfg := &NTLMConfig{Username: "u", Password: "p", SessionID: session.ID}
	_, err = d.handleNTLMChallenge(req, cfg, &Challenge{Scheme: "NTLM", Raw: "not base64!"})
	require.Error(t, err)
	assert.Equal(t, CodeMalformedChallenge, ErrorCode(err))
}

func TestUTF16LERoundTrip(t *testing.T) {
	assert.Equal(t, "CORP", fromUTF16LE(toUTF16LE("CORP")))
	assert.Equal(t, []byte{'a', 0, 'b', 0}, toUTF16LE("ab"))
}
