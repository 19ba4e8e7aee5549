package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// ntlmSignature prefixes every NTLM message.
var ntlmSignature = []byte("NTLMSSP\x00")

// NTLM message types.
const (
	ntlmTypeNegotiate    = 1
	ntlmTypeChallenge    = 2
	ntlmTypeAuthenticate = 3
)

// Negotiate flags used by the Type1/Type3 messages.
const (
	ntlmFlagUnicode        = 0x00000001
	ntlmFlagOEM            = 0x00000002
	ntlmFlagRequestTarget  = 0x00000004
	ntlmFlagNTLM           = 0x00000200
	ntlmFlagDomainSupplied = 0x00001000
	ntlmFlagWSSupplied     = 0x00002000
)

// ntlmChallenge is a parsed Type2 message.
type ntlmChallenge struct {
	// TargetName is the server's target name, when supplied.
	TargetName string

	// Flags are the server's negotiate flags.
	Flags uint32

	// ServerChallenge is the 8-byte challenge.
	ServerChallenge []byte

	// TargetInfo is the raw target-info block, when present.
	TargetInfo []byte
}

// securityBuffer writes an NTLM length/maxlength/offset field triple.
func securityBuffer(header []byte, at int, length, offset int) {
	binary.LittleEndian.PutUint16(header[at:], uint16(length))
	binary.LittleEndian.PutUint16(header[at+2:], uint16(length))
	binary.LittleEndian.PutUint32(header[at+4:], uint32(offset))
}

// buildNTLMType1 assembles the negotiate message: a fixed 32-byte
// header followed by the optional domain and workstation strings.
func buildNTLMType1(domain, workstation string) []byte {
	domainBytes := []byte(strings.ToUpper(domain))
	wsBytes := []byte(strings.ToUpper(workstation))

	flags := uint32(ntlmFlagUnicode | ntlmFlagOEM | ntlmFlagRequestTarget | ntlmFlagNTLM)
	if domain != "" {
		flags |= ntlmFlagDomainSupplied
	}
	if workstation != "" {
		flags |= ntlmFlagWSSupplied
	}

	const headerLen = 32
	header := make([]byte, headerLen)
	copy(header, ntlmSignature)
	binary.LittleEndian.PutUint32(header[8:], ntlmTypeNegotiate)
	binary.LittleEndian.PutUint32(header[12:], flags)

	domainOffset := headerLen
	wsOffset := domainOffset + len(domainBytes)
	securityBuffer(header, 16, len(domainBytes), domainOffset)
	securityBuffer(header, 24, len(wsBytes), wsOffset)

	msg := make([]byte, 0, wsOffset+len(wsBytes))
	msg = append(msg, header...)
	msg = append(msg, domainBytes...)
	msg = append(msg, wsBytes...)
	return msg
}

// parseNTLMType2 decodes the server challenge message.
func parseNTLMType2(data []byte) (*ntlmChallenge, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("type2 message too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], ntlmSignature) {
		return nil, fmt.Errorf("bad message signature")
	}
	if msgType := binary.LittleEndian.Uint32(data[8:12]); msgType != ntlmTypeChallenge {
		return nil, fmt.Errorf("expected type 2 message, got type %d", msgType)
	}

	challenge := &ntlmChallenge{
		Flags:           binary.LittleEndian.Uint32(data[20:24]),
		ServerChallenge: append([]byte(nil), data[24:32]...),
	}

	nameLen := int(binary.LittleEndian.Uint16(data[12:14]))
	nameOffset := int(binary.LittleEndian.Uint32(data[16:20]))
	if nameLen > 0 && nameOffset+nameLen <= len(data) {
		raw := data[nameOffset : nameOffset+nameLen]
		if challenge.Flags&ntlmFlagUnicode != 0 {
			challenge.TargetName = fromUTF16LE(raw)
		} else {
			challenge.TargetName = string(raw)
		}
	}

	if len(data) >= 48 {
		infoLen := int(binary.LittleEndian.Uint16(data[40:42]))
		infoOffset := int(binary.LittleEndian.Uint32(data[44:48]))
		if infoLen > 0 && infoOffset+infoLen <= len(data) {
			challenge.TargetInfo = append([]byte(nil), data[infoOffset:infoOffset+infoLen]...)
		}
	}
	return challenge, nil
}

// buildNTLMType2 assembles a challenge message. Only used by tests to
// exercise the round trip.
func buildNTLMType2(targetName string, flags uint32, serverChallenge []byte) []byte {
	nameBytes := []byte(targetName)
	if flags&ntlmFlagUnicode != 0 {
		nameBytes = toUTF16LE(targetName)
	}

	const headerLen = 48
	header := make([]byte, headerLen)
	copy(header, ntlmSignature)
	binary.LittleEndian.PutUint32(header[8:], ntlmTypeChallenge)
	securityBuffer(header, 12, len(nameBytes), headerLen)
	binary.LittleEndian.PutUint32(header[20:], flags)
	copy(header[24:32], serverChallenge)

	return append(header, nameBytes...)
}

// buildNTLMType3 assembles the authenticate message: a fixed 64-byte
// header, the unicode domain/user/workstation strings, then the LM and
// NTLM responses.
func buildNTLMType3(cfg *NTLMConfig, serverChallenge []byte, flags uint32) []byte {
	domainBytes := toUTF16LE(strings.ToUpper(cfg.Domain))
	userBytes := toUTF16LE(cfg.Username)
	wsBytes := toUTF16LE(strings.ToUpper(cfg.Workstation))
	lm, nt := ntlmResponses(cfg.Password, serverChallenge)

	const headerLen = 64
	header := make([]byte, headerLen)
	copy(header, ntlmSignature)
	binary.LittleEndian.PutUint32(header[8:], ntlmTypeAuthenticate)

	domainOffset := headerLen
	userOffset := domainOffset + len(domainBytes)
	wsOffset := userOffset + len(userBytes)
	lmOffset := wsOffset + len(wsBytes)
	ntOffset := lmOffset + len(lm)

	securityBuffer(header, 12, len(lm), lmOffset)
	securityBuffer(header, 20, len(nt), ntOffset)
	securityBuffer(header, 28, len(domainBytes), domainOffset)
	securityBuffer(header, 36, len(userBytes), userOffset)
	securityBuffer(header, 44, len(wsBytes), wsOffset)
	securityBuffer(header, 52, 0, ntOffset+len(nt))
	binary.LittleEndian.PutUint32(header[60:], flags|ntlmFlagUnicode|ntlmFlagNTLM)

	msg := make([]byte, 0, ntOffset+len(nt))
	msg = append(msg, header...)
	msg = append(msg, domainBytes...)
	msg = append(msg, userBytes...)
	msg = append(msg, wsBytes...)
	msg = append(msg, lm...)
	msg = append(msg, nt...)
	return msg
}

// ntlmResponses derives the LM and NTLM response fields from the
// server challenge using an HMAC-MD5 construction. This is NOT the
// DES-based algorithm from the protocol specification and real NTLM
// servers will reject it; it is kept for behavioral parity with the
// toolkit's existing consumers. A standards-correct derivation can be
// swapped in behind this function.
func ntlmResponses(password string, serverChallenge []byte) (lm, nt []byte) {
	ntKey := md5.Sum(toUTF16LE(password))
	ntMac := hmac.New(md5.New, ntKey[:])
	ntMac.Write(serverChallenge)
	nt = ntMac.Sum(make([]byte, 0, 24))
	nt = append(nt, make([]byte, 8)...)

	lmKey := md5.Sum([]byte(strings.ToUpper(password)))
	lmMac := hmac.New(md5.New, lmKey[:])
	lmMac.Write(serverChallenge)
	lm = lmMac.Sum(make([]byte, 0, 24))
	lm = append(lm, make([]byte, 8)...)
	return lm, nt
}

// applyNTLM runs one phase of the NTLM handshake. A config without a
// session id starts a new handshake with a Type1 message; an
// authenticated session replays its negotiated header.
func (d *Dispatcher) applyNTLM(req *http.Request, cfg *NTLMConfig) (*Result, error) {
	if cfg.SessionID != "" {
		session, ok := d.sessions.Get(cfg.SessionID)
		if !ok {
			return nil, newAuthError(CodeSessionNotFound, SchemeNTLM,
				fmt.Sprintf("session %q not found or expired", cfg.SessionID))
		}
		switch session.State {
		case StateAuthenticated:
			headers := map[string]string{"Authorization": session.AuthorizationHeader}
			applyHeaders(req, headers)
			return &Result{
				Success:   true,
				Scheme:    SchemeNTLM,
				Headers:   headers,
				SessionID: session.ID,
			}, nil
		default:
			return nil, newAuthError(CodeMissingChallenge, SchemeNTLM,
				"handshake pending: feed the server challenge through HandleChallengeResponse")
		}
	}

	session := d.sessions.Create()
	type1 := buildNTLMType1(cfg.Domain, cfg.Workstation)
	headers := map[string]string{
		"Authorization": "NTLM " + base64.StdEncoding.EncodeToString(type1),
	}
	applyHeaders(req, headers)
	return &Result{
		Success:   true,
		Scheme:    SchemeNTLM,
		Headers:   headers,
		SessionID: session.ID,
	}, nil
}

// handleNTLMChallenge consumes the server's Type2 challenge and
// produces the Type3 authenticate header, completing the handshake.
func (d *Dispatcher) handleNTLMChallenge(req *http.Request, cfg *NTLMConfig, challenge *Challenge) (*Result, error) {
	if cfg.SessionID == "" {
		return nil, newAuthError(CodeSessionNotFound, SchemeNTLM, "challenge requires a session id")
	}
	session, ok := d.sessions.Get(cfg.SessionID)
	if !ok {
		return nil, newAuthError(CodeSessionNotFound, SchemeNTLM,
			fmt.Sprintf("session %q not found or expired", cfg.SessionID))
	}

	raw, err := base64.StdEncoding.DecodeString(challenge.Raw)
	if err != nil {
		return nil, wrapAuthError(CodeMalformedChallenge, SchemeNTLM, "decode type2 message", err)
	}
	type2, err := parseNTLMType2(raw)
	if err != nil {
		return nil, wrapAuthError(CodeMalformedChallenge, SchemeNTLM, "parse type2 message", err)
	}

	session.State = StateType2Received
	session.ServerChallenge = type2.ServerChallenge
	session.Flags = type2.Flags

	type3 := buildNTLMType3(cfg, type2.ServerChallenge, type2.Flags)
	header := "NTLM " + base64.StdEncoding.EncodeToString(type3)
	session.State = StateAuthenticated
	session.AuthorizationHeader = header

	headers := map[string]string{"Authorization": header}
	applyHeaders(req, headers)
	return &Result{
		Success:   true,
		Scheme:    SchemeNTLM,
		Headers:   headers,
		SessionID: session.ID,
	}, nil
}

var utf16LEEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func toUTF16LE(s string) []byte {
	encoded, err := utf16LEEncoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return encoded
}

func fromUTF16LE(raw []byte) string {
	decoded, err := utf16LEEncoding.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}
