package awssign

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const chunkAlgorithm = "AWS4-HMAC-SHA256-PAYLOAD"

// emptyStringSHA256 is the hex SHA-256 of the empty string, the fixed
// middle term of every chunk's string-to-sign.
const emptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// StreamSigner chains signatures across upload chunks. Each chunk's
// signature incorporates the previous one, starting from the seed
// signature of the initiating request.
type StreamSigner struct {
	key     []byte
	scope   string
	amzDate string
	prevSig string
}

// SignStreamingRequest signs the initiating request of a chunked upload
// with the streaming payload sentinel and returns a StreamSigner seeded
// with the request signature. Content-Encoding and the decoded content
// length header must already be set by the caller.
func (s *Signer) SignStreamingRequest(creds Credentials, req *http.Request, service, region string, signingTime time.Time) (*StreamSigner, error) {
	if signingTime.IsZero() {
		signingTime = s.now()
	}
	signingTime = signingTime.UTC()

	if err := s.SignHTTP(creds, req, StreamingPayload, service, region, signingTime); err != nil {
		return nil, err
	}

	seed, err := extractSignature(req.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	dateStr := signingTime.Format(amzDateShort)
	return &StreamSigner{
		key:     s.signingKey(creds.SecretAccessKey, dateStr, region, service),
		scope:   strings.Join([]string{dateStr, region, service, scopeTerminator}, "/"),
		amzDate: signingTime.Format(amzDateFormat),
		prevSig: seed,
	}, nil
}

// SignChunk computes the signature for the next chunk and advances the
// rolling state. The final zero-length chunk is signed the same way
// with empty data.
func (ss *StreamSigner) SignChunk(data []byte) string {
	chunkHash := sha256.Sum256(data)
	stringToSign := strings.Join([]string{
		chunkAlgorithm,
		ss.amzDate,
		ss.scope,
		ss.prevSig,
		emptyStringSHA256,
		hex.EncodeToString(chunkHash[:]),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(ss.key, stringToSign))
	ss.prevSig = signature
	return signature
}

// FrameChunk wraps chunk data in the wire framing: hex length,
// chunk-signature extension, CRLF-delimited body.
func (ss *StreamSigner) FrameChunk(data []byte) []byte {
	signature := ss.SignChunk(data)
	header := strconv.FormatInt(int64(len(data)), 16) +
		";chunk-signature=" + signature + "\r\n"

	framed := make([]byte, 0, len(header)+len(data)+2)
	framed = append(framed, header...)
	framed = append(framed, data...)
	framed = append(framed, '\r', '\n')
	return framed
}

// extractSignature pulls the Signature field out of a v4 Authorization
// header.
func extractSignature(authorization string) (string, error) {
	const marker = "Signature="
	idx := strings.LastIndex(authorization, marker)
	if idx < 0 {
		return "", fmt.Errorf("awssign: no signature in authorization header")
	}
	return authorization[idx+len(marker):], nil
}
