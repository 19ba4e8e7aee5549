package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference values from the Hawk protocol's published examples.
const (
	hawkTestID  = "dh37fgj492je"
	hawkTestKey = "werxhqb98rpaxn39848xrunpaw3489ruxnpa98w4rxn"
)

func TestHawkMACReferenceVector(t *testing.T) {
	mac := hawkMAC(hawkTestKey, hawkArtifacts{
		timestamp: "1353832234",
		nonce:     "j4h3g2",
		method:    "GET",
		resource:  "/resource/1?b=1&a=2",
		host:      "example.com",
		port:      "8000",
		ext:       "some-app-ext-data",
	})
	assert.Equal(t, "6R4rV5iE+NPoym+WwjeHzjAGXUtLNIxmo1vpMofpLAE=", mac)
}

func TestHawkPayloadHashReferenceVector(t *testing.T) {
	hash := hawkPayloadHash("text/plain", []byte("Thank you for flying Hawk"))
	assert.Equal(t, "Yi9LfIIFRtBEPt74PVmbTF/xVAwPn7ub15ePICfgnuY=", hash)
}

func TestApplyHawk(t *testing.T) {
	fixed := time.Unix(1353832234, 0)
	d := NewDispatcher(WithClock(func() time.Time { return fixed }))

	req, err := http.NewRequest(http.MethodGet, "http://example.com:8000/resource/1?b=1&a=2", nil)
	require.NoError(t, err)

	headers, err := d.applyHawk(req, &HawkConfig{
		ID:  hawkTestID,
		Key: hawkTestKey,
		Ext: "some-app-ext-data",
	})
	require.NoError(t, err)

	auth := headers["Authorization"]
	assert.True(t, strings.HasPrefix(auth, `Hawk id="dh37fgj492je"`))
	assert.Contains(t, auth, `ts="1353832234"`)
	assert.Contains(t, auth, `ext="some-app-ext-data"`)
	assert.Contains(t, auth, `mac="`)
	assert.Equal(t, auth, req.Header.Get("Authorization"))
}

func TestApplyHawkWithPayload(t *testing.T) {
	d := NewDispatcher()

	req, err := http.NewRequest(http.MethodPost,
		"https://example.com/resource/1", strings.NewReader("Thank you for flying Hawk"))
	require.NoError(t, err)

	headers, err := d.applyHawk(req, &HawkConfig{
		ID:          hawkTestID,
		Key:         hawkTestKey,
		HashPayload: true,
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	assert.Contains(t, headers["Authorization"],
		`hash="Yi9LfIIFRtBEPt74PVmbTF/xVAwPn7ub15ePICfgnuY="`)
}

func TestHawkPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/path", "443"},
		{"http://example.com/path", "80"},
		{"http://example.com:8000/path", "8000"},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.url, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, hawkPort(req), tt.url)
	}
}
