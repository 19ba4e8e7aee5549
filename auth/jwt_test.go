package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJWTHS256(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	cfg := &JWTConfig{
		Secret: "s3cret",
		TTL:    30 * time.Minute,
		Claims: map[string]interface{}{
			"sub": "tester",
			"aud": "api",
		},
	}

	signed, expiry, err := generateJWT(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), expiry)

	parsed, err := jwt.Parse([]byte(signed),
		jwt.WithKey(jwa.HS256, []byte("s3cret")),
		jwt.WithValidate(true))
	require.NoError(t, err)

	sub, ok := parsed.Get("sub")
	require.True(t, ok)
	assert.Equal(t, "tester", sub)
	assert.Equal(t, now.Add(30*time.Minute).Unix(), parsed.Expiration().Unix())
}

func TestGenerateJWTRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	cfg := &JWTConfig{
		PrivateKeyPEM: keyPEM,
		Claims:        map[string]interface{}{"sub": "tester"},
	}
	signed, _, err := generateJWT(cfg, time.Now())
	require.NoError(t, err)

	parsed, err := jwt.Parse([]byte(signed),
		jwt.WithKey(jwa.RS256, key.Public()),
		jwt.WithValidate(true))
	require.NoError(t, err)

	sub, ok := parsed.Get("sub")
	require.True(t, ok)
	assert.Equal(t, "tester", sub)
}

func TestGenerateJWTDefaultTTL(t *testing.T) {
	now := time.Now()
	_, expiry, err := generateJWT(&JWTConfig{Secret: "s"}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiry)
}

func TestGenerateJWTUnsupportedAlgorithm(t *testing.T) {
	_, _, err := generateJWT(&JWTConfig{Secret: "s", Algorithm: "ES256"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported algorithm")
}

func TestGenerateJWTHS256WithoutSecret(t *testing.T) {
	_, _, err := generateJWT(&JWTConfig{Algorithm: "HS256"}, time.Now())
	require.Error(t, err)
}

func TestParseRSAPrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := parseRSAPrivateKey(keyPEM)
	require.NoError(t, err)
	assert.Equal(t, key.N, parsed.N)
}

func TestParseRSAPrivateKeyErrors(t *testing.T) {
	_, err := parseRSAPrivateKey([]byte("not pem"))
	assert.Error(t, err)

	_, err = parseRSAPrivateKey(pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: []byte("garbage"),
	}))
	assert.Error(t, err)
}

func TestApplyJWTSuppliedToken(t *testing.T) {
	d := NewDispatcher()
	req, err := http.NewRequest(http.MethodGet, "https://api.example/", nil)
	require.NoError(t, err)

	result, err := d.applyJWT(req.Context(), req, &JWTConfig{Token: "supplied.jwt.token"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer supplied.jwt.token", req.Header.Get("Authorization"))
	assert.Equal(t, SchemeJWT, result.Scheme)
}

func TestApplyJWTCachesGeneratedToken(t *testing.T) {
	d := NewDispatcher()
	cfg := &JWTConfig{Secret: "s3cret", CacheKey: "svc", TTL: time.Hour}

	req1, err := http.NewRequest(http.MethodGet, "https://api.example/", nil)
	require.NoError(t, err)
	result1, err := d.applyJWT(req1.Context(), req1, cfg)
	require.NoError(t, err)

	req2, err := http.NewRequest(http.MethodGet, "https://api.example/", nil)
	require.NoError(t, err)
	result2, err := d.applyJWT(req2.Context(), req2, cfg)
	require.NoError(t, err)

	// The second call serves the cached token.
	assert.Equal(t, result1.Headers["Authorization"], result2.Headers["Authorization"])
	assert.True(t, strings.HasPrefix(result2.Headers["Authorization"], "Bearer "))
	assert.Equal(t, 1, d.TokenCache().Len())
}
