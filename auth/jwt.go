package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// defaultJWTTTL bounds generated token lifetime when none is set.
const defaultJWTTTL = time.Hour

// applyJWT applies a supplied token or generates one locally from the
// configured signing material, serving from the token cache first.
func (d *Dispatcher) applyJWT(ctx context.Context, req *http.Request, cfg *JWTConfig) (*Result, error) {
	token := cfg.Token
	var expiresAt time.Time

	if token == "" && cfg.CacheKey != "" {
		if entry, ok := d.tokens.Get(cfg.CacheKey); ok {
			token = entry.Token
			expiresAt = entry.ExpiresAt
			d.metrics.RecordCacheHit()
		} else {
			d.metrics.RecordCacheMiss()
		}
	}

	if token == "" {
		generated, expiry, err := generateJWT(cfg, d.now())
		if err != nil {
			return nil, wrapAuthError(CodeTokenGeneration, SchemeJWT, "generate token", err)
		}
		token = generated
		expiresAt = expiry
		if cfg.CacheKey != "" {
			d.tokens.Put(cfg.CacheKey, TokenEntry{Token: token, ExpiresAt: expiresAt})
		}
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	applyHeaders(req, headers)
	return &Result{
		Success:   true,
		Scheme:    SchemeJWT,
		Headers:   headers,
		ExpiresAt: expiresAt,
	}, nil
}

// generateJWT builds and signs a token from the configured claims.
func generateJWT(cfg *JWTConfig, now time.Time) (string, time.Time, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	expiry := now.Add(ttl)

	builder := jwt.NewBuilder().
		IssuedAt(now).
		Expiration(expiry)
	for name, value := range cfg.Claims {
		builder = builder.Claim(name, value)
	}
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build claims: %w", err)
	}

	alg, key, err := jwtSigningKey(cfg)
	if err != nil {
		return "", time.Time{}, err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(alg, key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return string(signed), expiry, nil
}

// jwtSigningKey resolves the algorithm and key material. The algorithm
// defaults from whichever material is present.
func jwtSigningKey(cfg *JWTConfig) (jwa.SignatureAlgorithm, interface{}, error) {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		if cfg.Secret != "" {
			algorithm = "HS256"
		} else {
			algorithm = "RS256"
		}
	}

	switch algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return "", nil, fmt.Errorf("HS256 requires a secret")
		}
		return jwa.HS256, []byte(cfg.Secret), nil
	case "RS256":
		key, err := parseRSAPrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return "", nil, err
		}
		return jwa.RS256, key, nil
	default:
		return "", nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// parseRSAPrivateKey parses a PEM-encoded RSA private key in PKCS#1 or
// PKCS#8 form.
func parseRSAPrivateKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
