package auth

import (
	"context"
	"net/http"

	"github.com/apitestkit/authcore/cert"
)

// awsSignedHeaders are copied from the signed request into the result.
var awsSignedHeaders = []string{
	"Authorization",
	"X-Amz-Date",
	"X-Amz-Content-Sha256",
	"X-Amz-Security-Token",
	"Date",
}

// applyCertificate delegates to the certificate engine. The loaded pair
// is surfaced as a client TLS configuration on the result.
func (d *Dispatcher) applyCertificate(ctx context.Context, req *http.Request, cfg *CertificateConfig) (*Result, error) {
	if d.certs == nil {
		return nil, newAuthError(CodeDelegateFailed, SchemeCertificate, "no certificate engine configured")
	}

	info, err := d.certs.Load(ctx, cert.LoadInput{
		Path:       cfg.Path,
		Content:    cfg.Content,
		KeyPath:    cfg.KeyPath,
		Passphrase: cfg.Passphrase,
		CAPath:     cfg.CAPath,
	})
	if err != nil {
		return nil, wrapAuthError(CodeDelegateFailed, SchemeCertificate, "load certificate", err)
	}

	if cfg.Validate {
		result, err := d.certs.Validate(ctx, info, cert.ValidateOptions{
			AllowSelfSigned: true,
			CAChain:         info.CAChain,
		})
		if err != nil {
			return nil, wrapAuthError(CodeDelegateFailed, SchemeCertificate, "validate certificate", err)
		}
		if !result.Valid {
			return nil, newAuthError(CodeDelegateFailed, SchemeCertificate,
				"certificate validation failed: "+joinFindings(result.Errors))
		}
	}

	tlsConfig, err := d.certs.ClientTLSConfig(info)
	if err != nil {
		return nil, wrapAuthError(CodeDelegateFailed, SchemeCertificate, "build tls config", err)
	}

	return &Result{
		Success: true,
		Scheme:  SchemeCertificate,
		Headers: map[string]string{},
		TLS:     tlsConfig,
	}, nil
}

func joinFindings(findings []string) string {
	switch len(findings) {
	case 0:
		return "unknown"
	case 1:
		return findings[0]
	default:
		out := findings[0]
		for _, f := range findings[1:] {
			out += "; " + f
		}
		return out
	}
}

// applyAWS delegates to the cloud signing engine and surfaces the
// signed headers on the result.
func (d *Dispatcher) applyAWS(ctx context.Context, req *http.Request, cfg *AWSConfig) (*Result, error) {
	if d.signer == nil {
		return nil, newAuthError(CodeDelegateFailed, SchemeAWS, "no signing engine configured")
	}

	if err := d.signer.SignRequest(ctx, req, cfg.Config); err != nil {
		return nil, wrapAuthError(CodeDelegateFailed, SchemeAWS, "sign request", err)
	}

	headers := make(map[string]string)
	for _, name := range awsSignedHeaders {
		if value := req.Header.Get(name); value != "" {
			headers[name] = value
		}
	}
	return &Result{Success: true, Scheme: SchemeAWS, Headers: headers}, nil
}

// applyOAuth2 serves a cached token when fresh, otherwise delegates to
// the configured provider.
func (d *Dispatcher) applyOAuth2(ctx context.Context, req *http.Request, cfg *OAuth2Config) (*Result, error) {
	if cfg.CacheKey != "" {
		if entry, ok := d.tokens.Get(cfg.CacheKey); ok {
			d.metrics.RecordCacheHit()
			headers := map[string]string{"Authorization": "Bearer " + entry.Token}
			applyHeaders(req, headers)
			return &Result{
				Success:   true,
				Scheme:    SchemeOAuth2,
				Headers:   headers,
				ExpiresAt: entry.ExpiresAt,
			}, nil
		}
		d.metrics.RecordCacheMiss()
	}

	token, err := cfg.Provider.Token(ctx, cfg)
	if err != nil {
		return nil, wrapAuthError(CodeDelegateFailed, SchemeOAuth2, "obtain token", err)
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	if cfg.CacheKey != "" {
		d.tokens.Put(cfg.CacheKey, TokenEntry{
			Token:        token.AccessToken,
			ExpiresAt:    token.ExpiresAt,
			RefreshToken: token.RefreshToken,
			Scope:        token.Scope,
		})
	}

	headers := map[string]string{"Authorization": tokenType + " " + token.AccessToken}
	applyHeaders(req, headers)
	return &Result{
		Success:   true,
		Scheme:    SchemeOAuth2,
		Headers:   headers,
		ExpiresAt: token.ExpiresAt,
	}, nil
}
