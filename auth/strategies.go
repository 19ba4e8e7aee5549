package auth

import (
	"context"
	"encoding/base64"
	"net/http"
)

// applyHeaders sets each header on the request, replacing existing
// values.
func applyHeaders(req *http.Request, headers map[string]string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
}

func (d *Dispatcher) applyBasic(req *http.Request, cfg *BasicConfig) (*Result, error) {
	credential := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	headers := map[string]string{"Authorization": "Basic " + credential}
	applyHeaders(req, headers)
	return &Result{Success: true, Scheme: SchemeBasic, Headers: headers}, nil
}

func (d *Dispatcher) applyBearer(req *http.Request, cfg *BearerConfig) (*Result, error) {
	if cfg.CacheKey != "" {
		d.tokens.Put(cfg.CacheKey, TokenEntry{
			Token:        cfg.Token,
			ExpiresAt:    cfg.ExpiresAt,
			RefreshToken: cfg.RefreshToken,
		})
	}
	headers := map[string]string{"Authorization": "Bearer " + cfg.Token}
	applyHeaders(req, headers)
	return &Result{
		Success:   true,
		Scheme:    SchemeBearer,
		Headers:   headers,
		ExpiresAt: cfg.ExpiresAt,
	}, nil
}

func (d *Dispatcher) applyAPIKey(req *http.Request, cfg *APIKeyConfig) (*Result, error) {
	value := cfg.Prefix + cfg.Key
	headers := map[string]string{}

	location := cfg.Location
	if location == "" {
		location = LocationHeader
	}
	switch location {
	case LocationHeader:
		headers[cfg.Name] = value
		applyHeaders(req, headers)
	case LocationQuery:
		query := req.URL.Query()
		query.Set(cfg.Name, value)
		req.URL.RawQuery = query.Encode()
	case LocationCookie:
		req.AddCookie(&http.Cookie{Name: cfg.Name, Value: value})
	default:
		return nil, newAuthError(CodeInvalidConfig, SchemeAPIKey, "invalid api key location")
	}

	return &Result{Success: true, Scheme: SchemeAPIKey, Headers: headers}, nil
}

func (d *Dispatcher) applyCustom(ctx context.Context, req *http.Request, cfg *CustomConfig) (*Result, error) {
	headers, err := cfg.Handler.Authenticate(ctx, req)
	if err != nil {
		return nil, wrapAuthError(CodeDelegateFailed, SchemeCustom, "custom handler", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	applyHeaders(req, headers)
	return &Result{Success: true, Scheme: SchemeCustom, Headers: headers}, nil
}
