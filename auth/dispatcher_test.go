package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitestkit/authcore/audit"
	"github.com/apitestkit/authcore/internal/ratelimit"
)

type refreshableHandler struct {
	staticHandler
	refreshed map[string]string
}

func (h *refreshableHandler) Refresh(_ context.Context, _ *http.Request) (map[string]string, error) {
	return h.refreshed, nil
}

type challengeAwareHandler struct {
	staticHandler
	challenge *Challenge
}

func (h *challengeAwareHandler) HandleChallenge(_ context.Context, _ *http.Request, c *Challenge) (map[string]string, error) {
	h.challenge = c
	return map[string]string{"X-Challenge-Answer": "ok"}, nil
}

func testRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api.example/v1/users", nil)
	require.NoError(t, err)
	return req
}

func newTestDispatcher(opts ...DispatcherOption) *Dispatcher {
	base := []DispatcherOption{
		WithMetrics(NewMetricsWithRegisterer("authcore", prometheus.NewRegistry())),
	}
	return NewDispatcher(append(base, opts...)...)
}

func TestApplyBasic(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	result, err := d.Apply(req.Context(), req, &Config{
		Basic: &BasicConfig{Username: "user", Password: "pass"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, SchemeBasic, result.Scheme)
	// base64("user:pass")
	assert.Equal(t, "Basic dXNlcjpwYXNz", req.Header.Get("Authorization"))
}

func TestApplyBearer(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	expiry := time.Now().Add(time.Hour)
	result, err := d.Apply(req.Context(), req, &Config{
		Bearer: &BearerConfig{Token: "tok-123", ExpiresAt: expiry, CacheKey: "svc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	assert.Equal(t, expiry, result.ExpiresAt)

	entry, ok := d.TokenCache().Get("svc")
	require.True(t, ok)
	assert.Equal(t, "tok-123", entry.Token)
}

func TestApplyAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		config *APIKeyConfig
		check  func(t *testing.T, req *http.Request)
	}{
		{
			name:   "header default",
			config: &APIKeyConfig{Key: "k1", Name: "X-Api-Key"},
			check: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k1", req.Header.Get("X-Api-Key"))
			},
		},
		{
			name:   "header with prefix",
			config: &APIKeyConfig{Key: "k1", Name: "Authorization", Prefix: "Api-Key "},
			check: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "Api-Key k1", req.Header.Get("Authorization"))
			},
		},
		{
			name:   "query",
			config: &APIKeyConfig{Key: "k1", Name: "api_key", Location: LocationQuery},
			check: func(t *testing.T, req *http.Request) {
				assert.Equal(t, "k1", req.URL.Query().Get("api_key"))
			},
		},
		{
			name:   "cookie",
			config: &APIKeyConfig{Key: "k1", Name: "session", Location: LocationCookie},
			check: func(t *testing.T, req *http.Request) {
				cookie, err := req.Cookie("session")
				require.NoError(t, err)
				assert.Equal(t, "k1", cookie.Value)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher()
			req := testRequest(t)

			_, err := d.Apply(req.Context(), req, &Config{APIKey: tt.config})
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}

func TestApplyOAuth2(t *testing.T) {
	provider := &staticProvider{token: &Token{
		AccessToken: "access-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	d := newTestDispatcher()
	cfg := &Config{OAuth2: &OAuth2Config{Provider: provider, CacheKey: "oauth"}}

	req1 := testRequest(t)
	_, err := d.Apply(req1.Context(), req1, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-1", req1.Header.Get("Authorization"))
	assert.Equal(t, 1, provider.calls)

	// Cached token, the provider is not consulted again.
	req2 := testRequest(t)
	_, err = d.Apply(req2.Context(), req2, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-1", req2.Header.Get("Authorization"))
	assert.Equal(t, 1, provider.calls)
}

func TestApplyOAuth2ProviderFailure(t *testing.T) {
	provider := &staticProvider{err: errors.New("issuer unreachable")}
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.Apply(req.Context(), req, &Config{OAuth2: &OAuth2Config{Provider: provider}})
	require.Error(t, err)
	assert.Equal(t, CodeDelegateFailed, ErrorCode(err))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestApplyOAuth2TokenType(t *testing.T) {
	provider := &staticProvider{token: &Token{AccessToken: "m", TokenType: "MAC"}}
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.Apply(req.Context(), req, &Config{OAuth2: &OAuth2Config{Provider: provider}})
	require.NoError(t, err)
	assert.Equal(t, "MAC m", req.Header.Get("Authorization"))
}

func TestApplyCustom(t *testing.T) {
	handler := &staticHandler{headers: map[string]string{"X-Signature": "sig"}}
	d := newTestDispatcher()
	req := testRequest(t)

	result, err := d.Apply(req.Context(), req, &Config{Custom: &CustomConfig{Handler: handler}})
	require.NoError(t, err)
	assert.Equal(t, "sig", req.Header.Get("X-Signature"))
	assert.Equal(t, SchemeCustom, result.Scheme)
}

func TestApplyInvalidConfig(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.Apply(req.Context(), req, &Config{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidConfig, ErrorCode(err))
}

func TestApplyRateLimit(t *testing.T) {
	d := newTestDispatcher(
		WithRateLimiter(ratelimit.NewFixedWindowLimiter(2, time.Minute, nil)))
	cfg := &Config{Basic: &BasicConfig{Username: "u", Password: "p"}}

	for i := 0; i < 2; i++ {
		req := testRequest(t)
		_, err := d.Apply(req.Context(), req, cfg)
		require.NoError(t, err)
	}

	req := testRequest(t)
	_, err := d.Apply(req.Context(), req, cfg)
	require.Error(t, err)
	assert.Equal(t, CodeRateLimitExceeded, ErrorCode(err))
	assert.Contains(t, err.Error(), "retry after")

	// Quotas are tracked per scheme.
	other := testRequest(t)
	_, err = d.Apply(other.Context(), other, &Config{Bearer: &BearerConfig{Token: "t"}})
	assert.NoError(t, err)
}

func TestApplyPolicyViolation(t *testing.T) {
	policies, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "tls-only", Enabled: true, RequireHTTPS: true},
	}, nil)
	require.NoError(t, err)

	trail := audit.NewTrail(audit.WithCapacity(8))
	d := newTestDispatcher(WithPolicyEngine(policies), WithAuditTrail(trail))

	req, err := http.NewRequest(http.MethodGet, "http://api.example/", nil)
	require.NoError(t, err)

	_, err = d.Apply(req.Context(), req, &Config{Basic: &BasicConfig{Username: "u", Password: "p"}})
	require.Error(t, err)
	assert.Equal(t, CodePolicyViolation, ErrorCode(err))

	events := trail.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.ActionPolicyViolation, events[0].Action)
	assert.Equal(t, audit.OutcomeDenied, events[0].Outcome)
}

func TestApplyAudit(t *testing.T) {
	trail := audit.NewTrail(audit.WithCapacity(8))
	d := newTestDispatcher(WithAuditTrail(trail))
	req := testRequest(t)

	_, err := d.Apply(req.Context(), req, &Config{Basic: &BasicConfig{Username: "u", Password: "p"}})
	require.NoError(t, err)

	events := trail.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthentication, events[0].Type)
	assert.Equal(t, audit.ActionApplyAuth, events[0].Action)
	assert.Equal(t, audit.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, string(SchemeBasic), events[0].Scheme)
	assert.Equal(t, "api.example", events[0].Target)
}

func TestForceRefreshOAuth2(t *testing.T) {
	provider := &staticProvider{token: &Token{
		AccessToken: "access-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	d := newTestDispatcher()
	cfg := &Config{OAuth2: &OAuth2Config{Provider: provider, CacheKey: "oauth"}}

	req1 := testRequest(t)
	_, err := d.Apply(req1.Context(), req1, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)

	provider.token = &Token{AccessToken: "access-2", ExpiresAt: time.Now().Add(time.Hour)}
	req2 := testRequest(t)
	_, err = d.ForceRefresh(req2.Context(), req2, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, "Bearer access-2", req2.Header.Get("Authorization"))
}

func TestForceRefreshJWT(t *testing.T) {
	d := newTestDispatcher()
	cfg := &Config{JWT: &JWTConfig{Secret: "s3cret", CacheKey: "svc"}}

	req1 := testRequest(t)
	_, err := d.Apply(req1.Context(), req1, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, d.TokenCache().Len())

	req2 := testRequest(t)
	result, err := d.ForceRefresh(req2.Context(), req2, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Headers["Authorization"])
	assert.Equal(t, 1, d.TokenCache().Len())
}

func TestForceRefreshSuppliedJWT(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.ForceRefresh(req.Context(), req, &Config{JWT: &JWTConfig{Token: "supplied"}})
	require.Error(t, err)
	assert.Equal(t, CodeRefreshNotSupported, ErrorCode(err))
}

func TestForceRefreshCustomHandler(t *testing.T) {
	handler := &refreshableHandler{refreshed: map[string]string{"X-Token": "fresh"}}
	d := newTestDispatcher()
	req := testRequest(t)

	result, err := d.ForceRefresh(req.Context(), req, &Config{Custom: &CustomConfig{Handler: handler}})
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.Headers["X-Token"])
	assert.Equal(t, "fresh", req.Header.Get("X-Token"))
}

func TestForceRefreshUnsupported(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.ForceRefresh(req.Context(), req, &Config{
		Basic: &BasicConfig{Username: "u", Password: "p"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeRefreshNotSupported, ErrorCode(err))

	handler := &staticHandler{headers: map[string]string{}}
	_, err = d.ForceRefresh(req.Context(), req, &Config{Custom: &CustomConfig{Handler: handler}})
	require.Error(t, err)
	assert.Equal(t, CodeRefreshNotSupported, ErrorCode(err))
}

func TestHandleChallengeResponseDigest(t *testing.T) {
	d := newTestDispatcher()
	req, err := http.NewRequest(http.MethodGet, "https://host.example/dir/index.html", nil)
	require.NoError(t, err)

	result, err := d.HandleChallengeResponse(req.Context(), req, &Config{
		Digest: &DigestConfig{Username: "Mufasa", Password: "Circle Of Life"},
	}, `Digest realm="testrealm@host.com", qop="auth", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093"`)
	require.NoError(t, err)

	assert.Equal(t, SchemeDigest, result.Scheme)
	assert.Contains(t, req.Header.Get("Authorization"), `username="Mufasa"`)
}

func TestHandleChallengeResponseCustom(t *testing.T) {
	handler := &challengeAwareHandler{}
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.HandleChallengeResponse(req.Context(), req, &Config{
		Custom: &CustomConfig{Handler: handler},
	}, `Custom token="abc"`)
	require.NoError(t, err)

	require.NotNil(t, handler.challenge)
	assert.Equal(t, "Custom", handler.challenge.Scheme)
	assert.Equal(t, "ok", req.Header.Get("X-Challenge-Answer"))
}

func TestHandleChallengeResponseUnsupported(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.HandleChallengeResponse(req.Context(), req, &Config{
		Basic: &BasicConfig{Username: "u", Password: "p"},
	}, `Basic realm="r"`)
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedScheme, ErrorCode(err))
}

func TestHandleChallengeResponseMalformed(t *testing.T) {
	d := newTestDispatcher()
	req := testRequest(t)

	_, err := d.HandleChallengeResponse(req.Context(), req, &Config{
		Digest: &DigestConfig{Username: "u", Password: "p"},
	}, "")
	require.Error(t, err)
	assert.Equal(t, CodeMalformedChallenge, ErrorCode(err))
}

func TestTerminateSession(t *testing.T) {
	trail := audit.NewTrail(audit.WithCapacity(8))
	d := newTestDispatcher(WithAuditTrail(trail))

	session := d.Sessions().Create()
	d.TerminateSession(session.ID)

	_, ok := d.Sessions().Get(session.ID)
	assert.False(t, ok)

	events := trail.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSessionEnd, events[0].Action)
}

func TestDispatcherStartClose(t *testing.T) {
	d := newTestDispatcher(WithSweepInterval(10 * time.Millisecond))
	d.TokenCache().Put("stale", TokenEntry{Token: "t", ExpiresAt: time.Now().Add(time.Millisecond)})

	d.Start()
	require.Eventually(t, func() bool {
		return d.TokenCache().Len() == 0
	}, time.Second, 10*time.Millisecond)
	d.Close()
}

func TestDispatcherCloseWithoutStart(t *testing.T) {
	d := newTestDispatcher()
	d.Close()
}

func TestMetricsAverageLatency(t *testing.T) {
	m := NewMetricsWithRegisterer("authcore", prometheus.NewRegistry())

	m.RecordAttempt(SchemeBasic, true, 10*time.Millisecond)
	m.RecordAttempt(SchemeBasic, true, 30*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, m.AverageLatency())

	m.ResetLatency()
	assert.Equal(t, time.Duration(0), m.AverageLatency())
}
