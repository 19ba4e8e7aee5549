package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apitestkit/authcore/audit"
	"github.com/apitestkit/authcore/awssign"
	"github.com/apitestkit/authcore/cert"
	"github.com/apitestkit/authcore/internal/ratelimit"
)

// DefaultSweepInterval is how often expired cache and session entries
// are swept when the dispatcher is started.
const DefaultSweepInterval = time.Minute

// Dispatcher routes authentication requests to scheme strategies. It
// owns the token cache, the NTLM session store, rate limiting, policy
// enforcement, and auditing. Delegate schemes hand off to the
// certificate and signing engines.
type Dispatcher struct {
	logger  *zap.Logger
	metrics *Metrics

	tokens   *TokenCache
	sessions *SessionStore
	limiter  ratelimit.Limiter
	policies *PolicyEngine
	certs    *cert.Engine
	signer   *awssign.Engine
	trail    *audit.Trail

	clock func() time.Time

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepWG       sync.WaitGroup
	startOnce     sync.Once
	stopOnce      sync.Once
}

// DispatcherOption is a functional option for the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics collector.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTokenCache replaces the default token cache.
func WithTokenCache(cache *TokenCache) DispatcherOption {
	return func(d *Dispatcher) {
		if cache != nil {
			d.tokens = cache
		}
	}
}

// WithSessionStore replaces the default session store.
func WithSessionStore(store *SessionStore) DispatcherOption {
	return func(d *Dispatcher) {
		if store != nil {
			d.sessions = store
		}
	}
}

// WithRateLimiter sets the per-scheme rate limiter. The default is a
// no-op limiter.
func WithRateLimiter(limiter ratelimit.Limiter) DispatcherOption {
	return func(d *Dispatcher) {
		if limiter != nil {
			d.limiter = limiter
		}
	}
}

// WithPolicyEngine sets the security policy engine.
func WithPolicyEngine(policies *PolicyEngine) DispatcherOption {
	return func(d *Dispatcher) {
		d.policies = policies
	}
}

// WithCertificateEngine sets the delegate for the certificate scheme.
func WithCertificateEngine(engine *cert.Engine) DispatcherOption {
	return func(d *Dispatcher) {
		d.certs = engine
	}
}

// WithSigningEngine sets the delegate for the cloud signing scheme.
func WithSigningEngine(engine *awssign.Engine) DispatcherOption {
	return func(d *Dispatcher) {
		d.signer = engine
	}
}

// WithAuditTrail sets the audit trail.
func WithAuditTrail(trail *audit.Trail) DispatcherOption {
	return func(d *Dispatcher) {
		d.trail = trail
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithSweepInterval overrides the background sweep interval.
func WithSweepInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:        zap.NewNop(),
		limiter:       ratelimit.NewNoopLimiter(),
		clock:         time.Now,
		sweepInterval: DefaultSweepInterval,
		stopSweep:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tokens == nil {
		d.tokens = NewTokenCache(DefaultRefreshBuffer, d.logger)
	}
	if d.sessions == nil {
		d.sessions = NewSessionStore(DefaultSessionMaxAge, d.logger)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics("authcore")
	}
	return d
}

// TokenCache exposes the dispatcher's token cache.
func (d *Dispatcher) TokenCache() *TokenCache { return d.tokens }

// Sessions exposes the dispatcher's session store.
func (d *Dispatcher) Sessions() *SessionStore { return d.sessions }

// Apply authenticates the request according to the configuration. The
// request is mutated in place and the applied material is returned.
func (d *Dispatcher) Apply(ctx context.Context, req *http.Request, cfg *Config) (*Result, error) {
	start := d.now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme := cfg.Scheme()

	if err := d.checkRateLimit(ctx, req, scheme); err != nil {
		return nil, err
	}
	if err := d.enforcePolicies(req, scheme); err != nil {
		return nil, err
	}

	result, err := d.dispatch(ctx, req, cfg, scheme)

	elapsed := d.now().Sub(start)
	d.metrics.RecordAttempt(scheme, err == nil, elapsed)
	d.recordAudit(audit.ActionApplyAuth, scheme, req, err, elapsed)

	if err != nil {
		d.logger.Warn("authentication failed",
			zap.String("scheme", string(scheme)),
			zap.String("host", req.URL.Host),
			zap.Error(err))
		return nil, err
	}

	d.logger.Debug("authentication applied",
		zap.String("scheme", string(scheme)),
		zap.String("host", req.URL.Host))
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *http.Request, cfg *Config, scheme Scheme) (*Result, error) {
	switch scheme {
	case SchemeBasic:
		return d.applyBasic(req, cfg.Basic)
	case SchemeBearer:
		return d.applyBearer(req, cfg.Bearer)
	case SchemeAPIKey:
		return d.applyAPIKey(req, cfg.APIKey)
	case SchemeOAuth2:
		return d.applyOAuth2(ctx, req, cfg.OAuth2)
	case SchemeCertificate:
		return d.applyCertificate(ctx, req, cfg.Certificate)
	case SchemeNTLM:
		return d.applyNTLM(req, cfg.NTLM)
	case SchemeAWS:
		return d.applyAWS(ctx, req, cfg.AWS)
	case SchemeDigest:
		headers, err := d.applyDigest(req, cfg.Digest, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Success: true, Scheme: SchemeDigest, Headers: headers}, nil
	case SchemeHawk:
		headers, err := d.applyHawk(req, cfg.Hawk)
		if err != nil {
			return nil, err
		}
		return &Result{Success: true, Scheme: SchemeHawk, Headers: headers}, nil
	case SchemeJWT:
		return d.applyJWT(ctx, req, cfg.JWT)
	case SchemeCustom:
		return d.applyCustom(ctx, req, cfg.Custom)
	default:
		return nil, newAuthError(CodeUnsupportedScheme, scheme,
			fmt.Sprintf("unsupported scheme %q", scheme))
	}
}

// ForceRefresh discards any cached material for the configuration and
// re-authenticates. Schemes without refreshable material return a
// refresh error.
func (d *Dispatcher) ForceRefresh(ctx context.Context, req *http.Request, cfg *Config) (*Result, error) {
	start := d.now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme := cfg.Scheme()

	var result *Result
	var err error
	switch scheme {
	case SchemeOAuth2:
		if cfg.OAuth2.CacheKey != "" {
			d.tokens.Delete(cfg.OAuth2.CacheKey)
		}
		result, err = d.applyOAuth2(ctx, req, cfg.OAuth2)
	case SchemeJWT:
		if cfg.JWT.Token != "" {
			err = newAuthError(CodeRefreshNotSupported, scheme,
				"supplied tokens cannot be refreshed locally")
			break
		}
		if cfg.JWT.CacheKey != "" {
			d.tokens.Delete(cfg.JWT.CacheKey)
		}
		result, err = d.applyJWT(ctx, req, cfg.JWT)
	case SchemeCustom:
		refresher, ok := cfg.Custom.Handler.(RefreshHandler)
		if !ok {
			err = newAuthError(CodeRefreshNotSupported, scheme,
				"handler does not support refresh")
			break
		}
		var headers map[string]string
		headers, err = refresher.Refresh(ctx, req)
		if err != nil {
			err = wrapAuthError(CodeDelegateFailed, scheme, "refresh", err)
			break
		}
		applyHeaders(req, headers)
		result = &Result{Success: true, Scheme: scheme, Headers: headers}
	default:
		err = newAuthError(CodeRefreshNotSupported, scheme,
			fmt.Sprintf("scheme %q does not support refresh", scheme))
	}

	d.recordAudit(audit.ActionTokenRefresh, scheme, req, err, d.now().Sub(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleChallengeResponse answers a server authentication challenge,
// continuing a handshake for stateful schemes.
func (d *Dispatcher) HandleChallengeResponse(ctx context.Context, req *http.Request, cfg *Config, rawChallenge string) (*Result, error) {
	start := d.now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme := cfg.Scheme()

	challenge, err := ParseChallenge(rawChallenge)
	if err != nil {
		return nil, wrapAuthError(CodeMalformedChallenge, scheme, "parse challenge", err)
	}

	var result *Result
	switch scheme {
	case SchemeDigest:
		var headers map[string]string
		headers, err = d.applyDigest(req, cfg.Digest, challenge)
		if err == nil {
			result = &Result{Success: true, Scheme: SchemeDigest, Headers: headers}
		}
	case SchemeNTLM:
		result, err = d.handleNTLMChallenge(req, cfg.NTLM, challenge)
	case SchemeCustom:
		handler, ok := cfg.Custom.Handler.(ChallengeHandler)
		if !ok {
			err = newAuthError(CodeUnsupportedScheme, scheme,
				"handler does not support challenges")
			break
		}
		var headers map[string]string
		headers, err = handler.HandleChallenge(ctx, req, challenge)
		if err != nil {
			err = wrapAuthError(CodeDelegateFailed, scheme, "handle challenge", err)
			break
		}
		applyHeaders(req, headers)
		result = &Result{Success: true, Scheme: scheme, Headers: headers}
	default:
		err = newAuthError(CodeUnsupportedScheme, scheme,
			fmt.Sprintf("scheme %q does not answer challenges", scheme))
	}

	d.recordAudit(audit.ActionChallenge, scheme, req, err, d.now().Sub(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TerminateSession ends an NTLM handshake session.
func (d *Dispatcher) TerminateSession(sessionID string) {
	d.sessions.Terminate(sessionID)
	if d.trail != nil {
		event := audit.NewEvent(audit.EventTypeAuthentication, audit.ActionSessionEnd, audit.OutcomeSuccess)
		event.Scheme = string(SchemeNTLM)
		d.trail.Record(event)
	}
}

func (d *Dispatcher) checkRateLimit(ctx context.Context, req *http.Request, scheme Scheme) error {
	result, err := d.limiter.Allow(ctx, string(scheme))
	if err != nil {
		// Limiter failures deny the attempt rather than bypass the
		// quota.
		d.metrics.RecordRateLimited(scheme)
		return wrapAuthError(CodeRateLimitExceeded, scheme, "rate limiter unavailable", err)
	}
	if !result.Allowed {
		d.metrics.RecordRateLimited(scheme)
		d.recordAudit(audit.ActionRateLimitExceeded, scheme, req, ErrAuthenticationFailed, 0)
		return newAuthError(CodeRateLimitExceeded, scheme,
			fmt.Sprintf("rate limit exceeded, retry after %s", result.RetryAfter))
	}
	return nil
}

func (d *Dispatcher) enforcePolicies(req *http.Request, scheme Scheme) error {
	if d.policies == nil {
		return nil
	}
	if err := d.policies.Enforce(req, scheme); err != nil {
		d.metrics.RecordPolicyViolation(scheme)
		d.recordAudit(audit.ActionPolicyViolation, scheme, req, err, 0)
		return err
	}
	return nil
}

func (d *Dispatcher) recordAudit(action audit.Action, scheme Scheme, req *http.Request, err error, elapsed time.Duration) {
	if d.trail == nil {
		return
	}

	outcome := audit.OutcomeSuccess
	switch {
	case err == nil:
	case ErrorCode(err) == CodePolicyViolation || ErrorCode(err) == CodeRateLimitExceeded:
		outcome = audit.OutcomeDenied
	default:
		outcome = audit.OutcomeFailure
	}

	event := audit.NewEvent(audit.EventTypeAuthentication, action, outcome)
	event.Scheme = string(scheme)
	event.Target = req.URL.Host
	event.Duration = elapsed
	if err != nil {
		event.Error = err.Error()
	}
	d.trail.Record(event)
}

// Start launches the background sweep loop for expired tokens,
// sessions, and rate limit windows. Safe to call once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.sweepWG.Add(1)
		go d.sweepLoop()
	})
}

// Close stops the background sweep loop. Safe to call without Start.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopSweep)
	})
	d.sweepWG.Wait()
}

func (d *Dispatcher) sweepLoop() {
	defer d.sweepWG.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tokens := d.tokens.Sweep()
			sessions := d.sessions.Sweep()
			if cleaner, ok := d.limiter.(interface{ Cleanup() }); ok {
				cleaner.Cleanup()
			}
			if tokens > 0 || sessions > 0 {
				d.logger.Debug("sweep completed",
					zap.Int("tokens_evicted", tokens),
					zap.Int("sessions_evicted", sessions))
			}
		case <-d.stopSweep:
			return
		}
	}
}
