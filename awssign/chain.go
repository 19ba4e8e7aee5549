package awssign

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/apitestkit/authcore/internal/cache"
)

// credentialCacheTTL caps how long resolved credentials are reused when
// they carry no expiry of their own.
const credentialCacheTTL = time.Hour

// Chain tries an ordered list of providers until one yields usable
// credentials. Resolution results are cached; every provider failure is
// collected into the aggregate error when the chain is exhausted.
type Chain struct {
	providers []Provider
	cache     cache.Cache
	cacheKey  string
	logger    *zap.Logger
	metrics   *Metrics
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainCache sets the cache holding resolved credentials.
func WithChainCache(c cache.Cache) ChainOption {
	return func(ch *Chain) {
		ch.cache = c
	}
}

// WithChainLogger sets the structured logger.
func WithChainLogger(logger *zap.Logger) ChainOption {
	return func(ch *Chain) {
		ch.logger = logger
	}
}

// WithChainMetrics sets the metrics collector.
func WithChainMetrics(m *Metrics) ChainOption {
	return func(ch *Chain) {
		ch.metrics = m
	}
}

// NewChain creates a credential chain over the given providers, tried
// in order. cacheKeyParts distinguish unrelated chains sharing a cache
// (profile, role ARN, access key id).
func NewChain(providers []Provider, cacheKeyParts []string, opts ...ChainOption) *Chain {
	ch := &Chain{
		providers: providers,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.cache == nil {
		ch.cache = cache.NewDisabled()
	}

	digest := sha256.New()
	for _, part := range cacheKeyParts {
		digest.Write([]byte(part))
		digest.Write([]byte{0})
	}
	ch.cacheKey = "awscreds:" + hex.EncodeToString(digest.Sum(nil)[:16])

	return ch
}

// DefaultChain builds the standard resolution order: explicit static
// credentials (when supplied), environment, shared credentials file,
// container endpoint, instance metadata, external process.
func DefaultChain(static *StaticProvider, profile, processCommand string, opts ...ChainOption) *Chain {
	var providers []Provider
	keyParts := []string{profile}

	if static != nil && static.Credentials.HasKeys() {
		providers = append(providers, static)
		keyParts = append(keyParts, static.Credentials.AccessKeyID)
	}
	providers = append(providers,
		&EnvProvider{},
		NewSharedFileProvider(WithSharedFileProfile(profile)),
		NewContainerProvider("", nil),
		NewIMDSProvider(),
	)
	if processCommand != "" {
		providers = append(providers, NewProcessProvider(processCommand, nil))
	}

	return NewChain(providers, keyParts, opts...)
}

// Resolve walks the chain, serving from cache first. Each provider
// failure is logged and recorded; the chain only fails once every
// provider has.
func (ch *Chain) Resolve(ctx context.Context) (Credentials, error) {
	if data, err := ch.cache.Get(ctx, ch.cacheKey); err == nil {
		var creds Credentials
		if json.Unmarshal(data, &creds) == nil && creds.HasKeys() && !creds.Expired() {
			if ch.metrics != nil {
				ch.metrics.RecordResolution("cache", true)
			}
			return creds, nil
		}
	}

	failures := make(map[string]error)
	for _, provider := range ch.providers {
		creds, err := provider.Retrieve(ctx)
		if err != nil {
			failures[provider.Name()] = err
			ch.logger.Debug("credential provider failed",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			if ch.metrics != nil {
				ch.metrics.RecordResolution(provider.Name(), false)
			}
			continue
		}
		if creds.Expired() {
			failures[provider.Name()] = ErrCredentialsExpired
			continue
		}

		ch.storeCredentials(ctx, creds)
		if ch.metrics != nil {
			ch.metrics.RecordResolution(provider.Name(), true)
		}
		ch.logger.Debug("credentials resolved",
			zap.String("provider", provider.Name()),
			zap.String("source", creds.Source))
		return creds, nil
	}

	return Credentials{}, &CredentialError{Failures: failures}
}

// Invalidate drops the cached resolution, forcing the next Resolve to
// walk the chain again.
func (ch *Chain) Invalidate(ctx context.Context) {
	_ = ch.cache.Delete(ctx, ch.cacheKey)
}

// storeCredentials caches the resolution until shortly before its
// expiry, capped at the fixed TTL.
func (ch *Chain) storeCredentials(ctx context.Context, creds Credentials) {
	ttl := credentialCacheTTL
	if !creds.Expiry.IsZero() {
		until := time.Until(creds.Expiry) - expiryWindow
		if until <= 0 {
			return
		}
		if until < ttl {
			ttl = until
		}
	}
	if data, err := json.Marshal(creds); err == nil {
		_ = ch.cache.Set(ctx, ch.cacheKey, data, ttl)
	}
}

// AssumeRoleProvider wraps role assumption as a chain member: it
// resolves source credentials from an inner provider and exchanges them
// for role session credentials.
type AssumeRoleProvider struct {
	source Provider
	sts    *STSClient
	input  AssumeRoleInput
}

// NewAssumeRoleProvider creates a role-assumption provider.
func NewAssumeRoleProvider(source Provider, sts *STSClient, input AssumeRoleInput) *AssumeRoleProvider {
	return &AssumeRoleProvider{source: source, sts: sts, input: input}
}

// Name implements Provider.
func (p *AssumeRoleProvider) Name() string { return "assume-role" }

// Retrieve implements Provider.
func (p *AssumeRoleProvider) Retrieve(ctx context.Context) (Credentials, error) {
	source, err := p.source.Retrieve(ctx)
	if err != nil {
		return Credentials{}, err
	}
	return p.sts.AssumeRole(ctx, source, p.input)
}
