package awssign

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/apitestkit/authcore/internal/cache"
)

// Version selects a signature algorithm.
type Version string

const (
	// VersionV4 is the current header-based signature.
	VersionV4 Version = "v4"

	// VersionV2 is the legacy query-string signature.
	VersionV2 Version = "v2"

	// VersionS3Legacy is the object-storage header signature.
	VersionS3Legacy Version = "s3"
)

// Config describes one signing request's credentials and scope.
type Config struct {
	// AccessKeyID, SecretAccessKey, SessionToken are explicit
	// credentials; empty values defer to the resolution chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Profile selects the shared credentials file profile.
	Profile string

	// RoleARN, when set, wraps resolution in a role assumption.
	RoleARN     string
	SessionName string
	ExternalID  string
	MFASerial   string
	MFAToken    string

	// Region and Service scope the signature; inferred from the
	// hostname when empty.
	Region  string
	Service string

	// SignatureVersion selects the algorithm. Empty means v4.
	SignatureVersion Version

	// UnsignedPayload skips body hashing.
	UnsignedPayload bool

	// Bucket names the bucket for legacy object-storage signing.
	Bucket string
}

// versionOrDefault returns cfg's signature version, defaulting to v4
// when unset.
func versionOrDefault(cfg Config) Version {
	if cfg.SignatureVersion == "" {
		return VersionV4
	}
	return cfg.SignatureVersion
}

// Engine is the cloud signing facade: credential resolution plus the
// signature algorithms.
type Engine struct {
	signer  *Signer
	cache   cache.Cache
	logger  *zap.Logger
	metrics *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineCache sets the cache shared by credential chains and the
// signing-key cache.
func WithEngineCache(c cache.Cache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a signing engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.NewMemory(cache.MemoryOptions{
			MaxEntries: 1024,
			Logger:     e.logger,
		})
	}
	e.signer = NewSigner(
		WithSignerLogger(e.logger),
		WithSignerMetrics(e.metrics),
		WithSigningKeyCache(e.cache),
	)
	return e
}

// Signer exposes the engine's signer.
func (e *Engine) Signer() *Signer {
	return e.signer
}

// SignRequest resolves credentials for cfg and signs req in place with
// the configured signature version.
func (e *Engine) SignRequest(ctx context.Context, req *http.Request, cfg Config) error {
	creds, err := e.resolveCredentials(ctx, cfg)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordSign(string(versionOrDefault(cfg)), false)
		}
		return err
	}

	service, region, err := e.scope(req.URL.Host, cfg)
	if err != nil {
		return err
	}

	switch versionOrDefault(cfg) {
	case VersionV4:
		payloadHash, err := e.payloadHash(req, cfg)
		if err != nil {
			return err
		}
		return e.signer.SignHTTP(creds, req, payloadHash, service, region, time.Time{})
	case VersionV2:
		return e.signer.SignV2(creds, req, time.Time{})
	case VersionS3Legacy:
		return e.signer.SignS3Legacy(creds, req, cfg.Bucket, time.Time{})
	default:
		return newSignatureError("sign", string(cfg.SignatureVersion), ErrUnsupportedVersion)
	}
}

// GeneratePresignedURL resolves credentials and produces a presigned
// URL valid for ttl.
func (e *Engine) GeneratePresignedURL(ctx context.Context, method, rawURL string, cfg Config, ttl time.Duration) (string, error) {
	if versionOrDefault(cfg) != VersionV4 {
		return "", newSignatureError("presign", string(cfg.SignatureVersion), ErrUnsupportedVersion)
	}

	creds, err := e.resolveCredentials(ctx, cfg)
	if err != nil {
		return "", err
	}

	host := hostFromRawURL(rawURL)
	service, region, err := e.scope(host, cfg)
	if err != nil {
		return "", err
	}
	return e.signer.Presign(creds, method, rawURL, service, region, ttl, time.Time{})
}

// SignStreamingRequest resolves credentials and seeds a chunk signer
// for a streaming upload.
func (e *Engine) SignStreamingRequest(ctx context.Context, req *http.Request, cfg Config) (*StreamSigner, error) {
	creds, err := e.resolveCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	service, region, err := e.scope(req.URL.Host, cfg)
	if err != nil {
		return nil, err
	}
	return e.signer.SignStreamingRequest(creds, req, service, region, time.Time{})
}

// resolveCredentials builds the chain cfg describes and walks it.
func (e *Engine) resolveCredentials(ctx context.Context, cfg Config) (Credentials, error) {
	var static *StaticProvider
	if cfg.AccessKeyID != "" {
		static = NewStaticProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	chain := DefaultChain(static, cfg.Profile, "",
		WithChainCache(e.cache),
		WithChainLogger(e.logger),
		WithChainMetrics(e.metrics))

	if cfg.RoleARN == "" {
		return chain.Resolve(ctx)
	}

	sts := NewSTSClient(cfg.Region, WithSTSLogger(e.logger))
	assume := NewAssumeRoleProvider(chainProvider{chain}, sts, AssumeRoleInput{
		RoleARN:     cfg.RoleARN,
		SessionName: cfg.SessionName,
		ExternalID:  cfg.ExternalID,
		MFASerial:   cfg.MFASerial,
		MFAToken:    cfg.MFAToken,
	})

	roleChain := NewChain([]Provider{assume},
		[]string{cfg.Profile, cfg.RoleARN, cfg.AccessKeyID},
		WithChainCache(e.cache),
		WithChainLogger(e.logger),
		WithChainMetrics(e.metrics))
	return roleChain.Resolve(ctx)
}

// scope settles the service and region for a request.
func (e *Engine) scope(host string, cfg Config) (service, region string, err error) {
	service, region = cfg.Service, cfg.Region
	if service == "" || region == "" {
		inferredService, inferredRegion := InferFromHost(host)
		if service == "" {
			service = inferredService
		}
		if region == "" {
			region = inferredRegion
		}
	}
	if service == "" {
		return "", "", newSignatureError("sign", "service not configured and not inferable from "+host, ErrMissingService)
	}
	if region == "" {
		return "", "", newSignatureError("sign", "region not configured and not inferable from "+host, ErrMissingRegion)
	}
	return service, region, nil
}

// payloadHash hashes the request body when it is replayable, otherwise
// falls back to the unsigned sentinel.
func (e *Engine) payloadHash(req *http.Request, cfg Config) (string, error) {
	if cfg.UnsignedPayload || req.Body == nil {
		if req.Body == nil {
			return HashPayload(nil), nil
		}
		return UnsignedPayload, nil
	}
	if req.GetBody == nil {
		return UnsignedPayload, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return "", newSignatureError("sign", "reopen request body", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", newSignatureError("sign", "read request body", err)
	}
	return HashPayload(data), nil
}

// chainProvider adapts a Chain to the Provider interface for nesting.
type chainProvider struct {
	chain *Chain
}

func (p chainProvider) Name() string { return "chain" }

func (p chainProvider) Retrieve(ctx context.Context) (Credentials, error) {
	return p.chain.Resolve(ctx)
}

// hostFromRawURL extracts the host component without parsing errors
// surfacing here; bad URLs fail later in Presign.
func hostFromRawURL(rawURL string) string {
	rest := rawURL
	if idx := indexAfterScheme(rest); idx >= 0 {
		rest = rest[idx:]
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' || rest[i] == '?' {
			return rest[:i]
		}
	}
	return rest
}

func indexAfterScheme(s string) int {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return i + 3
		}
	}
	return -1
}
