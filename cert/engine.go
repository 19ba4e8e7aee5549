package cert

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Engine is the certificate engine facade. It loads material through a
// provider, keeps it in a content-addressed store, validates it, and
// produces TLS client configuration for mutual-TLS requests.
type Engine struct {
	loader    *Loader
	store     *Store
	validator *Validator
	revoker   *Revoker
	logger    *zap.Logger
	metrics   *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineRevoker sets the revocation checker.
func WithEngineRevoker(r *Revoker) EngineOption {
	return func(e *Engine) {
		e.revoker = r
	}
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a certificate engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		store:  NewStore(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(WithLoaderLogger(e.logger))
	e.validator = NewValidator(
		WithValidatorLogger(e.logger),
		WithRevoker(e.revoker),
		WithValidatorMetrics(e.metrics),
	)
	return e
}

// Loader exposes the engine's loader.
func (e *Engine) Loader() *Loader {
	return e.loader
}

// Store exposes the engine's certificate store.
func (e *Engine) Store() *Store {
	return e.store
}

// Load parses certificate material and places it in the store, keyed by
// content hash. Reloading identical material is idempotent.
func (e *Engine) Load(ctx context.Context, in LoadInput) (*Info, error) {
	info, err := e.loader.Load(ctx, in)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordLoad(DetectFormat(in.Content, in.Path), false)
		}
		return nil, err
	}

	e.store.Put(info)
	if e.metrics != nil {
		e.metrics.RecordLoad(info.Format, true)
		e.metrics.SetStoreSize(e.store.Len())
	}

	e.logger.Info("certificate loaded",
		zap.String("subject", info.Subject()),
		zap.String("format", string(info.Format)),
		zap.String("fingerprint", Fingerprint(info.Certificate)))

	return info, nil
}

// Validate runs the validation pipeline over stored material.
func (e *Engine) Validate(ctx context.Context, info *Info, opts ValidateOptions) (*ValidationResult, error) {
	if info == nil || info.Certificate == nil {
		return nil, NewCertificateErrorWithCause("validate", "", "no certificate loaded", ErrNoCertificate)
	}
	if len(opts.CAChain) == 0 && len(info.CAChain) > 0 {
		opts.CAChain = info.CAChain
	}

	start := time.Now()
	result, err := e.validator.Validate(ctx, info.Certificate, opts)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveValidationDuration(result.Valid, time.Since(start))
	}
	return result, nil
}

// ClientTLSConfig builds a TLS client configuration presenting the
// stored certificate, for mutual-TLS authentication. The CA chain, when
// present, seeds the root pool used to verify the peer.
func (e *Engine) ClientTLSConfig(info *Info) (*tls.Config, error) {
	if info == nil || info.Certificate == nil {
		return nil, NewCertificateErrorWithCause("tls", "", "no certificate loaded", ErrNoCertificate)
	}
	if len(info.PrivateKeyPEM) == 0 {
		return nil, NewCertificateErrorWithCause("tls", info.Subject(),
			"certificate has no private key", ErrMalformedKey)
	}

	pair, err := tls.X509KeyPair(info.CertificatePEM, info.PrivateKeyPEM)
	if err != nil {
		return nil, NewCertificateErrorWithCause("tls", info.Subject(),
			fmt.Sprintf("build key pair: %v", err), ErrMalformedKey)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}

	if len(info.CAChain) > 0 {
		pool := x509.NewCertPool()
		for _, ca := range info.CAChain {
			pool.AddCert(ca)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
