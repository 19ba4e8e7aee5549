package cert

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Provider fetches certificate material from a backing source.
type Provider interface {
	// Fetch loads the certificate material named by ref.
	Fetch(ctx context.Context, ref string) (*Info, error)
}

// FileProvider loads certificate material from the filesystem.
type FileProvider struct {
	loader *Loader

	// KeyPath optionally names a separate private key file applied to
	// every fetch.
	KeyPath string

	// Passphrase decrypts encrypted key material.
	Passphrase string

	// CAPath optionally names a CA bundle applied to every fetch.
	CAPath string
}

// NewFileProvider creates a filesystem-backed provider.
func NewFileProvider(loader *Loader) *FileProvider {
	if loader == nil {
		loader = NewLoader()
	}
	return &FileProvider{loader: loader}
}

// Fetch loads certificate material from the file at ref.
func (p *FileProvider) Fetch(ctx context.Context, ref string) (*Info, error) {
	return p.loader.Load(ctx, LoadInput{
		Path:       ref,
		KeyPath:    p.KeyPath,
		Passphrase: p.Passphrase,
		CAPath:     p.CAPath,
	})
}

// VaultProvider loads certificate material from a Vault KV secret. The
// secret is expected to carry PEM data under conventional key names
// (certificate/cert/tls.crt and private_key/key/tls.key).
type VaultProvider struct {
	client *vault.Client
	loader *Loader
	logger *zap.Logger
}

// VaultProviderOption configures a VaultProvider.
type VaultProviderOption func(*VaultProvider)

// WithVaultProviderLogger sets the structured logger.
func WithVaultProviderLogger(logger *zap.Logger) VaultProviderOption {
	return func(p *VaultProvider) {
		p.logger = logger
	}
}

// WithVaultProviderLoader sets the loader used to parse fetched material.
func WithVaultProviderLoader(loader *Loader) VaultProviderOption {
	return func(p *VaultProvider) {
		p.loader = loader
	}
}

// NewVaultProvider creates a Vault-backed provider.
func NewVaultProvider(client *vault.Client, opts ...VaultProviderOption) (*VaultProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("vault provider: nil client")
	}
	p := &VaultProvider{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loader == nil {
		p.loader = NewLoader(WithLoaderLogger(p.logger))
	}
	return p, nil
}

// Fetch reads the secret at ref and parses the certificate material it
// carries. Both KV v1 and v2 response shapes are handled.
func (p *VaultProvider) Fetch(ctx context.Context, ref string) (*Info, error) {
	secret, err := p.client.Logical().ReadWithContext(ctx, ref)
	if err != nil {
		return nil, NewCertificateErrorWithCause("fetch", ref, "vault read failed", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, NewCertificateErrorWithCause("fetch", ref, "secret not found", ErrNoCertificate)
	}

	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	certPEM, ok := secretString(data, "certificate", "cert", "tls.crt", "crt")
	if !ok {
		return nil, NewCertificateErrorWithCause("fetch", ref, "secret carries no certificate", ErrNoCertificate)
	}

	content := []byte(certPEM)
	if keyPEM, ok := secretString(data, "private_key", "key", "tls.key", "private-key"); ok {
		content = append(content, '\n')
		content = append(content, []byte(keyPEM)...)
	}
	if caPEM, ok := secretString(data, "ca_chain", "ca", "issuing_ca", "tls.ca"); ok {
		content = append(content, '\n')
		content = append(content, []byte(caPEM)...)
	}

	p.logger.Debug("certificate fetched from vault", zap.String("path", ref))

	return p.loader.Load(ctx, LoadInput{Content: content})
}

// secretString returns the first non-empty string value under any of
// the candidate keys.
func secretString(data map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := data[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
