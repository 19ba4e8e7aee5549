package awssign

import (
	"context"
	"os"
	"time"
)

// Environment variables consumed by the credential chain.
const (
	envAccessKeyID     = "AWS_ACCESS_KEY_ID"
	envSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	envSessionToken    = "AWS_SESSION_TOKEN"
	envProfile         = "AWS_PROFILE"
	envSharedFile      = "AWS_SHARED_CREDENTIALS_FILE"
	envContainerURI    = "AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"
	envContainerFull   = "AWS_CONTAINER_CREDENTIALS_FULL_URI"
	envWebIdentityFile = "AWS_WEB_IDENTITY_TOKEN_FILE"
	envRoleARN         = "AWS_ROLE_ARN"
	envRoleSessionName = "AWS_ROLE_SESSION_NAME"
)

// expiryWindow is the margin before real expiry after which credentials
// are treated as already expired, forcing early refresh.
const expiryWindow = 5 * time.Minute

// Credentials is a resolved set of signing credentials.
type Credentials struct {
	// AccessKeyID is the public key identifier.
	AccessKeyID string

	// SecretAccessKey is the signing secret.
	SecretAccessKey string

	// SessionToken is set for temporary credentials.
	SessionToken string

	// Source names the provider that produced the credentials.
	Source string

	// Expiry is the credential expiration, zero for static credentials.
	Expiry time.Time
}

// HasKeys reports whether both key halves are present.
func (c Credentials) HasKeys() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Expired reports whether the credentials are past their expiry, with
// the early-refresh window applied. Static credentials never expire.
func (c Credentials) Expired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(expiryWindow).After(c.Expiry)
}

// Provider resolves credentials from one source.
type Provider interface {
	// Name identifies the provider in logs and chain errors.
	Name() string

	// Retrieve resolves credentials, failing when the source has none.
	Retrieve(ctx context.Context) (Credentials, error)
}

// StaticProvider serves fixed credentials supplied by configuration.
type StaticProvider struct {
	Credentials Credentials
}

// NewStaticProvider creates a provider around fixed credentials.
func NewStaticProvider(accessKeyID, secretAccessKey, sessionToken string) *StaticProvider {
	return &StaticProvider{Credentials: Credentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		SessionToken:    sessionToken,
		Source:          "static",
	}}
}

// Name implements Provider.
func (p *StaticProvider) Name() string { return "static" }

// Retrieve implements Provider.
func (p *StaticProvider) Retrieve(_ context.Context) (Credentials, error) {
	if !p.Credentials.HasKeys() {
		return Credentials{}, ErrNoCredentials
	}
	creds := p.Credentials
	creds.Source = "static"
	return creds, nil
}

// EnvProvider reads credentials from the process environment.
type EnvProvider struct{}

// Name implements Provider.
func (p *EnvProvider) Name() string { return "environment" }

// Retrieve implements Provider.
func (p *EnvProvider) Retrieve(_ context.Context) (Credentials, error) {
	creds := Credentials{
		AccessKeyID:     os.Getenv(envAccessKeyID),
		SecretAccessKey: os.Getenv(envSecretAccessKey),
		SessionToken:    os.Getenv(envSessionToken),
		Source:          "environment",
	}
	if !creds.HasKeys() {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
