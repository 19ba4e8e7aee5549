package awssign

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultIMDSEndpoint      = "http://169.254.169.254"
	defaultContainerEndpoint = "http://169.254.170.2"

	imdsTokenPath = "/latest/api/token"
	imdsCredsPath = "/latest/meta-data/iam/security-credentials/"

	imdsTokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	imdsTokenHeader    = "X-aws-ec2-metadata-token"
	imdsTokenTTL       = "21600"

	metadataTimeout = 2 * time.Second
)

// metadataCredentials is the JSON shape served by the instance and
// container metadata endpoints.
type metadataCredentials struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
	Expiration      string `json:"Expiration"`
}

func (m metadataCredentials) toCredentials(source string) (Credentials, error) {
	creds := Credentials{
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		SessionToken:    m.Token,
		Source:          source,
	}
	if !creds.HasKeys() {
		return Credentials{}, ErrNoCredentials
	}
	if m.Expiration != "" {
		expiry, err := time.Parse(time.RFC3339, m.Expiration)
		if err != nil {
			return Credentials{}, fmt.Errorf("awssign: bad metadata expiration %q: %w", m.Expiration, err)
		}
		creds.Expiry = expiry
	}
	return creds, nil
}

// IMDSProvider resolves credentials from the instance metadata service,
// preferring the v2 token flow and falling back to v1.
type IMDSProvider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// IMDSOption configures an IMDSProvider.
type IMDSOption func(*IMDSProvider)

// WithIMDSEndpoint overrides the metadata endpoint, for tests.
func WithIMDSEndpoint(endpoint string) IMDSOption {
	return func(p *IMDSProvider) {
		p.endpoint = endpoint
	}
}

// WithIMDSLogger sets the structured logger.
func WithIMDSLogger(logger *zap.Logger) IMDSOption {
	return func(p *IMDSProvider) {
		p.logger = logger
	}
}

// NewIMDSProvider creates an instance metadata credential provider.
func NewIMDSProvider(opts ...IMDSOption) *IMDSProvider {
	p := &IMDSProvider{
		endpoint: defaultIMDSEndpoint,
		client:   &http.Client{Timeout: metadataTimeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *IMDSProvider) Name() string { return "instance-metadata" }

// Retrieve implements Provider.
func (p *IMDSProvider) Retrieve(ctx context.Context) (Credentials, error) {
	token, err := p.fetchToken(ctx)
	if err != nil {
		// v1 fallback: proceed without a token.
		p.logger.Debug("imds v2 token unavailable, falling back to v1", zap.Error(err))
		token = ""
	}

	role, err := p.get(ctx, imdsCredsPath, token)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	roleName := strings.TrimSpace(strings.SplitN(string(role), "\n", 2)[0])
	if roleName == "" {
		return Credentials{}, fmt.Errorf("%w: no role attached", ErrMetadataUnavailable)
	}

	body, err := p.get(ctx, imdsCredsPath+roleName, token)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}

	var meta metadataCredentials
	if err := json.Unmarshal(body, &meta); err != nil {
		return Credentials{}, fmt.Errorf("awssign: decode metadata credentials: %w", err)
	}
	return meta.toCredentials("instance-metadata")
}

// fetchToken performs the v2 session-token handshake.
func (p *IMDSProvider) fetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.endpoint+imdsTokenPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(imdsTokenTTLHeader, imdsTokenTTL)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	token, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return string(token), nil
}

func (p *IMDSProvider) get(ctx context.Context, path, token string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(imdsTokenHeader, token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<10))
}

// ContainerProvider resolves credentials from the container credential
// endpoint advertised through the environment.
type ContainerProvider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewContainerProvider creates a container credential provider. An
// empty endpoint uses the conventional link-local address.
func NewContainerProvider(endpoint string, logger *zap.Logger) *ContainerProvider {
	if endpoint == "" {
		endpoint = defaultContainerEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: metadataTimeout},
		logger:   logger,
	}
}

// Name implements Provider.
func (p *ContainerProvider) Name() string { return "container-metadata" }

// Retrieve implements Provider.
func (p *ContainerProvider) Retrieve(ctx context.Context) (Credentials, error) {
	target := ""
	switch {
	case os.Getenv(envContainerFull) != "":
		target = os.Getenv(envContainerFull)
	case os.Getenv(envContainerURI) != "":
		target = p.endpoint + os.Getenv(envContainerURI)
	default:
		return Credentials{}, ErrNoCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Credentials{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("%w: endpoint returned %d", ErrMetadataUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credentials{}, err
	}

	var meta metadataCredentials
	if err := json.Unmarshal(body, &meta); err != nil {
		return Credentials{}, fmt.Errorf("awssign: decode container credentials: %w", err)
	}
	return meta.toCredentials("container-metadata")
}
