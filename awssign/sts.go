package awssign

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apitestkit/authcore/internal/retry"
)

const (
	stsAPIVersion      = "2011-06-15"
	defaultSTSEndpoint = "https://sts.amazonaws.com"
	stsTimeout         = 10 * time.Second

	// defaultSessionDuration is requested when the caller sets none.
	defaultSessionDuration = time.Hour
)

// STSClient performs role-assumption calls against an STS-compatible
// endpoint.
type STSClient struct {
	endpoint string
	region   string
	client   *http.Client
	signer   *Signer
	retryCfg *retry.Config
	logger   *zap.Logger
}

// STSOption configures an STSClient.
type STSOption func(*STSClient)

// WithSTSEndpoint overrides the endpoint, for regional or test targets.
func WithSTSEndpoint(endpoint string) STSOption {
	return func(c *STSClient) {
		c.endpoint = endpoint
	}
}

// WithSTSHTTPClient sets the HTTP client.
func WithSTSHTTPClient(client *http.Client) STSOption {
	return func(c *STSClient) {
		c.client = client
	}
}

// WithSTSLogger sets the structured logger.
func WithSTSLogger(logger *zap.Logger) STSOption {
	return func(c *STSClient) {
		c.logger = logger
	}
}

// NewSTSClient creates an STS client. An empty region signs against the
// global endpoint.
func NewSTSClient(region string, opts ...STSOption) *STSClient {
	c := &STSClient{
		endpoint: defaultSTSEndpoint,
		region:   region,
		retryCfg: retry.DefaultConfig(),
		logger:   zap.NewNop(),
	}
	if region != "" {
		c.endpoint = fmt.Sprintf("https://sts.%s.amazonaws.com", region)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: stsTimeout}
	}
	c.signer = NewSigner(WithSignerLogger(c.logger))
	return c
}

// AssumeRoleInput describes a role-assumption request.
type AssumeRoleInput struct {
	// RoleARN is the role to assume.
	RoleARN string

	// SessionName labels the assumed session.
	SessionName string

	// Duration is the requested session lifetime.
	Duration time.Duration

	// ExternalID is the optional external id condition value.
	ExternalID string

	// MFASerial and MFAToken satisfy an MFA condition when set.
	MFASerial string
	MFAToken  string
}

// AssumeRole exchanges source credentials for role session credentials.
func (c *STSClient) AssumeRole(ctx context.Context, source Credentials, in AssumeRoleInput) (Credentials, error) {
	if in.RoleARN == "" {
		return Credentials{}, fmt.Errorf("awssign: assume role: empty role ARN")
	}
	sessionName := in.SessionName
	if sessionName == "" {
		sessionName = "authcore-" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	duration := in.Duration
	if duration <= 0 {
		duration = defaultSessionDuration
	}

	form := url.Values{}
	form.Set("Action", "AssumeRole")
	form.Set("Version", stsAPIVersion)
	form.Set("RoleArn", in.RoleARN)
	form.Set("RoleSessionName", sessionName)
	form.Set("DurationSeconds", strconv.Itoa(int(duration.Seconds())))
	if in.ExternalID != "" {
		form.Set("ExternalId", in.ExternalID)
	}
	if in.MFASerial != "" {
		form.Set("SerialNumber", in.MFASerial)
		form.Set("TokenCode", in.MFAToken)
	}

	body, err := c.call(ctx, form, &source)
	if err != nil {
		return Credentials{}, err
	}

	var resp assumeRoleResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return Credentials{}, fmt.Errorf("awssign: decode assume role response: %w", err)
	}
	return resp.Result.Credentials.toCredentials("sts-assume-role")
}

// AssumeRoleWithWebIdentity exchanges a federation token for role
// session credentials. The call is unsigned.
func (c *STSClient) AssumeRoleWithWebIdentity(ctx context.Context, roleARN, sessionName, token string) (Credentials, error) {
	if roleARN == "" || token == "" {
		return Credentials{}, fmt.Errorf("awssign: web identity: role ARN and token required")
	}
	if sessionName == "" {
		sessionName = "authcore-" + strconv.FormatInt(time.Now().Unix(), 10)
	}

	form := url.Values{}
	form.Set("Action", "AssumeRoleWithWebIdentity")
	form.Set("Version", stsAPIVersion)
	form.Set("RoleArn", roleARN)
	form.Set("RoleSessionName", sessionName)
	form.Set("WebIdentityToken", token)

	body, err := c.call(ctx, form, nil)
	if err != nil {
		return Credentials{}, err
	}

	var resp webIdentityResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return Credentials{}, fmt.Errorf("awssign: decode web identity response: %w", err)
	}
	return resp.Result.Credentials.toCredentials("sts-web-identity")
}

// call posts a form to the endpoint, signing it when source credentials
// are supplied, and retries transient failures.
func (c *STSClient) call(ctx context.Context, form url.Values, source *Credentials) ([]byte, error) {
	encoded := form.Encode()

	var body []byte
	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", strings.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

		if source != nil {
			region := c.region
			if region == "" {
				region = "us-east-1"
			}
			if err := c.signer.SignHTTP(*source, req, HashPayload([]byte(encoded)), "sts", region, time.Time{}); err != nil {
				return err
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.MarkTransient(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			c.logger.Debug("sts call failed",
				zap.Int("status", resp.StatusCode),
				zap.String("action", form.Get("Action")))
			return &retry.HTTPStatusError{StatusCode: resp.StatusCode, URL: c.endpoint}
		}
		body = data
		return nil
	}, &retry.Options{ShouldRetry: retry.ShouldRetryHTTP})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// stsCredentials is the wire shape of STS-issued credentials.
type stsCredentials struct {
	AccessKeyID     string `xml:"AccessKeyId"`
	SecretAccessKey string `xml:"SecretAccessKey"`
	SessionToken    string `xml:"SessionToken"`
	Expiration      string `xml:"Expiration"`
}

func (c stsCredentials) toCredentials(source string) (Credentials, error) {
	creds := Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          source,
	}
	if !creds.HasKeys() {
		return Credentials{}, fmt.Errorf("awssign: sts response carried no credentials")
	}
	if c.Expiration != "" {
		expiry, err := time.Parse(time.RFC3339, c.Expiration)
		if err != nil {
			return Credentials{}, fmt.Errorf("awssign: bad sts expiration %q: %w", c.Expiration, err)
		}
		creds.Expiry = expiry
	}
	return creds, nil
}

type assumeRoleResponse struct {
	Result struct {
		Credentials stsCredentials `xml:"Credentials"`
	} `xml:"AssumeRoleResult"`
}

type webIdentityResponse struct {
	Result struct {
		Credentials stsCredentials `xml:"Credentials"`
	} `xml:"AssumeRoleWithWebIdentityResult"`
}
