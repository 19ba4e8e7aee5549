package auth

import (
	"fmt"
	"time"

	"github.com/apitestkit/authcore/awssign"
)

// Scheme identifies an authentication strategy.
type Scheme string

// Supported schemes.
const (
	SchemeBasic       Scheme = "basic"
	SchemeBearer      Scheme = "bearer"
	SchemeAPIKey      Scheme = "apikey"
	SchemeOAuth2      Scheme = "oauth2"
	SchemeCertificate Scheme = "certificate"
	SchemeNTLM        Scheme = "ntlm"
	SchemeAWS         Scheme = "aws"
	SchemeDigest      Scheme = "digest"
	SchemeHawk        Scheme = "hawk"
	SchemeJWT         Scheme = "jwt"
	SchemeCustom      Scheme = "custom"
)

// APIKeyLocation selects where an API key is applied.
type APIKeyLocation string

// API key locations.
const (
	LocationHeader APIKeyLocation = "header"
	LocationQuery  APIKeyLocation = "query"
	LocationCookie APIKeyLocation = "cookie"
)

// Config is the tagged union of scheme configurations. Exactly one
// variant must be set per authentication call.
type Config struct {
	Basic       *BasicConfig       `yaml:"basic,omitempty" json:"basic,omitempty"`
	Bearer      *BearerConfig      `yaml:"bearer,omitempty" json:"bearer,omitempty"`
	APIKey      *APIKeyConfig      `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	OAuth2      *OAuth2Config      `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	Certificate *CertificateConfig `yaml:"certificate,omitempty" json:"certificate,omitempty"`
	NTLM        *NTLMConfig        `yaml:"ntlm,omitempty" json:"ntlm,omitempty"`
	AWS         *AWSConfig         `yaml:"aws,omitempty" json:"aws,omitempty"`
	Digest      *DigestConfig      `yaml:"digest,omitempty" json:"digest,omitempty"`
	Hawk        *HawkConfig        `yaml:"hawk,omitempty" json:"hawk,omitempty"`
	JWT         *JWTConfig         `yaml:"jwt,omitempty" json:"jwt,omitempty"`
	Custom      *CustomConfig      `yaml:"-" json:"-"`
}

// BasicConfig configures HTTP Basic authentication.
type BasicConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BearerConfig configures bearer-token authentication.
type BearerConfig struct {
	// Token is the bearer token to apply.
	Token string `yaml:"token" json:"token"`

	// ExpiresAt is the token expiry, zero for no expiry.
	ExpiresAt time.Time `yaml:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	// RefreshToken is carried into the cache entry for the caller.
	RefreshToken string `yaml:"refreshToken,omitempty" json:"refreshToken,omitempty"`

	// CacheKey enables token caching under the given key.
	CacheKey string `yaml:"cacheKey,omitempty" json:"cacheKey,omitempty"`
}

// APIKeyConfig configures API key authentication.
type APIKeyConfig struct {
	// Key is the API key value.
	Key string `yaml:"key" json:"key"`

	// Name is the header, query parameter, or cookie name.
	Name string `yaml:"name" json:"name"`

	// Location selects where the key is applied. Defaults to header.
	Location APIKeyLocation `yaml:"location,omitempty" json:"location,omitempty"`

	// Prefix is prepended to the value (e.g. "Api-Key ").
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// OAuth2Config configures the OAuth2 delegate. Token acquisition is
// performed by an external collaborator implementing OAuth2Provider.
type OAuth2Config struct {
	// Provider obtains tokens; required.
	Provider OAuth2Provider `yaml:"-" json:"-"`

	// TokenURL, ClientID, ClientSecret, Scopes are passed through to
	// the provider.
	TokenURL     string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// CacheKey enables token caching under the given key.
	CacheKey string `yaml:"cacheKey,omitempty" json:"cacheKey,omitempty"`
}

// CertificateConfig configures the certificate delegate.
type CertificateConfig struct {
	// Path or Content supplies the certificate material.
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Content []byte `yaml:"-" json:"-"`

	// KeyPath supplies a separate private key file.
	KeyPath string `yaml:"keyPath,omitempty" json:"keyPath,omitempty"`

	// Passphrase decrypts encrypted keys and PKCS#12 containers.
	Passphrase string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`

	// CAPath supplies a CA bundle file.
	CAPath string `yaml:"caPath,omitempty" json:"caPath,omitempty"`

	// Validate runs the validation pipeline before use.
	Validate bool `yaml:"validate,omitempty" json:"validate,omitempty"`
}

// NTLMConfig configures NTLM authentication.
type NTLMConfig struct {
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	Domain      string `yaml:"domain,omitempty" json:"domain,omitempty"`
	Workstation string `yaml:"workstation,omitempty" json:"workstation,omitempty"`

	// SessionID continues an existing handshake. Empty starts a new
	// session.
	SessionID string `yaml:"-" json:"-"`
}

// AWSConfig configures the cloud-signing delegate.
type AWSConfig struct {
	awssign.Config `yaml:",inline" json:",inline"`
}

// DigestConfig configures HTTP Digest authentication.
type DigestConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// Challenge is the server's literal challenge value. Usually fed
	// through HandleChallengeResponse rather than set directly.
	Challenge string `yaml:"-" json:"-"`

	// URI overrides the digest-uri; defaults to the request path.
	URI string `yaml:"uri,omitempty" json:"uri,omitempty"`
}

// HawkConfig configures Hawk authentication.
type HawkConfig struct {
	// ID and Key are the Hawk credential pair.
	ID  string `yaml:"id" json:"id"`
	Key string `yaml:"key" json:"key"`

	// Ext is the optional application extension string.
	Ext string `yaml:"ext,omitempty" json:"ext,omitempty"`

	// HashPayload includes a payload hash in the MAC.
	HashPayload bool `yaml:"hashPayload,omitempty" json:"hashPayload,omitempty"`

	// ContentType is hashed with the payload when HashPayload is set.
	ContentType string `yaml:"contentType,omitempty" json:"contentType,omitempty"`
}

// JWTConfig configures JWT authentication. A supplied token is applied
// as a bearer token; otherwise one is generated locally from the
// signing material and claims.
type JWTConfig struct {
	// Token is a pre-issued token. When set, generation is skipped.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// Secret is the HMAC secret for HS256 generation.
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`

	// PrivateKeyPEM is the RSA key for RS256 generation.
	PrivateKeyPEM []byte `yaml:"-" json:"-"`

	// Algorithm selects the signing algorithm (HS256 or RS256).
	// Defaults to HS256 with a secret, RS256 with a private key.
	Algorithm string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`

	// Claims are the token claims.
	Claims map[string]interface{} `yaml:"claims,omitempty" json:"claims,omitempty"`

	// TTL bounds generated token lifetime. Defaults to one hour.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// CacheKey enables token caching under the given key.
	CacheKey string `yaml:"cacheKey,omitempty" json:"cacheKey,omitempty"`
}

// CustomConfig configures a caller-supplied handler.
type CustomConfig struct {
	// Handler produces the headers; required.
	Handler Handler
}

// Scheme returns the active variant's scheme, empty when none is set.
func (c *Config) Scheme() Scheme {
	switch {
	case c == nil:
		return ""
	case c.Basic != nil:
		return SchemeBasic
	case c.Bearer != nil:
		return SchemeBearer
	case c.APIKey != nil:
		return SchemeAPIKey
	case c.OAuth2 != nil:
		return SchemeOAuth2
	case c.Certificate != nil:
		return SchemeCertificate
	case c.NTLM != nil:
		return SchemeNTLM
	case c.AWS != nil:
		return SchemeAWS
	case c.Digest != nil:
		return SchemeDigest
	case c.Hawk != nil:
		return SchemeHawk
	case c.JWT != nil:
		return SchemeJWT
	case c.Custom != nil:
		return SchemeCustom
	default:
		return ""
	}
}

// Validate checks that exactly one variant is set and that the active
// variant carries its required fields.
func (c *Config) Validate() error {
	if c == nil {
		return newAuthError(CodeInvalidConfig, "", ErrNoSchemeConfigured.Error())
	}

	count := 0
	for _, set := range []bool{
		c.Basic != nil, c.Bearer != nil, c.APIKey != nil, c.OAuth2 != nil,
		c.Certificate != nil, c.NTLM != nil, c.AWS != nil, c.Digest != nil,
		c.Hawk != nil, c.JWT != nil, c.Custom != nil,
	} {
		if set {
			count++
		}
	}
	if count == 0 {
		return newAuthError(CodeInvalidConfig, "", ErrNoSchemeConfigured.Error())
	}
	if count > 1 {
		return newAuthError(CodeInvalidConfig, "", ErrMultipleSchemes.Error())
	}

	return c.validateVariant()
}

func (c *Config) validateVariant() error {
	scheme := c.Scheme()
	fail := func(msg string) error {
		return newAuthError(CodeInvalidConfig, scheme, msg)
	}

	switch scheme {
	case SchemeBasic:
		if c.Basic.Username == "" || c.Basic.Password == "" {
			return fail("basic auth requires username and password")
		}
	case SchemeBearer:
		if c.Bearer.Token == "" {
			return fail("bearer auth requires a token")
		}
	case SchemeAPIKey:
		if c.APIKey.Key == "" || c.APIKey.Name == "" {
			return fail("api key auth requires key and name")
		}
		switch c.APIKey.Location {
		case "", LocationHeader, LocationQuery, LocationCookie:
		default:
			return fail(fmt.Sprintf("invalid api key location %q", c.APIKey.Location))
		}
	case SchemeOAuth2:
		if c.OAuth2.Provider == nil {
			return fail("oauth2 auth requires a provider")
		}
	case SchemeCertificate:
		if c.Certificate.Path == "" && len(c.Certificate.Content) == 0 {
			return fail("certificate auth requires a path or content")
		}
	case SchemeNTLM:
		if c.NTLM.Username == "" || c.NTLM.Password == "" {
			return fail("ntlm auth requires username and password")
		}
	case SchemeAWS:
		if c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey == "" {
			return fail("aws auth requires a secret access key with an access key id")
		}
	case SchemeDigest:
		if c.Digest.Username == "" || c.Digest.Password == "" {
			return fail("digest auth requires username and password")
		}
	case SchemeHawk:
		if c.Hawk.ID == "" || c.Hawk.Key == "" {
			return fail("hawk auth requires id and key")
		}
	case SchemeJWT:
		if c.JWT.Token == "" && c.JWT.Secret == "" && len(c.JWT.PrivateKeyPEM) == 0 {
			return fail("jwt auth requires a token or signing material")
		}
	case SchemeCustom:
		if c.Custom.Handler == nil {
			return fail("custom auth requires a handler")
		}
	}
	return nil
}
