package config

import (
	"fmt"
	"time"

	"github.com/apitestkit/authcore/auth"
)

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendDisabled = "disabled"
)

// Config is the root configuration document.
type Config struct {
	Auth         AuthConfig    `yaml:"auth"`
	Signing      SigningConfig `yaml:"signing"`
	Certificates CertConfig    `yaml:"certificates"`
	Audit        AuditConfig   `yaml:"audit"`
}

// AuthConfig tunes the authentication dispatcher.
type AuthConfig struct {
	// TokenRefreshBuffer is the margin before expiry after which a
	// cached token counts as expired.
	TokenRefreshBuffer Duration `yaml:"tokenRefreshBuffer"`

	// SessionMaxAge bounds NTLM handshake session lifetime.
	SessionMaxAge Duration `yaml:"sessionMaxAge"`

	// SweepInterval is the background eviction interval.
	SweepInterval Duration `yaml:"sweepInterval"`

	// RateLimit configures the per-scheme quota.
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Policies are enforced before credentials are applied.
	Policies []auth.SecurityPolicy `yaml:"policies"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`
	Window  Duration `yaml:"window"`
}

// CacheConfig selects and tunes a cache backend.
type CacheConfig struct {
	Backend       string      `yaml:"backend"`
	MaxEntries    int         `yaml:"maxEntries"`
	DefaultTTL    Duration    `yaml:"defaultTTL"`
	SweepInterval Duration    `yaml:"sweepInterval"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig carries redis backend settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// SigningConfig tunes the cloud signing engine.
type SigningConfig struct {
	// DefaultRegion applies when neither the config nor the hostname
	// carries a region.
	DefaultRegion string `yaml:"defaultRegion"`

	// CredentialCache holds resolved credential chains.
	CredentialCache CacheConfig `yaml:"credentialCache"`
}

// CertConfig tunes the certificate engine.
type CertConfig struct {
	// AllowSelfSigned accepts self-signed certificates during
	// validation.
	AllowSelfSigned bool `yaml:"allowSelfSigned"`

	// MinRSAKeyBits and MinECKeyBits set key strength floors.
	MinRSAKeyBits int `yaml:"minRSAKeyBits"`
	MinECKeyBits  int `yaml:"minECKeyBits"`

	// Revocation configures OCSP/CRL checking.
	Revocation RevocationConfig `yaml:"revocation"`
}

// RevocationConfig tunes revocation checking.
type RevocationConfig struct {
	// Enabled runs the OCSP/CRL check during validation.
	Enabled bool `yaml:"enabled"`

	// Timeout bounds each responder call.
	Timeout Duration `yaml:"timeout"`

	// CacheTTL bounds how long a revocation verdict is reused.
	CacheTTL Duration `yaml:"cacheTTL"`

	// FailOpen degrades unreachable responders to a warning instead of
	// a validation failure.
	FailOpen bool `yaml:"failOpen"`
}

// AuditConfig tunes the audit trail.
type AuditConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Auth.TokenRefreshBuffer <= 0 {
		c.Auth.TokenRefreshBuffer = Duration(30 * time.Second)
	}
	if c.Auth.SessionMaxAge <= 0 {
		c.Auth.SessionMaxAge = Duration(10 * time.Minute)
	}
	if c.Auth.SweepInterval <= 0 {
		c.Auth.SweepInterval = Duration(time.Minute)
	}
	if c.Auth.RateLimit.Limit <= 0 {
		c.Auth.RateLimit.Limit = 100
	}
	if c.Auth.RateLimit.Window <= 0 {
		c.Auth.RateLimit.Window = Duration(time.Minute)
	}

	applyCacheDefaults(&c.Signing.CredentialCache)

	if c.Certificates.MinRSAKeyBits <= 0 {
		c.Certificates.MinRSAKeyBits = 2048
	}
	if c.Certificates.MinECKeyBits <= 0 {
		c.Certificates.MinECKeyBits = 256
	}
	if c.Certificates.Revocation.Timeout <= 0 {
		c.Certificates.Revocation.Timeout = Duration(10 * time.Second)
	}
	if c.Certificates.Revocation.CacheTTL <= 0 {
		c.Certificates.Revocation.CacheTTL = Duration(time.Hour)
	}

	if c.Audit.Capacity <= 0 {
		c.Audit.Capacity = 1000
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Backend == "" {
		c.Backend = CacheBackendMemory
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = Duration(5 * time.Minute)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = Duration(time.Minute)
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if err := validateCache("signing.credentialCache", &c.Signing.CredentialCache); err != nil {
		return err
	}
	if c.Auth.RateLimit.Enabled && c.Auth.RateLimit.Limit <= 0 {
		return fmt.Errorf("auth.rateLimit: limit must be positive when enabled")
	}
	for i, policy := range c.Auth.Policies {
		if policy.ID == "" {
			return fmt.Errorf("auth.policies[%d]: id is required", i)
		}
	}
	return nil
}

func validateCache(section string, c *CacheConfig) error {
	switch c.Backend {
	case CacheBackendMemory, CacheBackendDisabled, "":
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%s: redis backend requires an address", section)
		}
	default:
		return fmt.Errorf("%s: unknown cache backend %q", section, c.Backend)
	}
	return nil
}
