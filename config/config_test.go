package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitestkit/authcore/auth"
)

const sampleConfig = `
auth:
  tokenRefreshBuffer: "45s"
  sessionMaxAge: "5m"
  rateLimit:
    enabled: true
    limit: 50
    window: "30s"
  policies:
    - id: tls-only
      enabled: true
      requireHttps: true
    - id: schemes
      enabled: true
      schemeRestrictions:
        legacy.example: [ntlm, basic]
signing:
  defaultRegion: eu-west-1
  credentialCache:
    backend: memory
    defaultTTL: "10m"
certificates:
  allowSelfSigned: true
  revocation:
    enabled: true
    timeout: "5s"
    failOpen: true
audit:
  enabled: true
  capacity: 256
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Auth.TokenRefreshBuffer.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Auth.SessionMaxAge.Duration())
	assert.True(t, cfg.Auth.RateLimit.Enabled)
	assert.Equal(t, 50, cfg.Auth.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.Auth.RateLimit.Window.Duration())

	require.Len(t, cfg.Auth.Policies, 2)
	assert.Equal(t, "tls-only", cfg.Auth.Policies[0].ID)
	assert.True(t, cfg.Auth.Policies[0].RequireHTTPS)
	assert.Equal(t, []auth.Scheme{auth.SchemeNTLM, auth.SchemeBasic},
		cfg.Auth.Policies[1].SchemeRestrictions["legacy.example"])

	assert.Equal(t, "eu-west-1", cfg.Signing.DefaultRegion)
	assert.Equal(t, 10*time.Minute, cfg.Signing.CredentialCache.DefaultTTL.Duration())

	assert.True(t, cfg.Certificates.AllowSelfSigned)
	assert.True(t, cfg.Certificates.Revocation.Enabled)
	assert.True(t, cfg.Certificates.Revocation.FailOpen)
	assert.Equal(t, 5*time.Second, cfg.Certificates.Revocation.Timeout.Duration())

	assert.Equal(t, 256, cfg.Audit.Capacity)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("{}"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Auth.TokenRefreshBuffer.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Auth.SessionMaxAge.Duration())
	assert.Equal(t, 100, cfg.Auth.RateLimit.Limit)
	assert.Equal(t, CacheBackendMemory, cfg.Signing.CredentialCache.Backend)
	assert.Equal(t, 10000, cfg.Signing.CredentialCache.MaxEntries)
	assert.Equal(t, 2048, cfg.Certificates.MinRSAKeyBits)
	assert.Equal(t, 256, cfg.Certificates.MinECKeyBits)
	assert.Equal(t, time.Hour, cfg.Certificates.Revocation.CacheTTL.Duration())
	assert.Equal(t, 1000, cfg.Audit.Capacity)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Signing.DefaultRegion)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/authcore.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("auth: ["))
	assert.Error(t, err)
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("CACHE_ADDR", "redis.internal:6379")

	cfg, err := LoadFromReader(strings.NewReader(`
signing:
  credentialCache:
    backend: redis
    redis:
      addr: "${CACHE_ADDR}"
      keyPrefix: "${CACHE_PREFIX:-authcore}"
`))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6379", cfg.Signing.CredentialCache.Redis.Addr)
	assert.Equal(t, "authcore", cfg.Signing.CredentialCache.Redis.KeyPrefix)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "redis without addr",
			yaml: "signing:\n  credentialCache:\n    backend: redis\n",
			want: "redis backend requires an address",
		},
		{
			name: "unknown backend",
			yaml: "signing:\n  credentialCache:\n    backend: memcached\n",
			want: "unknown cache backend",
		},
		{
			name: "policy without id",
			yaml: "auth:\n  policies:\n    - enabled: true\n",
			want: "id is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationMarshalYAML(t *testing.T) {
	out, err := Duration(90 * time.Second).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
