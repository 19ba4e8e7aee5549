package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	require.NoError(t, err)
	return req
}

func TestPolicyEngineRequireHTTPS(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "tls-only", Enabled: true, RequireHTTPS: true},
	}, nil)
	require.NoError(t, err)

	err = engine.Enforce(policyRequest(t, http.MethodGet, "http://api.example/"), SchemeBasic)
	require.Error(t, err)
	assert.Equal(t, CodePolicyViolation, ErrorCode(err))

	err = engine.Enforce(policyRequest(t, http.MethodGet, "https://api.example/"), SchemeBasic)
	assert.NoError(t, err)
}

func TestPolicyEngineAllowedDomains(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "domains", Enabled: true, AllowedDomains: []string{"api.example", "*.trusted.example"}},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://api.example/v1"), SchemeBearer))
	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://eu.trusted.example/"), SchemeBearer))

	err = engine.Enforce(policyRequest(t, http.MethodGet, "https://evil.example/"), SchemeBearer)
	require.Error(t, err)
	assert.Equal(t, CodePolicyViolation, ErrorCode(err))
}

func TestPolicyEngineSchemeRestrictions(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{
			ID:      "schemes",
			Enabled: true,
			SchemeRestrictions: map[string][]Scheme{
				"legacy.example": {SchemeNTLM, SchemeBasic},
			},
		},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://legacy.example/"), SchemeNTLM))
	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://other.example/"), SchemeBearer))

	err = engine.Enforce(policyRequest(t, http.MethodGet, "https://legacy.example/"), SchemeBearer)
	require.Error(t, err)
	assert.Equal(t, CodePolicyViolation, ErrorCode(err))
}

func TestPolicyEngineCondition(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "no-deletes", Enabled: true, Condition: `method != "DELETE"`},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://api.example/"), SchemeBasic))

	err = engine.Enforce(policyRequest(t, http.MethodDelete, "https://api.example/"), SchemeBasic)
	require.Error(t, err)
	assert.Equal(t, CodePolicyViolation, ErrorCode(err))
}

func TestPolicyEngineConditionVariables(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{
			ID:      "host-scheme",
			Enabled: true,
			Condition: `host == "api.example" && scheme == "bearer" && ` +
				`url.startsWith("https://")`,
		},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "https://api.example/v1"), SchemeBearer))

	err = engine.Enforce(policyRequest(t, http.MethodGet, "https://api.example/v1"), SchemeBasic)
	assert.Error(t, err)
}

func TestPolicyEngineDisabledPolicy(t *testing.T) {
	engine, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "off", Enabled: false, RequireHTTPS: true},
	}, nil)
	require.NoError(t, err)

	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "http://api.example/"), SchemeBasic))
}

func TestPolicyEngineCompileError(t *testing.T) {
	_, err := NewPolicyEngine([]SecurityPolicy{
		{ID: "broken", Enabled: true, Condition: "method =="},
	}, nil)
	assert.Error(t, err)
}

func TestPolicyEngineAddRemove(t *testing.T) {
	engine, err := NewPolicyEngine(nil, nil)
	require.NoError(t, err)

	require.NoError(t, engine.AddPolicy(SecurityPolicy{ID: "p1", Enabled: true, RequireHTTPS: true}))
	assert.Len(t, engine.Policies(), 1)

	// Replacing by ID keeps a single policy.
	require.NoError(t, engine.AddPolicy(SecurityPolicy{ID: "p1", Enabled: false}))
	assert.Len(t, engine.Policies(), 1)
	assert.NoError(t, engine.Enforce(policyRequest(t, http.MethodGet, "http://api.example/"), SchemeBasic))

	engine.RemovePolicy("p1")
	assert.Empty(t, engine.Policies())
}

func TestPolicyEngineRequiresID(t *testing.T) {
	engine, err := NewPolicyEngine(nil, nil)
	require.NoError(t, err)
	assert.Error(t, engine.AddPolicy(SecurityPolicy{Enabled: true}))
}

func TestDomainAllowed(t *testing.T) {
	tests := []struct {
		host    string
		allowed []string
		want    bool
	}{
		{"api.example", []string{"api.example"}, true},
		{"API.EXAMPLE", []string{"api.example"}, true},
		{"eu.trusted.example", []string{"*.trusted.example"}, true},
		{"trusted.example", []string{"*.trusted.example"}, false},
		{"evil.example", []string{"api.example"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domainAllowed(tt.host, tt.allowed), tt.host)
	}
}
