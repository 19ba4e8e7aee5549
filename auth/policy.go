package auth

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// SecurityPolicy restricts how authentication material may be applied.
type SecurityPolicy struct {
	// ID identifies the policy in audit records.
	ID string `yaml:"id" json:"id"`

	// Enabled toggles enforcement. Disabled policies are skipped.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RequireHTTPS rejects credentials on plaintext requests.
	RequireHTTPS bool `yaml:"requireHttps,omitempty" json:"requireHttps,omitempty"`

	// AllowedDomains restricts target hosts. A leading "*." entry
	// matches subdomains. Empty allows any host.
	AllowedDomains []string `yaml:"allowedDomains,omitempty" json:"allowedDomains,omitempty"`

	// SchemeRestrictions maps a host to its permitted schemes.
	SchemeRestrictions map[string][]Scheme `yaml:"schemeRestrictions,omitempty" json:"schemeRestrictions,omitempty"`

	// Condition is an optional CEL expression over the variables
	// method, host, scheme, and url. When it evaluates false the
	// request is denied.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// PolicyEngine enforces security policies before credentials are
// applied.
type PolicyEngine struct {
	logger *zap.Logger
	env    *cel.Env

	mu       sync.RWMutex
	policies []SecurityPolicy
	programs map[string]cel.Program
}

// NewPolicyEngine creates a policy engine with the given policies.
// Policies carrying conditions are compiled up front.
func NewPolicyEngine(policies []SecurityPolicy, logger *zap.Logger) (*PolicyEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("url", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	e := &PolicyEngine{
		logger:   logger,
		env:      env,
		programs: make(map[string]cel.Program),
	}
	for _, policy := range policies {
		if err := e.AddPolicy(policy); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddPolicy compiles and registers a policy, replacing any policy with
// the same ID.
func (e *PolicyEngine) AddPolicy(policy SecurityPolicy) error {
	if policy.ID == "" {
		return fmt.Errorf("policy requires an id")
	}

	var program cel.Program
	if policy.Condition != "" {
		ast, issues := e.env.Compile(policy.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("compile policy %s: %w", policy.ID, issues.Err())
		}
		compiled, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("compile policy %s: %w", policy.ID, err)
		}
		program = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.policies {
		if p.ID == policy.ID {
			e.policies[i] = policy
			if program != nil {
				e.programs[policy.ID] = program
			} else {
				delete(e.programs, policy.ID)
			}
			return nil
		}
	}
	e.policies = append(e.policies, policy)
	if program != nil {
		e.programs[policy.ID] = program
	}
	return nil
}

// RemovePolicy removes a policy by ID.
func (e *PolicyEngine) RemovePolicy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			delete(e.programs, id)
			return
		}
	}
}

// Policies returns a copy of the registered policies.
func (e *PolicyEngine) Policies() []SecurityPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SecurityPolicy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Enforce evaluates every enabled policy against the request. The
// first violation is returned as a policy error.
func (e *PolicyEngine) Enforce(req *http.Request, scheme Scheme) error {
	e.mu.RLock()
	policies := make([]SecurityPolicy, len(e.policies))
	copy(policies, e.policies)
	programs := e.programs
	e.mu.RUnlock()

	host := req.URL.Hostname()
	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}

		if policy.RequireHTTPS && req.URL.Scheme != "https" {
			return e.violation(policy.ID, scheme, "credentials require https")
		}

		if len(policy.AllowedDomains) > 0 && !domainAllowed(host, policy.AllowedDomains) {
			return e.violation(policy.ID, scheme, fmt.Sprintf("host %s is not allowed", host))
		}

		if allowed, ok := policy.SchemeRestrictions[host]; ok && !schemeAllowed(scheme, allowed) {
			return e.violation(policy.ID, scheme,
				fmt.Sprintf("scheme %s is not permitted for host %s", scheme, host))
		}

		if program, ok := programs[policy.ID]; ok {
			result, _, err := program.Eval(map[string]interface{}{
				"method": req.Method,
				"host":   host,
				"scheme": string(scheme),
				"url":    req.URL.String(),
			})
			if err != nil {
				e.logger.Warn("policy evaluation error",
					zap.String("policy", policy.ID),
					zap.Error(err))
				return e.violation(policy.ID, scheme, "policy condition failed to evaluate")
			}
			if allowed, ok := result.Value().(bool); !ok || !allowed {
				return e.violation(policy.ID, scheme, "policy condition rejected the request")
			}
		}
	}
	return nil
}

func (e *PolicyEngine) violation(policyID string, scheme Scheme, message string) error {
	e.logger.Warn("policy violation",
		zap.String("policy", policyID),
		zap.String("scheme", string(scheme)),
		zap.String("reason", message))
	return newAuthError(CodePolicyViolation, scheme,
		fmt.Sprintf("policy %s: %s", policyID, message))
}

func domainAllowed(host string, allowed []string) bool {
	for _, domain := range allowed {
		if strings.EqualFold(host, domain) {
			return true
		}
		if strings.HasPrefix(domain, "*.") &&
			strings.HasSuffix(strings.ToLower(host), strings.ToLower(domain[1:])) {
			return true
		}
	}
	return false
}

func schemeAllowed(scheme Scheme, allowed []Scheme) bool {
	for _, s := range allowed {
		if s == scheme {
			return true
		}
	}
	return false
}
