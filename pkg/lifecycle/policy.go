package lifecycle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

// DefaultTTL is how long a request stays actionable when the policy does
// not say otherwise.
const DefaultTTL = 72 * time.Hour

// Policy describes how one request type is governed: which capability
// codes gate each step, what approval authority a reviewer needs, and how
// long the request stays actionable.
type Policy struct {
	Type             string
	CapabilityPrefix string
	RequiredLevel    space.ApprovalLevel
	TTL              time.Duration
}

// RequestCapability returns the code gating request creation.
func (p Policy) RequestCapability() capability.Code {
	return capability.Code(p.CapabilityPrefix + ".request")
}

// ReviewCapability returns the code gating review.
func (p Policy) ReviewCapability() capability.Code {
	return capability.Code(p.CapabilityPrefix + ".review")
}

// ExecuteCapability returns the code gating execution.
func (p Policy) ExecuteCapability() capability.Code {
	return capability.Code(p.CapabilityPrefix + ".execute")
}

// PolicyTable maps request types to their policies. It is immutable after
// construction and injected into the manager.
type PolicyTable struct {
	byType map[string]Policy
}

// NewPolicyTable builds a table, validating each policy's derived
// capability codes and defaulting zero TTLs.
func NewPolicyTable(policies []Policy) (*PolicyTable, error) {
	byType := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if p.Type == "" {
			return nil, fmt.Errorf("policy with empty request type")
		}
		if _, exists := byType[p.Type]; exists {
			return nil, fmt.Errorf("duplicate policy for request type %s", p.Type)
		}
		for _, code := range []capability.Code{p.RequestCapability(), p.ReviewCapability(), p.ExecuteCapability()} {
			if _, err := capability.ParseCode(string(code)); err != nil {
				return nil, fmt.Errorf("policy %s: %w", p.Type, err)
			}
		}
		if p.TTL <= 0 {
			p.TTL = DefaultTTL
		}
		byType[p.Type] = p
	}
	return &PolicyTable{byType: byType}, nil
}

// Lookup returns the policy for a request type.
func (t *PolicyTable) Lookup(requestType string) (Policy, bool) {
	p, ok := t.byType[requestType]
	return p, ok
}

// Types returns the governed request types.
func (t *PolicyTable) Types() []string {
	types := make([]string, 0, len(t.byType))
	for typ := range t.byType {
		types = append(types, typ)
	}
	return types
}

// DefaultPolicies returns the compiled-in policy set.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Type:             "2FA_RESET",
			CapabilityPrefix: "auth.2fa_reset",
			RequiredLevel:    space.ApprovalSensitive,
			TTL:              DefaultTTL,
		},
	}
}

type policyFile struct {
	Policies []struct {
		Type             string `yaml:"type"`
		CapabilityPrefix string `yaml:"capability_prefix"`
		RequiredLevel    string `yaml:"required_level"`
		TTL              string `yaml:"ttl"`
	} `yaml:"policies"`
}

// LoadPolicies reads a policy table from a YAML file.
func LoadPolicies(path string) (*PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	policies := make([]Policy, 0, len(file.Policies))
	for _, raw := range file.Policies {
		level, err := space.ParseApprovalLevel(raw.RequiredLevel)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", raw.Type, err)
		}
		p := Policy{
			Type:             raw.Type,
			CapabilityPrefix: raw.CapabilityPrefix,
			RequiredLevel:    level,
		}
		if raw.TTL != "" {
			ttl, err := time.ParseDuration(raw.TTL)
			if err != nil {
				return nil, fmt.Errorf("policy %s: invalid ttl: %w", raw.Type, err)
			}
			p.TTL = ttl
		}
		policies = append(policies, p)
	}
	return NewPolicyTable(policies)
}
