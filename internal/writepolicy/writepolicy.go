// Package writepolicy gates which candidate memory texts are actually
// persisted, independent of normalization or embedding.
package writepolicy

import (
	"strings"
	"unicode/utf8"
)

// Policy is the set of rules that govern whether and how a memory is
// persisted, equivalent in meaning to the reference service's WritePolicy.
type Policy struct {
	EnabledScopes   []string
	MinChars        int
	Deduplicate     bool
	NormalizeWithLLM bool
	MaxBatch        int
}

// Default returns the policy a tenant with no overrides gets.
func Default() Policy {
	return Policy{
		EnabledScopes:    []string{"prefs", "facts", "persona", "constraints"},
		MinChars:         12,
		Deduplicate:      true,
		NormalizeWithLLM: true,
		MaxBatch:         32,
	}
}

// Engine evaluates Policy against candidate text.
type Engine struct {
	policy Policy
}

// New returns an Engine wrapping policy.
func New(policy Policy) Engine {
	return Engine{policy: policy}
}

// ShouldPersist reports whether text should become a memory under scope.
// It rejects text shorter than MinChars once trimmed, and any scope not in
// EnabledScopes.
func (e Engine) ShouldPersist(text, scope string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < e.policy.MinChars {
		return false
	}
	for _, s := range e.policy.EnabledScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Deduplicate reports whether duplicate detection is enabled.
func (e Engine) Deduplicate() bool { return e.policy.Deduplicate }

// NormalizeWithLLM reports whether candidate texts should be normalized
// through the LLM client before policy gating.
func (e Engine) NormalizeWithLLM() bool { return e.policy.NormalizeWithLLM }

// MaxBatch returns the maximum number of texts sent to the embedding client
// in one request; larger adds are embedded in several requests.
func (e Engine) MaxBatch() int { return e.policy.MaxBatch }
