package memorycore

import (
	"github.com/fyrsmithlabs/memoryd/internal/overrides"
	"github.com/fyrsmithlabs/memoryd/internal/writepolicy"
)

// WritePolicy governs whether and how a candidate memory is persisted.
type WritePolicy = writepolicy.Policy

// RetrievalPolicy tunes semantic search.
type RetrievalPolicy = overrides.RetrievalPolicy

// CollectionPolicy names and tunes the Qdrant collection backing a tenant.
type CollectionPolicy = overrides.CollectionPolicy

// TenantOverrides narrows policies and routing for an org or agent. A nil
// field means "inherit from the parent level".
type TenantOverrides = overrides.Overrides

// AgentConfig is the per-agent override set nested under an OrgConfig.
type AgentConfig = overrides.AgentOverrides

// OrgConfig is the per-org override set, with optional per-agent overrides.
type OrgConfig = overrides.OrgConfig

// Config is the policy tree Core resolves org/agent overrides against.
type Config struct {
	Defaults      overrides.CoreDefaults
	Organisations map[string]overrides.OrgConfig
}

// DefaultConfig returns the policy tree a deployment with no tenant
// overrides runs with.
func DefaultConfig() Config {
	return Config{
		Defaults:      overrides.DefaultCoreDefaults(),
		Organisations: map[string]overrides.OrgConfig{},
	}
}

// resolve layers org-level then agent-level overrides on top of the
// deployment defaults, mirroring the reference service's precedence: agent
// beats org beats deployment default.
func (c Config) resolve(orgID, agentID string) overrides.Resolved {
	return overrides.Resolve(c.Defaults, c.Organisations, orgID, agentID)
}
