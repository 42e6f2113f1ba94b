// Package overrides resolves the global-defaults → per-org → per-agent
// override cascade used to pick a tenant's effective write policy,
// retrieval policy, collection policy, model, and embedding dimensions.
package overrides

import "github.com/fyrsmithlabs/memoryd/internal/writepolicy"

// RetrievalPolicy tunes semantic search behavior for a tenant.
type RetrievalPolicy struct {
	TopK        int
	EfSearch    int
	IncludeText bool

	// DecayHalfLifeDays is the recency half-life applied to search scores,
	// in days. The same value drives both the store-side reranker formula
	// query and the in-memory decay fallback, so changing it changes both
	// paths identically.
	DecayHalfLifeDays int
}

// DefaultRetrievalPolicy returns the retrieval policy a tenant with no
// overrides gets.
func DefaultRetrievalPolicy() RetrievalPolicy {
	return RetrievalPolicy{TopK: 6, EfSearch: 64, IncludeText: true, DecayHalfLifeDays: 90}
}

// CollectionPolicy describes which vector collection a tenant writes to and
// how it is provisioned.
type CollectionPolicy struct {
	Name          string
	VectorSize    int
	Distance      string
	OnDiskPayload bool
}

// DefaultCollectionPolicy returns the collection policy a tenant with no
// overrides gets.
func DefaultCollectionPolicy() CollectionPolicy {
	return CollectionPolicy{Name: "memories", VectorSize: 768, Distance: "Cosine", OnDiskPayload: true}
}

// Overrides is a field-level optional patch: a nil pointer means "inherit
// from whatever this is layered over". This is the Go equivalent of the
// reference service's TenantOverrides/AgentOverrides pydantic models.
type Overrides struct {
	Write          *writepolicy.Policy
	Retrieval      *RetrievalPolicy
	Collection     *CollectionPolicy
	Model          *string
	EmbeddingDims  *int
}

// AgentOverrides is a per-agent override set nested under an org.
type AgentOverrides = Overrides

// OrgConfig is an org-level override set plus its agents' overrides.
type OrgConfig struct {
	Overrides
	Agents map[string]AgentOverrides
}

// CoreDefaults are the global fallbacks used when no org or agent override
// supplies a field.
type CoreDefaults struct {
	Write         writepolicy.Policy
	Retrieval     RetrievalPolicy
	Collection    CollectionPolicy
	Model         string
	EmbeddingDims int
}

// DefaultCoreDefaults returns the out-of-the-box global defaults.
func DefaultCoreDefaults() CoreDefaults {
	return CoreDefaults{
		Write:         writepolicy.Default(),
		Retrieval:     DefaultRetrievalPolicy(),
		Collection:    DefaultCollectionPolicy(),
		Model:         "openrouter/auto",
		EmbeddingDims: 768,
	}
}

// Resolved is the fully-merged, non-optional override set a single
// (org_id, agent_id) pair resolves to.
type Resolved struct {
	Write         writepolicy.Policy
	Retrieval     RetrievalPolicy
	Collection    CollectionPolicy
	Model         string
	EmbeddingDims int
}

// Resolve merges CoreDefaults with an optional org config and, within it, an
// optional agent override, at field granularity: an agent override wins
// over the org override, which wins over the global default, and a field
// left nil at any layer simply falls through to the next one.
func Resolve(defaults CoreDefaults, orgs map[string]OrgConfig, orgID, agentID string) Resolved {
	resolved := Resolved{
		Write:         defaults.Write,
		Retrieval:     defaults.Retrieval,
		Collection:    defaults.Collection,
		Model:         defaults.Model,
		EmbeddingDims: defaults.EmbeddingDims,
	}

	org, ok := orgs[orgID]
	if !ok {
		return resolved
	}
	applyLayer(&resolved, org.Overrides)

	if agentID != "" {
		if agent, ok := org.Agents[agentID]; ok {
			applyLayer(&resolved, agent)
		}
	}
	return resolved
}

func applyLayer(resolved *Resolved, layer Overrides) {
	if layer.Write != nil {
		resolved.Write = *layer.Write
	}
	if layer.Retrieval != nil {
		resolved.Retrieval = *layer.Retrieval
	}
	if layer.Collection != nil {
		resolved.Collection = *layer.Collection
	}
	if layer.Model != nil {
		resolved.Model = *layer.Model
	}
	if layer.EmbeddingDims != nil {
		resolved.EmbeddingDims = *layer.EmbeddingDims
	}
}
