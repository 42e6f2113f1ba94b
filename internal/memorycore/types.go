// Package memorycore orchestrates the ingestion and retrieval pipeline for
// the semantic memory service: normalize candidate text, gate it through the
// write policy, derive deterministic identity, embed it, and upsert it into
// the tenant's vector collection; or embed a query and rerank the tenant's
// collection with recency decay.
package memorycore

import (
	"errors"
	"time"
)

// Default values mirrored from the reference configuration so zero-value
// requests behave the way an operator would expect.
const (
	DefaultTTLDays = 365
	DefaultTopK    = 6
)

// Sentinel errors returned by Core operations.
var (
	ErrNotFound      = errors.New("memory not found")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrNoTenant      = errors.New("org_id and agent_id are required")
	ErrInvalidScope  = errors.New("scope is not enabled for this tenant")
)

// Scope identifies the kind of memory a record represents.
type Scope string

// Supported scopes. Additional scopes may be enabled per-tenant through
// WritePolicy.EnabledScopes, but these four are the defaults every fresh
// tenant starts with (see writepolicy.Default).
const (
	ScopePrefs       Scope = "prefs"
	ScopeFacts       Scope = "facts"
	ScopePersona     Scope = "persona"
	ScopeConstraints Scope = "constraints"
)

// Payload is the metadata stored alongside a memory's embedding.
type Payload struct {
	OrgID      string    `json:"org_id"`
	AgentID    string    `json:"agent_id"`
	UserID     string    `json:"user_id"`
	Scope      string    `json:"scope"`
	Tags       []string  `json:"tags,omitempty"`
	Source     string    `json:"source,omitempty"`
	TTLDays    int       `json:"ttl_days"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Deleted    bool      `json:"deleted"`
	Text       string    `json:"text"`
	DedupeHash string    `json:"dedupe_hash,omitempty"`
}

// Record is the full representation of a stored memory, including its
// embedding vector when loaded from or destined for the vector store.
type Record struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Payload Payload   `json:"payload"`
	Vector  []float32 `json:"vector,omitempty"`
}

// Hit is a single scored result from a search operation.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
	Payload Payload `json:"payload"`
}

// ConversationMessage is one turn of a conversation submitted for candidate
// extraction (the "text or messages" union described by AddRequest).
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AddRequest is the payload accepted by Core.Add.
type AddRequest struct {
	UserID   string                 `json:"user_id"`
	Messages []ConversationMessage  `json:"messages,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Scope    string                 `json:"scope,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Source   string                 `json:"source,omitempty"`
	TTLDays  int                    `json:"ttl_days,omitempty"`

	// IdempotencyKey is carried for API parity with the reference service's
	// request model; the core does not currently act on it.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// IterTexts yields every raw candidate text carried by the request: the
// direct text field first (if set), then the content of every message that
// has one.
func (r AddRequest) IterTexts() []string {
	var out []string
	if r.Text != "" {
		out = append(out, r.Text)
	}
	for _, m := range r.Messages {
		if m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

// EffectiveTTLDays returns the request's TTL, or DefaultTTLDays if unset.
func (r AddRequest) EffectiveTTLDays() int {
	if r.TTLDays <= 0 {
		return DefaultTTLDays
	}
	return r.TTLDays
}

// SearchRequest is the payload accepted by Core.Search.
type SearchRequest struct {
	Query string   `json:"query"`
	K     int      `json:"k,omitempty"`
	Scope string   `json:"scope,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// UpdateRequest is a partial patch applied to an existing memory. Nil
// pointers mean "leave this field unchanged".
type UpdateRequest struct {
	Text    *string
	Tags    *[]string
	Scope   *string
	TTLDays *int
	Deleted *bool
}
