// Package vectorstore is a Qdrant-backed repository for org/agent/user-scoped
// memory records. It owns collection lifecycle (creation with payload
// indexes), point upsert/search/delete, and the recency-decayed reranking
// query used by semantic retrieval.
//
// # Tenancy
//
// Tenant isolation is payload-based, not collection-based: one logical
// collection holds every tenant's records, and every point carries org_id,
// agent_id, and user_id in its payload. Search, SearchWithReranker,
// FindByHash, ListRecent and SearchText take an explicit Tenant, fail
// closed (ErrInvalidTenant) when its OrgID or AgentID is empty, and always
// filter on the tenant's fields; SearchOptions can add scope and tags but
// cannot replace them. Get, GetMany, Delete, DeleteMany, SetPayload and
// SoftDelete address points by ID with no tenant filter, so the caller
// checks the returned payload. ContextWithTenant/TenantFromContext carry a
// Tenant through a context; the repository does not read it from there.
//
//	tenant := vectorstore.Tenant{OrgID: "acme", AgentID: "support-bot"}
//	hits, err := repo.Search(ctx, "memories", tenant, vector, vectorstore.SearchOptions{Limit: 6})
//
// # Reranking
//
// SearchWithReranker is an optional capability layered on top of Search. It
// issues a prefetch-then-formula query that blends cosine score with a
// Gaussian decay over each point's created_at. If the Qdrant server does not
// support formula queries (older server, proto mismatch, any transport
// error on the first attempt), the repository flips an atomic flag to
// unavailable exactly once and permanently falls back to Search plus
// caller-side decay for the remainder of its lifetime. The flag is
// monotone: unknown moves to available or unavailable, never back.
package vectorstore
