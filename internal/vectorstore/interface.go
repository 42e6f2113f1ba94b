// Package vectorstore defines the repository abstraction for vector
// storage operations.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Repository operations.
var (
	// ErrNotFound is returned when a point does not exist.
	ErrNotFound = errors.New("vectorstore: point not found")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("vectorstore: collection not found")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("vectorstore: invalid collection name")

	// ErrDimensionMismatch indicates a vector's length does not match the
	// collection's configured dimension.
	ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch with collection")
)

// Point is a single vector record: an ID, its embedding, and an arbitrary
// payload. Payload keys follow the memory record schema (org_id, agent_id,
// user_id, scope, tags, source, ttl_days, created_at, updated_at, deleted,
// text, dedupe_hash) but the repository treats them opaquely.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point annotated with a similarity or rerank score.
type ScoredPoint struct {
	Point
	Score float64
}

// SearchOptions narrows a Search or SearchWithReranker call beyond the
// mandatory tenant filter.
type SearchOptions struct {
	Limit          int
	Scope          string
	Tags           []string
	IncludeDeleted bool
}

// Repository is the vector storage contract consumed by the memory core.
// Every method that accepts a Tenant enforces payload-based tenant
// isolation; every method takes a context so the caller's deadline
// propagates to the underlying transport.
type Repository interface {
	// EnsureCollection idempotently creates the collection with the given
	// vector dimension and the payload indexes the core relies on for
	// tenant-scoped filtering.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// Upsert writes points, setting payload "updated_at" to now if absent.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs a cosine-similarity query scoped to tenant, optional
	// scope, and optional tags, returning up to Limit hits in descending
	// score order.
	Search(ctx context.Context, collection string, tenant Tenant, vector []float32, opts SearchOptions) ([]ScoredPoint, error)

	// SearchWithReranker performs a prefetch-then-formula query that blends
	// cosine score with recency decay computed inside the store. The bool
	// result reports whether the store-side reranker was used; when false,
	// the caller must apply its own decay (Search answered this call; once
	// the first formula query has failed, every later call uses Search).
	SearchWithReranker(ctx context.Context, collection string, tenant Tenant, vector []float32, opts SearchOptions, halfLife time.Duration) ([]ScoredPoint, bool, error)

	// Get retrieves a point by ID with no tenant filter; callers that need
	// tenant scoping must check the returned payload themselves (the core
	// uses this for update/delete tenancy checks before mutating).
	Get(ctx context.Context, collection, id string) (*Point, error)

	// GetMany retrieves multiple points by ID, omitting any that are absent.
	GetMany(ctx context.Context, collection string, ids []string) ([]Point, error)

	// Delete hard-deletes a single point by ID.
	Delete(ctx context.Context, collection, id string) error

	// DeleteMany hard-deletes points by ID; absent IDs are no-ops.
	DeleteMany(ctx context.Context, collection string, ids []string) error

	// SetPayload overwrites the payload on the given point.
	SetPayload(ctx context.Context, collection, id string, payload map[string]any) error

	// SoftDelete marks a point deleted in place (deleted=true, updated_at
	// refreshed). Returns false if the point does not exist.
	SoftDelete(ctx context.Context, collection, id string) (bool, error)

	// FindByHash returns the single point matching the tenant's dedupe hash,
	// or nil if none exists.
	FindByHash(ctx context.Context, collection string, tenant Tenant, hash string) (*Point, error)

	// ListRecent scrolls the tenant's points ordered by updated_at
	// descending when the store supports ordered scroll.
	ListRecent(ctx context.Context, collection string, tenant Tenant, limit int, includeDeleted bool) ([]Point, error)

	// SearchText performs a page-scrolled, lowercased substring match over
	// payload text within the tenant's scope. O(N) by design; intended for
	// small tenants and admin lookups only.
	SearchText(ctx context.Context, collection string, tenant Tenant, query string, limit int, includeDeleted bool) ([]Point, error)

	// Close releases the repository's underlying connection.
	Close() error
}
