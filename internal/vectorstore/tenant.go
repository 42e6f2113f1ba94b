package vectorstore

import (
	"context"
	"errors"
)

// Tenant isolation errors. The repository fails closed: a missing or
// invalid tenant never degrades to an unfiltered query.
var (
	// ErrMissingTenant is returned when no Tenant is present in context.
	ErrMissingTenant = errors.New("vectorstore: tenant missing from context")

	// ErrInvalidTenant is returned when a Tenant is present but incomplete.
	ErrInvalidTenant = errors.New("vectorstore: org_id and agent_id are required")
)

type tenantContextKey struct{}

// Tenant scopes every repository operation to an organization and agent,
// with an optional user for request-level attribution.
type Tenant struct {
	OrgID   string
	AgentID string
	UserID  string
}

// Validate reports whether the tenant carries the fields every operation
// requires.
func (t Tenant) Validate() error {
	if t.OrgID == "" || t.AgentID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ContextWithTenant attaches a Tenant to ctx.
func ContextWithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts the Tenant attached to ctx. It fails closed:
// a missing or incomplete tenant returns an error rather than a zero value.
func TenantFromContext(ctx context.Context) (Tenant, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return Tenant{}, ErrMissingTenant
	}
	tenant, ok := val.(Tenant)
	if !ok {
		return Tenant{}, ErrMissingTenant
	}
	if err := tenant.Validate(); err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

// payloadFilter returns the must-match conditions this tenant imposes on
// any query: org_id and agent_id always, user_id only when set.
func (t Tenant) payloadFilter() map[string]string {
	filter := map[string]string{
		"org_id":   t.OrgID,
		"agent_id": t.AgentID,
	}
	if t.UserID != "" {
		filter["user_id"] = t.UserID
	}
	return filter
}
