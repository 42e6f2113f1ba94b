package vectorstore

import "errors"

// tenantFields cannot be set by a caller-supplied filter; they are always
// injected from the context Tenant instead.
var tenantFields = map[string]struct{}{
	"org_id":   {},
	"agent_id": {},
	"user_id":  {},
}

// ErrTenantFieldInFilter indicates a caller tried to set a tenant-owned
// field directly instead of going through context.
var ErrTenantFieldInFilter = errors.New("vectorstore: filter cannot set org_id, agent_id, or user_id directly")

// ApplyTenantFilter builds a payload filter map from the tenant's fields
// (org_id, agent_id, and user_id when set) plus scope and tags when given.
// Scope and tags cannot replace a tenant field; the error is always nil.
func ApplyTenantFilter(tenant Tenant, scope string, tags []string) (map[string]any, error) {
	merged := make(map[string]any, len(tenant.payloadFilter())+2)
	for k, v := range tenant.payloadFilter() {
		merged[k] = v
	}
	if scope != "" {
		merged["scope"] = scope
	}
	if len(tags) > 0 {
		merged["tags"] = tags
	}
	return merged, nil
}

// rejectTenantFields fails if a caller-supplied map sets a tenant-owned key.
func rejectTenantFields(m map[string]any) error {
	for k := range m {
		if _, reserved := tenantFields[k]; reserved {
			return ErrTenantFieldInFilter
		}
	}
	return nil
}
