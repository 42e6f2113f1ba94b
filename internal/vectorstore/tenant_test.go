package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantFromContextMissing(t *testing.T) {
	_, err := TenantFromContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestTenantFromContextInvalid(t *testing.T) {
	ctx := ContextWithTenant(context.Background(), Tenant{OrgID: "acme"})
	_, err := TenantFromContext(ctx)
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestTenantFromContextRoundTrip(t *testing.T) {
	want := Tenant{OrgID: "acme", AgentID: "support-bot", UserID: "u1"}
	ctx := ContextWithTenant(context.Background(), want)
	got, err := TenantFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTenantPayloadFilterOmitsEmptyUser(t *testing.T) {
	tenant := Tenant{OrgID: "acme", AgentID: "support-bot"}
	filter := tenant.payloadFilter()
	assert.Equal(t, "acme", filter["org_id"])
	assert.Equal(t, "support-bot", filter["agent_id"])
	_, hasUser := filter["user_id"]
	assert.False(t, hasUser)
}
