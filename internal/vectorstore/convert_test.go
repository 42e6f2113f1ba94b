package vectorstore

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := map[string]any{
		"org_id":     "acme",
		"deleted":    false,
		"ttl_days":   int64(365),
		"tags":       []string{"billing", "prefs"},
		"created_at": now,
		"updated_at": now,
	}

	out := fromQdrantPayload(toQdrantPayload(in))

	assert.Equal(t, "acme", out["org_id"])
	assert.Equal(t, false, out["deleted"])
	assert.Equal(t, int64(365), out["ttl_days"])
	assert.Equal(t, []string{"billing", "prefs"}, out["tags"])

	gotCreated, ok := out["created_at"].(time.Time)
	require.True(t, ok, "created_at should round-trip as time.Time")
	assert.True(t, now.Equal(gotCreated))
}

func TestBuildFilterAlwaysIncludesTenant(t *testing.T) {
	tenant := Tenant{OrgID: "acme", AgentID: "support-bot"}
	filter := buildFilter(tenant, "", nil, false)

	// org_id, agent_id, and the default deleted==false condition.
	assert.Len(t, filter.Must, 3)
}

func TestBuildFilterIncludeDeletedOmitsDeletedCondition(t *testing.T) {
	tenant := Tenant{OrgID: "acme", AgentID: "support-bot"}
	filter := buildFilter(tenant, "", nil, true)
	assert.Len(t, filter.Must, 2)
}

func TestBuildFilterWithScopeAndTags(t *testing.T) {
	tenant := Tenant{OrgID: "acme", AgentID: "support-bot", UserID: "u1"}
	filter := buildFilter(tenant, "facts", []string{"billing"}, false)
	// org_id, agent_id, user_id, scope, tags, deleted==false
	assert.Len(t, filter.Must, 6)
}

func TestKeywordCondition(t *testing.T) {
	cond := keywordCondition("scope", "facts")
	field, ok := cond.ConditionOneOf.(*qdrant.Condition_Field)
	require.True(t, ok)
	assert.Equal(t, "scope", field.Field.Key)
}
