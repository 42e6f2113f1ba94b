package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransientError(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(codes.DeadlineExceeded, "timeout")))
	assert.False(t, IsTransientError(status.Error(codes.NotFound, "missing")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("not a grpc status")))
}

func newTestRepository() *QdrantRepository {
	repo := &QdrantRepository{config: QdrantConfig{Host: "localhost", Port: 6334}}
	repo.config.ApplyDefaults()
	repo.config.RetryBackoff = time.Millisecond
	return repo
}

func TestRetryOperationSucceedsAfterTransientFailures(t *testing.T) {
	repo := newTestRepository()
	attempts := 0
	err := repo.retryOperation(context.Background(), "test_op", func() error {
		attempts++
		if attempts < 2 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryOperationStopsOnPermanentError(t *testing.T) {
	repo := newTestRepository()
	attempts := 0
	err := repo.retryOperation(context.Background(), "test_op", func() error {
		attempts++
		return status.Error(codes.NotFound, "missing")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	repo := newTestRepository()
	repo.config.CircuitBreakerThreshold = 2
	repo.config.MaxRetries = 0

	for i := 0; i < 2; i++ {
		_ = repo.retryOperation(context.Background(), "test_op", func() error {
			return status.Error(codes.Unavailable, "down")
		})
	}

	assert.True(t, repo.isCircuitOpen())

	err := repo.retryOperation(context.Background(), "test_op", func() error {
		return status.Error(codes.Unavailable, "down")
	})
	assert.ErrorContains(t, err, "circuit breaker open")
}

func TestCircuitBreakerResetsAfterCooldown(t *testing.T) {
	repo := newTestRepository()
	repo.config.CircuitBreakerThreshold = 1
	repo.config.CircuitBreakerCooldown = time.Millisecond
	repo.recordFailure()
	assert.True(t, repo.isCircuitOpen())
	time.Sleep(5 * time.Millisecond)
	assert.False(t, repo.isCircuitOpen())
}

// TestQdrantRepositoryIntegration exercises the repository against a live
// Qdrant instance on localhost:6334. It is skipped unless one is reachable,
// following the same connectivity-probe pattern used throughout this
// package's tests.
func TestQdrantRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	repo, err := NewQdrantRepository(QdrantConfig{Host: "localhost", Port: 6334})
	if err != nil {
		t.Skipf("qdrant not available: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	collection := "memoryd_vectorstore_integration_test"
	require.NoError(t, repo.EnsureCollection(ctx, collection, 4))

	tenant := Tenant{OrgID: "acme", AgentID: "support-bot"}
	now := time.Now().UTC()
	point := Point{
		ID:     "3f6e4b9a-3b8e-4c2b-8b1a-1e2d3c4b5a6f",
		Vector: []float32{0.1, 0.2, 0.3, 0.4},
		Payload: map[string]any{
			"org_id":     tenant.OrgID,
			"agent_id":   tenant.AgentID,
			"scope":      "facts",
			"text":       "prefers dark mode",
			"deleted":    false,
			"created_at": now,
			"updated_at": now,
		},
	}
	require.NoError(t, repo.Upsert(ctx, collection, []Point{point}))

	hits, err := repo.Search(ctx, collection, tenant, point.Vector, SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, point.ID, hits[0].ID)

	require.NoError(t, repo.Delete(ctx, collection, point.ID))
}
