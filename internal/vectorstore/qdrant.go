package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/cases"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// textFold is shared by SearchText for Unicode-aware case folding (Turkish
// "İ"/"I" and German "ß" fold correctly under this, unlike strings.ToLower).
var textFold = cases.Fold()

var tracer = otel.Tracer("memoryd.vectorstore.qdrant")

// payloadIndexFields are the keyword/bool/datetime indexes ensureCollection
// creates so tenant and scope filtering, dedup lookup, and recency scroll
// stay index-backed rather than full scans.
var payloadIndexFields = []struct {
	name      string
	fieldType qdrant.FieldType
}{
	{"org_id", qdrant.FieldType_FieldTypeKeyword},
	{"agent_id", qdrant.FieldType_FieldTypeKeyword},
	{"user_id", qdrant.FieldType_FieldTypeKeyword},
	{"scope", qdrant.FieldType_FieldTypeKeyword},
	{"tags", qdrant.FieldType_FieldTypeKeyword},
	{"dedupe_hash", qdrant.FieldType_FieldTypeKeyword},
	{"deleted", qdrant.FieldType_FieldTypeBool},
	{"created_at", qdrant.FieldType_FieldTypeDatetime},
	{"updated_at", qdrant.FieldType_FieldTypeDatetime},
}

// reranker capability states. Monotone: unknown moves to available or
// unavailable, never back, once the store has answered a formula query.
const (
	rerankerUnknown int32 = iota
	rerankerAvailable
	rerankerUnavailable
)

// IsTransientError reports whether a gRPC error is worth retrying.
// Unavailable/DeadlineExceeded/Aborted/ResourceExhausted are transient;
// InvalidArgument/NotFound/PermissionDenied/Unauthenticated are permanent
// and any other code is treated as permanent (fail fast on the unknown).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantRepository is a Repository backed by Qdrant's native gRPC client.
// It never embeds text itself: callers (internal/memorycore) embed via
// internal/embedclient and pass the resulting vector in.
type QdrantRepository struct {
	client *qdrant.Client
	config QdrantConfig

	collections sync.Map // collection name -> vector size (int)

	rerankerState atomic.Int32

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantRepository validates config, dials the Qdrant gRPC endpoint, and
// health-checks it before returning.
func NewQdrantRepository(config QdrantConfig) (*QdrantRepository, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("vectorstore: invalid config: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintln(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant: %w", err)
	}

	repo := &QdrantRepository{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("vectorstore: qdrant health check: %w", err)
	}

	return repo, nil
}

// Close releases the gRPC connection.
func (r *QdrantRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *QdrantRepository) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := r.config.RetryBackoff
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			r.resetCircuitBreaker()
			return nil
		}
		if r.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		r.recordFailure()
		if attempt == r.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, r.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (r *QdrantRepository) recordFailure() {
	r.circuitBreaker.mu.Lock()
	defer r.circuitBreaker.mu.Unlock()
	r.circuitBreaker.failures++
	r.circuitBreaker.lastFail = time.Now()
}

func (r *QdrantRepository) resetCircuitBreaker() {
	r.circuitBreaker.mu.Lock()
	defer r.circuitBreaker.mu.Unlock()
	r.circuitBreaker.failures = 0
}

func (r *QdrantRepository) isCircuitOpen() bool {
	r.circuitBreaker.mu.Lock()
	defer r.circuitBreaker.mu.Unlock()
	if r.circuitBreaker.failures >= r.config.CircuitBreakerThreshold {
		if time.Since(r.circuitBreaker.lastFail) > r.config.CircuitBreakerCooldown {
			r.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// EnsureCollection idempotently creates collection with cosine distance and
// the payload indexes tenant/scope filtering, dedup lookup, and recency
// scroll depend on.
func (r *QdrantRepository) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	if cached, ok := r.collections.Load(collection); ok {
		if cached.(int) != vectorSize {
			return fmt.Errorf("%w: collection %q already configured for dimension %d, got %d", ErrDimensionMismatch, collection, cached.(int), vectorSize)
		}
		return nil
	}

	exists := false
	err := r.retryOperation(ctx, "get_collection_info", func() error {
		_, err := r.client.GetCollectionInfo(ctx, collection)
		if err == nil {
			exists = true
			return nil
		}
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if !exists {
		err := r.retryOperation(ctx, "create_collection", func() error {
			return r.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(vectorSize),
					Distance: r.config.Distance,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("vectorstore: create collection %q: %w", collection, err)
		}
	}

	for _, field := range payloadIndexFields {
		err := r.retryOperation(ctx, "create_payload_index", func() error {
			_, err := r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: collection,
				FieldName:      field.name,
				FieldType:      field.fieldType.Enum(),
			})
			if err != nil && strings.Contains(err.Error(), "already exists") {
				return nil
			}
			return err
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("vectorstore: create index on %s: %w", field.name, err)
		}
	}

	r.collections.Store(collection, vectorSize)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes points, defaulting payload "updated_at" to now if absent.
func (r *QdrantRepository) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := cloneAny(p.Payload)
		if _, ok := payload["updated_at"]; !ok {
			payload["updated_at"] = time.Now().UTC()
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(payload),
		}
	}

	err := r.retryOperation(ctx, "upsert", func() error {
		_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         structs,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("vectorstore: upsert into %q: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs a cosine-similarity query scoped to tenant, scope, and tags.
func (r *QdrantRepository) Search(ctx context.Context, collection string, tenant Tenant, vector []float32, opts SearchOptions) ([]ScoredPoint, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.Search")
	defer span.End()

	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	filter := buildFilter(tenant, opts.Scope, opts.Tags, opts.IncludeDeleted)

	var results []*qdrant.ScoredPoint
	err := r.retryOperation(ctx, "search", func() error {
		res, err := r.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vectorstore: search %q: %w", collection, err)
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return scoredPointsFromQdrant(results), nil
}

// SearchWithReranker issues a prefetch-then-formula query blending cosine
// score with a Gaussian decay over created_at. On first failure it flips
// the capability flag to unavailable and falls back to Search permanently.
func (r *QdrantRepository) SearchWithReranker(ctx context.Context, collection string, tenant Tenant, vector []float32, opts SearchOptions, halfLife time.Duration) ([]ScoredPoint, bool, error) {
	if r.rerankerState.Load() == rerankerUnavailable {
		hits, err := r.Search(ctx, collection, tenant, vector, opts)
		return hits, false, err
	}

	ctx, span := tracer.Start(ctx, "QdrantRepository.SearchWithReranker")
	defer span.End()

	if err := tenant.Validate(); err != nil {
		return nil, false, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	prefetchLimit := limit * 4
	if prefetchLimit < limit {
		prefetchLimit = limit
	}
	if prefetchLimit > 128 {
		prefetchLimit = 128
	}

	filter := buildFilter(tenant, opts.Scope, opts.Tags, opts.IncludeDeleted)
	scaleSeconds := halfLife.Seconds() / 0.693147 // gauss_decay scale parameter for a half-life-shaped falloff

	var results []*qdrant.ScoredPoint
	err := r.retryOperation(ctx, "search_reranked", func() error {
		res, err := r.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Prefetch: []*qdrant.PrefetchQuery{{
				Query:  qdrant.NewQuery(vector...),
				Filter: filter,
				Limit:  qdrant.PtrOf(uint64(prefetchLimit)),
			}},
			Query:       rerankFormulaQuery(scaleSeconds),
			Filter:      filter,
			Limit:       qdrant.PtrOf(uint64(limit)),
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		r.rerankerState.CompareAndSwap(rerankerUnknown, rerankerUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		hits, fallbackErr := r.Search(ctx, collection, tenant, vector, opts)
		return hits, false, fallbackErr
	}

	r.rerankerState.CompareAndSwap(rerankerUnknown, rerankerAvailable)
	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return scoredPointsFromQdrant(results), true, nil
}

// Get retrieves a point by ID with no tenant filter.
func (r *QdrantRepository) Get(ctx context.Context, collection, id string) (*Point, error) {
	points, err := r.GetMany(ctx, collection, []string{id})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}
	return &points[0], nil
}

// GetMany retrieves multiple points by ID, omitting any that are absent.
func (r *QdrantRepository) GetMany(ctx context.Context, collection string, ids []string) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.GetMany")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	var retrieved []*qdrant.RetrievedPoint
	err := r.retryOperation(ctx, "get", func() error {
		res, err := r.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		retrieved = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("vectorstore: get from %q: %w", collection, err)
	}

	points := make([]Point, len(retrieved))
	for i, p := range retrieved {
		points[i] = pointFromQdrant(p)
	}
	span.SetStatus(codes.Ok, "success")
	return points, nil
}

// Delete hard-deletes a single point.
func (r *QdrantRepository) Delete(ctx context.Context, collection, id string) error {
	return r.DeleteMany(ctx, collection, []string{id})
}

// DeleteMany hard-deletes points by ID; absent IDs are no-ops.
func (r *QdrantRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.DeleteMany")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	err := r.retryOperation(ctx, "delete", func() error {
		_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("vectorstore: delete from %q: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// SetPayload overwrites the payload on a point.
func (r *QdrantRepository) SetPayload(ctx context.Context, collection, id string, payload map[string]any) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.SetPayload")
	defer span.End()

	err := r.retryOperation(ctx, "set_payload", func() error {
		_, err := r.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Payload:        toQdrantPayload(payload),
			PointsSelector: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("vectorstore: set payload on %q/%s: %w", collection, id, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// SoftDelete marks a point deleted in place. Returns false if absent.
func (r *QdrantRepository) SoftDelete(ctx context.Context, collection, id string) (bool, error) {
	point, err := r.Get(ctx, collection, id)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}

	payload := cloneAny(point.Payload)
	payload["deleted"] = true
	payload["updated_at"] = time.Now().UTC()
	if err := r.SetPayload(ctx, collection, id, payload); err != nil {
		return false, err
	}
	return true, nil
}

// FindByHash returns the single point matching the tenant's dedupe hash.
func (r *QdrantRepository) FindByHash(ctx context.Context, collection string, tenant Tenant, hash string) (*Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.FindByHash")
	defer span.End()

	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	filter := buildFilter(tenant, "", nil, true)
	filter.Must = append(filter.Must, &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   "dedupe_hash",
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: hash}},
			},
		},
	})

	var points []*qdrant.RetrievedPoint
	err := r.retryOperation(ctx, "scroll_by_hash", func() error {
		res, _, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(1)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("vectorstore: find by hash in %q: %w", collection, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	point := pointFromQdrant(points[0])
	span.SetStatus(codes.Ok, "success")
	return &point, nil
}

// ListRecent scrolls the tenant's points ordered by updated_at descending.
func (r *QdrantRepository) ListRecent(ctx context.Context, collection string, tenant Tenant, limit int, includeDeleted bool) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.ListRecent")
	defer span.End()

	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	filter := buildFilter(tenant, "", nil, includeDeleted)

	var points []*qdrant.RetrievedPoint
	err := r.retryOperation(ctx, "scroll_recent", func() error {
		res, _, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
			OrderBy: &qdrant.OrderBy{
				Key:       "updated_at",
				Direction: qdrant.Direction_Desc.Enum(),
			},
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("vectorstore: scroll recent in %q: %w", collection, err)
	}

	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = pointFromQdrant(p)
	}
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// scrollPageSize is the page size used by SearchText's manual pagination.
const scrollPageSize = 100

// DefaultListLimit is used by ListRecent when the caller passes limit<=0.
const DefaultListLimit = 50

// SearchText performs a page-scrolled, lowercased substring match over
// payload text. O(N) within the tenant by design.
func (r *QdrantRepository) SearchText(ctx context.Context, collection string, tenant Tenant, query string, limit int, includeDeleted bool) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.SearchText")
	defer span.End()

	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	needle := textFold.String(query)
	filter := buildFilter(tenant, "", nil, includeDeleted)

	var matches []Point
	var offset *qdrant.PointId
	for len(matches) < limit {
		var page []*qdrant.RetrievedPoint
		var next *qdrant.PointId
		err := r.retryOperation(ctx, "scroll_search_text", func() error {
			res, nextOffset, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: collection,
				Filter:         filter,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			if err != nil {
				return err
			}
			page = res
			next = nextOffset
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("vectorstore: scroll search_text in %q: %w", collection, err)
		}

		for _, p := range page {
			point := pointFromQdrant(p)
			if text, ok := point.Payload["text"].(string); ok && strings.Contains(textFold.String(text), needle) {
				matches = append(matches, point)
				if len(matches) >= limit {
					break
				}
			}
		}

		if next == nil || len(page) == 0 {
			break
		}
		offset = next
	}

	span.SetAttributes(attribute.Int("matches", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

var _ Repository = (*QdrantRepository)(nil)
