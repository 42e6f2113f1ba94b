package memorycore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/fyrsmithlabs/memoryd/internal/writepolicy"
)

var tracer = otel.Tracer("memoryd.memorycore")

// EmbedClient turns text into vectors. Satisfied by *embedclient.Client.
type EmbedClient interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NormalizeClient rewrites raw conversational text into durable memory
// statements. Satisfied by *normalizeclient.Client. Normalize never returns
// an error: on failure it degrades to returning its input unchanged, which
// Core relies on to keep add() from failing just because the LLM is down.
type NormalizeClient interface {
	Normalize(ctx context.Context, texts []string, model string) []string
}

// Core orchestrates the ingest and retrieval pipeline: normalize, gate
// through write policy, derive deterministic identity, embed, and upsert;
// or embed a query and rerank with recency decay.
type Core struct {
	embed     EmbedClient
	normalize NormalizeClient
	store     vectorstore.Repository
	config    Config
	logger    *zap.Logger

	ensured sync.Map // collection+"/"+vectorSize -> struct{}
}

// New builds a Core. logger may be nil, in which case a no-op logger is used.
func New(embed EmbedClient, normalize NormalizeClient, store vectorstore.Repository, config Config, logger *zap.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		embed:     embed,
		normalize: normalize,
		store:     store,
		config:    config,
		logger:    logger.Named("memorycore"),
	}
}

// Startup ensures the deployment's default collection exists before the
// service starts accepting traffic.
func (c *Core) Startup(ctx context.Context) error {
	return c.ensureRepository(ctx, c.config.Defaults.Collection)
}

// Shutdown releases the underlying store connection. The embed and
// normalize clients are plain HTTP clients with no persistent connection to
// tear down.
func (c *Core) Shutdown() error {
	return c.store.Close()
}

func (c *Core) ensureRepository(ctx context.Context, policy CollectionPolicy) error {
	key := policy.Name + "/" + strconv.Itoa(policy.VectorSize)
	if _, ok := c.ensured.Load(key); ok {
		return nil
	}
	if err := c.store.EnsureCollection(ctx, policy.Name, policy.VectorSize); err != nil {
		return err
	}
	c.ensured.Store(key, struct{}{})
	return nil
}

// Add normalizes, gates, embeds, and upserts candidate memories extracted
// from the request. Deduplicated candidates resolve to their existing
// record instead of writing a new point. Returns an empty slice (not an
// error) when every candidate text is blank or filtered out by policy.
func (c *Core) Add(ctx context.Context, orgID, agentID string, req AddRequest) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "memorycore.Add", trace.WithAttributes(
		attribute.String("org_id", orgID), attribute.String("agent_id", agentID),
	))
	defer span.End()

	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection
	if err := c.ensureRepository(ctx, collection); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	writePolicy := resolved.Write
	engine := writepolicy.New(writePolicy)

	scope := req.Scope
	if scope == "" {
		scope = string(ScopeFacts)
	}

	rawTexts := req.IterTexts()
	candidates := make([]string, 0, len(rawTexts))
	for _, text := range rawTexts {
		if t := strings.TrimSpace(text); t != "" {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	modelName := resolved.Model
	if writePolicy.NormalizeWithLLM {
		candidates = c.normalize.Normalize(ctx, candidates, modelName)
	}

	texts := make([]string, 0, len(candidates))
	for _, text := range candidates {
		if engine.ShouldPersist(text, scope) {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := engine.MaxBatch()
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := c.embed.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	now := time.Now().UTC()
	var newPoints []vectorstore.Point
	var newRecords []Record
	var allRecords []Record

	for i, text := range texts {
		memoryID := makeID(orgID, agentID, text)
		dedupeHash := computeHash(orgID, agentID, req.UserID, text)

		if writePolicy.Deduplicate {
			tenant := vectorstore.Tenant{OrgID: orgID, AgentID: agentID}
			existing, err := c.store.FindByHash(ctx, collection.Name, tenant, dedupeHash)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			if existing != nil {
				allRecords = append(allRecords, recordFromPoint(*existing))
				continue
			}
		}

		payload := Payload{
			OrgID:      orgID,
			AgentID:    agentID,
			UserID:     req.UserID,
			Scope:      scope,
			Tags:       req.Tags,
			Source:     req.Source,
			TTLDays:    req.EffectiveTTLDays(),
			CreatedAt:  now,
			UpdatedAt:  now,
			Text:       text,
			DedupeHash: dedupeHash,
		}
		record := Record{ID: memoryID, Text: text, Payload: payload, Vector: vectors[i]}
		newRecords = append(newRecords, record)
		allRecords = append(allRecords, record)
		newPoints = append(newPoints, pointFromRecord(record))
	}

	if len(newPoints) > 0 {
		if err := c.store.Upsert(ctx, collection.Name, newPoints); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	return allRecords, nil
}

// Search embeds the query, retrieves the tenant's nearest points, and
// applies recency decay (store-side if the reranker is available,
// caller-side otherwise), returning hits in descending score order.
func (c *Core) Search(ctx context.Context, orgID, agentID string, req SearchRequest) ([]Hit, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, span := tracer.Start(ctx, "memorycore.Search", trace.WithAttributes(
		attribute.String("org_id", orgID), attribute.String("agent_id", agentID),
	))
	defer span.End()

	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection
	if err := c.ensureRepository(ctx, collection); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	topK := req.K
	if topK <= 0 {
		topK = resolved.Retrieval.TopK
	}
	halfLifeDays := resolved.Retrieval.DecayHalfLifeDays
	if halfLifeDays <= 0 {
		halfLifeDays = defaultHalfLifeDays
	}

	vector, err := c.embed.EmbedQuery(ctx, req.Query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tenant := vectorstore.Tenant{OrgID: orgID, AgentID: agentID}
	opts := vectorstore.SearchOptions{Limit: topK, Scope: req.Scope, Tags: req.Tags}

	scored, usedStoreDecay, err := c.store.SearchWithReranker(ctx, collection.Name, tenant, vector, opts, time.Duration(halfLifeDays)*24*time.Hour)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		payload := payloadFromMap(sp.Payload)
		score := sp.Score
		if !usedStoreDecay {
			score = applyTimeDecay(score, payload.CreatedAt, now, halfLifeDays)
		}
		hits = append(hits, Hit{ID: sp.ID, Score: score, Text: payload.Text, Payload: payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Update applies a partial patch to an existing memory. Re-embeds and
// re-upserts when the text changes; otherwise only the payload is patched.
// Returns ErrNotFound if the memory doesn't exist or belongs to a different
// tenant.
func (c *Core) Update(ctx context.Context, orgID, agentID, memoryID string, req UpdateRequest) (Record, error) {
	ctx, span := tracer.Start(ctx, "memorycore.Update")
	defer span.End()

	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection

	point, err := c.store.Get(ctx, collection.Name, memoryID)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	record := recordFromPoint(*point)
	if record.Payload.OrgID != orgID || record.Payload.AgentID != agentID {
		return Record{}, ErrNotFound
	}

	textChanged := req.Text != nil && *req.Text != "" && *req.Text != record.Text
	if textChanged {
		record.Text = *req.Text
	}
	if req.Tags != nil {
		record.Payload.Tags = *req.Tags
	}
	if req.Scope != nil {
		record.Payload.Scope = *req.Scope
	}
	if req.TTLDays != nil {
		record.Payload.TTLDays = *req.TTLDays
	}
	if req.Deleted != nil {
		record.Payload.Deleted = *req.Deleted
	}
	record.Payload.UpdatedAt = time.Now().UTC()
	record.Payload.Text = record.Text

	if textChanged {
		vector, err := c.embed.EmbedQuery(ctx, record.Text)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Record{}, err
		}
		record.Vector = vector
		if err := c.store.Upsert(ctx, collection.Name, []vectorstore.Point{pointFromRecord(record)}); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Record{}, err
		}
		return record, nil
	}
	if err := c.store.SetPayload(ctx, collection.Name, record.ID, payloadToMap(record.Payload)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	return record, nil
}

// Delete removes a memory. Soft delete (the default) flips its deleted
// flag; hard delete removes the point outright. Returns ErrNotFound if the
// memory doesn't exist or belongs to a different tenant.
func (c *Core) Delete(ctx context.Context, orgID, agentID, memoryID string, hard bool) error {
	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection

	point, err := c.store.Get(ctx, collection.Name, memoryID)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	payload := payloadFromMap(point.Payload)
	if payload.OrgID != orgID || payload.AgentID != agentID {
		return ErrNotFound
	}
	if hard {
		return c.store.Delete(ctx, collection.Name, memoryID)
	}
	_, err = c.store.SoftDelete(ctx, collection.Name, memoryID)
	return err
}

// List returns the tenant's most recently updated memories.
func (c *Core) List(ctx context.Context, orgID, agentID string, limit int, includeDeleted bool) ([]Record, error) {
	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection
	tenant := vectorstore.Tenant{OrgID: orgID, AgentID: agentID}

	points, err := c.store.ListRecent(ctx, collection.Name, tenant, limit, includeDeleted)
	if err != nil {
		return nil, err
	}
	return recordsFromPoints(points), nil
}

// GetMany retrieves multiple memories by ID, silently dropping any that are
// absent or belong to a different tenant.
func (c *Core) GetMany(ctx context.Context, orgID, agentID string, memoryIDs []string) ([]Record, error) {
	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection

	points, err := c.store.GetMany(ctx, collection.Name, memoryIDs)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(points))
	for _, p := range points {
		r := recordFromPoint(p)
		if r.Payload.OrgID == orgID && r.Payload.AgentID == agentID {
			records = append(records, r)
		}
	}
	return records, nil
}

// DeleteMany deletes multiple memories by ID. Both hard and soft delete
// fetch the records first and act only on the ones owned by this tenant,
// silently skipping any ID that is absent or belongs to a different org/agent.
func (c *Core) DeleteMany(ctx context.Context, orgID, agentID string, memoryIDs []string, hard bool) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection

	points, err := c.store.GetMany(ctx, collection.Name, memoryIDs)
	if err != nil {
		return err
	}

	if hard {
		var owned []string
		for _, p := range points {
			payload := payloadFromMap(p.Payload)
			if payload.OrgID == orgID && payload.AgentID == agentID {
				owned = append(owned, p.ID)
			}
		}
		if len(owned) == 0 {
			return nil
		}
		return c.store.DeleteMany(ctx, collection.Name, owned)
	}

	for _, p := range points {
		payload := payloadFromMap(p.Payload)
		if payload.OrgID != orgID || payload.AgentID != agentID {
			continue
		}
		payload.Deleted = true
		payload.UpdatedAt = time.Now().UTC()
		if err := c.store.SetPayload(ctx, collection.Name, p.ID, payloadToMap(payload)); err != nil {
			return err
		}
	}
	return nil
}

// SearchText performs a literal substring search over the tenant's memory
// text, bypassing embeddings entirely. Intended for small tenants and admin
// lookups; see vectorstore.Repository.SearchText for the O(N) caveat.
func (c *Core) SearchText(ctx context.Context, orgID, agentID, query string, limit int, includeDeleted bool) ([]Record, error) {
	resolved := c.config.resolve(orgID, agentID)
	collection := resolved.Collection
	tenant := vectorstore.Tenant{OrgID: orgID, AgentID: agentID}

	points, err := c.store.SearchText(ctx, collection.Name, tenant, query, limit, includeDeleted)
	if err != nil {
		return nil, err
	}
	return recordsFromPoints(points), nil
}
