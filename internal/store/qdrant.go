// Package store owns the two vector collections behind retrieval: the
// permanent knowledge base and the per-conversation session store. Both sit
// in Qdrant behind the same operations; the session collection is always
// filtered by conversation id on read and purged wholesale when its owning
// conversation is deleted.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/rag"
)

const (
	// PermanentCollection holds the administrative knowledge base.
	PermanentCollection = "knowledge_permanent"
	// SessionCollection holds per-conversation uploads.
	SessionCollection = "knowledge_session"

	// upsertBatchSize bounds a single Upsert gRPC call.
	upsertBatchSize = 100

	// maxAttempts bounds retries of backend calls: one initial call plus
	// two retries.
	maxAttempts = 3
)

// Config holds Qdrant connection settings.
type Config struct {
	Host      string
	Port      int
	Dimension int
	Logger    *zap.Logger
}

// Store wraps the Qdrant client with collection lifecycle management.
// Both collections use cosine distance and the same embedding dimension, so
// scores are comparable within a collection but still never fused across
// collections (ranking downstream is by tier).
type Store struct {
	client    *qdrant.Client
	writer    pointsWriter
	dimension int
	logger    *zap.Logger
}

// pointsWriter is the mutation path Upsert goes through, narrowed from the
// full client so sub-batch failure handling is testable without a backend.
type pointsWriter interface {
	upsertBatch(ctx context.Context, collection string, points []*qdrant.PointStruct) error
	deleteIDs(ctx context.Context, collection string, ids []string) error
}

// New creates a Store and verifies the backend is reachable, retrying the
// health check with exponential backoff before failing fast.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Store{
		client:    client,
		writer:    &grpcWriter{client: client},
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: qdrant unreachable at %s:%d: %v",
			rag.ErrStoreRead, cfg.Host, cfg.Port, err)
	}

	return s, nil
}

func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against the backend.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the backend connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollections creates both collections and their payload indexes if
// missing. Idempotent.
func (s *Store) EnsureCollections(ctx context.Context) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", rag.ErrStoreRead, err)
	}

	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, name := range []string{PermanentCollection, SessionCollection} {
		if have[name] {
			continue
		}
		if err := s.createCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createCollection(ctx context.Context, name string) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", rag.ErrStoreWrite, name, err)
	}

	// Filterable fields. Without these indexes scoped queries degrade to
	// full scans.
	indexes := []struct {
		field string
		kind  qdrant.FieldType
	}{
		{"source", qdrant.FieldType_FieldTypeKeyword},
		{"conversation_id", qdrant.FieldType_FieldTypeKeyword},
		{"chunk_index", qdrant.FieldType_FieldTypeInteger},
		{"text", qdrant.FieldType_FieldTypeText},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil {
			return fmt.Errorf("%w: create index %s on %s: %v", rag.ErrStoreWrite, idx.field, name, err)
		}
	}

	s.logger.Info("created collection", zap.String("collection", name), zap.Int("dimension", s.dimension))
	return nil
}

// Upsert inserts or replaces chunks by id. All chunks of one call must share
// a scope. The call is all-or-nothing: a failed sub-batch triggers deletion
// of the points this call already wrote (best effort, logged on failure),
// and the returned StoreWriteError names every id of the call.
func (s *Store) Upsert(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return rag.NewStoreWriteError(chunkIDs(chunks),
			fmt.Errorf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}

	scope := chunks[0].Scope
	for i, c := range chunks {
		if c.Scope != scope {
			return rag.NewStoreWriteError(chunkIDs(chunks),
				fmt.Errorf("chunk %d has scope %s, batch scope is %s", i, c.Scope, scope))
		}
		if len(vectors[i]) != s.dimension {
			return rag.NewStoreWriteError(chunkIDs(chunks),
				fmt.Errorf("chunk %s has %d dimensions, collection expects %d",
					c.ID, len(vectors[i]), s.dimension))
		}
	}

	collection := s.collection(scope)
	written := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunks[i].ID),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(chunkPayload(chunks[i])),
			})
		}

		if err := s.writer.upsertBatch(ctx, collection, points); err != nil {
			// Undo the sub-batches this call already wrote so a partially
			// persisted document never lingers behind the error.
			if len(written) > 0 {
				if delErr := s.writer.deleteIDs(ctx, collection, written); delErr != nil {
					s.logger.Error("rollback of partial upsert failed",
						zap.String("collection", collection),
						zap.Int("points", len(written)),
						zap.Error(delErr))
				}
			}
			return rag.NewStoreWriteError(chunkIDs(chunks), err)
		}
		for i := start; i < end; i++ {
			written = append(written, chunks[i].ID)
		}
	}
	return nil
}

// grpcWriter is the client-backed pointsWriter.
type grpcWriter struct {
	client *qdrant.Client
}

func (w *grpcWriter) upsertBatch(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	operation := func() error {
		_, err := w.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx))
}

func (w *grpcWriter) deleteIDs(ctx context.Context, collection string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := w.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// QuerySemantic runs vector similarity search within a scope and returns
// results ordered by descending score. The Scope type makes the session
// conversation filter impossible to omit: a Session scope always carries its
// conversation id, and Permanent is never filtered.
func (s *Store) QuerySemantic(ctx context.Context, scope rag.Scope, vector []float32, topK int) ([]rag.RetrievalResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection expects %d",
			rag.ErrStoreRead, len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	collection := s.collection(scope)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         s.scopeFilter(scope),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: semantic query on %s: %v", rag.ErrStoreRead, collection, err)
	}

	results := make([]rag.RetrievalResult, 0, len(points))
	for _, p := range points {
		results = append(results, rag.RetrievalResult{
			Chunk:      chunkFromPayload(p.Id.GetUuid(), p.Payload, scope),
			Score:      float64(p.Score),
			Collection: collection,
		})
	}
	return results, nil
}

// QueryExact matches value literally against stored chunk text, bypassing
// vector similarity. Every hit carries the fixed score 1.0: a literal
// identifier match is a stronger signal than any approximate similarity.
func (s *Store) QueryExact(ctx context.Context, scope rag.Scope, value string) ([]rag.RetrievalResult, error) {
	if value == "" {
		return nil, nil
	}

	collection := s.collection(scope)
	filter := s.scopeFilter(scope)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Must = append(filter.Must, qdrant.NewMatchText("text", value))

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(256)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: exact query on %s: %v", rag.ErrStoreRead, collection, err)
	}

	results := make([]rag.RetrievalResult, 0, len(points))
	for _, p := range points {
		results = append(results, rag.RetrievalResult{
			Chunk:      chunkFromPayload(p.Id.GetUuid(), p.Payload, scope),
			Score:      1.0,
			Collection: collection,
		})
	}
	return results, nil
}

// GetNeighbors returns chunks whose chunk_index lies within ±radius of the
// anchor chunk's index, same source and scope, ordered by chunk_index.
// A missing anchor yields an empty result, not an error: neighbor expansion
// is best-effort context restoration.
func (s *Store) GetNeighbors(ctx context.Context, scope rag.Scope, chunkID string, radius int) ([]rag.Chunk, error) {
	if radius <= 0 {
		return nil, nil
	}

	collection := s.collection(scope)
	anchors, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(chunkID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get anchor %s: %v", rag.ErrStoreRead, chunkID, err)
	}
	if len(anchors) == 0 {
		return nil, nil
	}

	anchor := chunkFromPayload(chunkID, anchors[0].Payload, scope)
	lo := anchor.ChunkIndex - radius
	if lo < 0 {
		lo = 0
	}
	hi := anchor.ChunkIndex + radius

	filter := s.scopeFilter(scope)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Must = append(filter.Must,
		qdrant.NewMatch("source", anchor.Source),
		qdrant.NewRange("chunk_index", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(lo)),
			Lte: qdrant.PtrOf(float64(hi)),
		}),
	)

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(2*radius + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: neighbor scroll for %s: %v", rag.ErrStoreRead, chunkID, err)
	}

	neighbors := make([]rag.Chunk, 0, len(points))
	for _, p := range points {
		neighbors = append(neighbors, chunkFromPayload(p.Id.GetUuid(), p.Payload, scope))
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].ChunkIndex < neighbors[j].ChunkIndex
	})
	return neighbors, nil
}

// DeleteScope purges every chunk in the scope. Deleting a scope with zero
// matching chunks is a no-op, not an error. For the permanent scope this
// clears and recreates the whole knowledge-base collection (administrative
// re-ingestion); for a session scope it deletes by conversation filter.
func (s *Store) DeleteScope(ctx context.Context, scope rag.Scope) error {
	if !scope.IsSession() {
		if err := s.client.DeleteCollection(ctx, PermanentCollection); err != nil {
			return fmt.Errorf("%w: drop %s: %v", rag.ErrStoreWrite, PermanentCollection, err)
		}
		return s.createCollection(ctx, PermanentCollection)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: SessionCollection,
		Points:         qdrant.NewPointsSelectorFilter(s.scopeFilter(scope)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: delete scope %s: %v", rag.ErrStoreWrite, scope, err)
	}
	s.logger.Info("purged scope", zap.String("scope", scope.String()))
	return nil
}

// DeleteSource deletes only the chunks of one document within a scope. Used
// by ingestion rollback so one failed upload does not wipe a whole
// conversation's context.
func (s *Store) DeleteSource(ctx context.Context, scope rag.Scope, source string) error {
	filter := s.scopeFilter(scope)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Must = append(filter.Must, qdrant.NewMatch("source", source))

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection(scope),
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: delete source %s in %s: %v", rag.ErrStoreWrite, source, scope, err)
	}
	return nil
}

// CollectionInfo holds collection statistics.
type CollectionInfo struct {
	PointsCount uint64
}

// Info returns point counts for a scope's collection.
func (s *Store) Info(ctx context.Context, scope rag.Scope) (*CollectionInfo, error) {
	collection, err := s.client.GetCollectionInfo(ctx, s.collection(scope))
	if err != nil {
		return nil, fmt.Errorf("%w: collection info: %v", rag.ErrStoreRead, err)
	}
	return &CollectionInfo{PointsCount: collection.GetPointsCount()}, nil
}

func (s *Store) collection(scope rag.Scope) string {
	if scope.IsSession() {
		return SessionCollection
	}
	return PermanentCollection
}

// scopeFilter returns the mandatory conversation filter for session scopes
// and nil for the permanent scope, which is never scope-filtered.
func (s *Store) scopeFilter(scope rag.Scope) *qdrant.Filter {
	if !scope.IsSession() {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("conversation_id", scope.ConversationID()),
		},
	}
}

func chunkIDs(chunks []rag.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
