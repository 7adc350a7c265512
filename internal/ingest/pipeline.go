// Package ingest runs document intake: split into chunks, embed, upsert.
// Permanent intake is an administrative bulk operation where one bad
// document never aborts the batch; session intake runs synchronously inside
// a chat turn and degrades gracefully.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/chunker"
	"github.com/veridoc/ragd/internal/rag"
)

// Embedder turns texts into vectors. Implemented by embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists chunk/vector pairs. Implemented by store.Store.
type Store interface {
	Upsert(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error
	DeleteSource(ctx context.Context, scope rag.Scope, source string) error
}

// Config holds chunking parameters for the pipeline.
type Config struct {
	ChunkSize int
	Overlap   int
	Logger    *zap.Logger
}

const (
	// DefaultChunkSize and DefaultOverlap match the knowledge-base corpus
	// the retrieval tests are calibrated against.
	DefaultChunkSize = 1000
	DefaultOverlap   = 100
)

// Pipeline runs document intake end to end.
type Pipeline struct {
	embedder  Embedder
	store     Store
	chunkSize int
	overlap   int
	logger    *zap.Logger
}

// New creates an ingestion pipeline. Zero-valued chunking parameters fall
// back to package defaults.
func New(embedder Embedder, store Store, cfg Config) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    cfg.Logger,
	}
}

// FailedDoc names a document that could not be ingested and why.
type FailedDoc struct {
	Source string
	Reason string
}

// Result reports a bulk ingestion run.
type Result struct {
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// IngestPermanent loads documents into the knowledge base. Failures are
// collected per document; the batch always runs to completion.
func (p *Pipeline) IngestPermanent(ctx context.Context, docs []rag.Document) *Result {
	start := time.Now()
	result := &Result{TotalDocs: len(docs)}

	for _, doc := range docs {
		n, err := p.ingestDocument(ctx, doc, rag.Permanent())
		if err != nil {
			p.logger.Warn("document ingestion failed",
				zap.String("source", doc.Source), zap.Error(err))
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				Source: doc.Source,
				Reason: err.Error(),
			})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += n
	}

	result.Duration = time.Since(start)
	p.logger.Info("bulk ingestion complete",
		zap.Int("successful", result.SuccessfulDocs),
		zap.Int("failed", len(result.FailedDocs)),
		zap.Int("chunks", result.TotalChunks),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// IngestSession loads a single uploaded document into the conversation's
// session scope. It runs synchronously within the chat turn, before
// retrieval for that turn. On failure the turn remains answerable without
// session context; the caller decides whether to Rollback the partial
// artifact.
func (p *Pipeline) IngestSession(ctx context.Context, doc rag.Document, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("%w: session ingestion requires a conversation id", rag.ErrValidation)
	}
	return p.ingestDocument(ctx, doc, rag.Session(conversationID))
}

// Rollback removes whatever chunks of one document reached the store. Scoped
// by source so a single failed upload never wipes a whole conversation.
func (p *Pipeline) Rollback(ctx context.Context, source string, scope rag.Scope) error {
	p.logger.Info("rolling back document",
		zap.String("source", source), zap.String("scope", scope.String()))
	return p.store.DeleteSource(ctx, scope, source)
}

// ingestDocument runs the shared chunk→embed→upsert path and returns the
// number of chunks stored.
func (p *Pipeline) ingestDocument(ctx context.Context, doc rag.Document, scope rag.Scope) (int, error) {
	if doc.Source == "" {
		return 0, fmt.Errorf("%w: document has no source name", rag.ErrValidation)
	}

	fragments, err := chunker.Split(doc.Text, p.chunkSize, p.overlap)
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", doc.Source, err)
	}
	if len(fragments) == 0 {
		p.logger.Debug("document is empty, nothing to ingest", zap.String("source", doc.Source))
		return 0, nil
	}

	texts := make([]string, len(fragments))
	chunks := make([]rag.Chunk, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
		chunks[i] = rag.Chunk{
			ID:         rag.ChunkID(doc.Source, f.Index, scope),
			Source:     doc.Source,
			Text:       f.Text,
			ChunkIndex: f.Index,
			CharStart:  f.CharStart,
			CharEnd:    f.CharEnd,
			Scope:      scope,
		}
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", doc.Source, err)
	}

	if err := p.store.Upsert(ctx, chunks, vectors); err != nil {
		return 0, fmt.Errorf("store %s: %w", doc.Source, err)
	}

	p.logger.Debug("ingested document",
		zap.String("source", doc.Source),
		zap.String("scope", scope.String()),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}
