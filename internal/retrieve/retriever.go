// Package retrieve turns a user query into an ordered list of context
// candidates. Candidates are ranked by tier: literal identifier matches,
// then the conversation's own uploads, then the permanent knowledge base,
// then positional neighbors of direct hits. Raw similarity scores never
// cross a collection boundary.
package retrieve

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/metrics"
	"github.com/veridoc/ragd/internal/rag"
)

// controlNumberPattern matches dotted control identifiers like "5.2.1".
// Queries containing one get an exact-match pass before semantic search.
var controlNumberPattern = regexp.MustCompile(`\b\d+\.\d+\.\d+\b`)

// Embedder vectorizes the query text. Implemented by embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the read side of the knowledge store.
type Searcher interface {
	QuerySemantic(ctx context.Context, scope rag.Scope, vector []float32, topK int) ([]rag.RetrievalResult, error)
	QueryExact(ctx context.Context, scope rag.Scope, value string) ([]rag.RetrievalResult, error)
	GetNeighbors(ctx context.Context, scope rag.Scope, chunkID string, radius int) ([]rag.Chunk, error)
}

// Config holds retrieval settings.
type Config struct {
	// TopKPermanent and TopKSession are the semantic result counts for the
	// knowledge base and the conversation's uploads respectively.
	TopKPermanent int
	TopKSession   int
	// NeighborRadius is how many adjacent chunks to pull around each direct
	// hit. Zero falls back to the default; negative disables expansion.
	NeighborRadius int
	Logger         *zap.Logger
}

const (
	DefaultTopK           = 5
	DefaultNeighborRadius = 1
)

// Retriever runs the tiered retrieval plan for one query.
type Retriever struct {
	embedder      Embedder
	searcher      Searcher
	topKPermanent int
	topKSession   int
	radius        int
	logger        *zap.Logger
}

// New creates a Retriever. Zero top-k values fall back to the default; a
// negative NeighborRadius disables expansion.
func New(embedder Embedder, searcher Searcher, cfg Config) *Retriever {
	if cfg.TopKPermanent <= 0 {
		cfg.TopKPermanent = DefaultTopK
	}
	if cfg.TopKSession <= 0 {
		cfg.TopKSession = DefaultTopK
	}
	if cfg.NeighborRadius == 0 {
		cfg.NeighborRadius = DefaultNeighborRadius
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Retriever{
		embedder:      embedder,
		searcher:      searcher,
		topKPermanent: cfg.TopKPermanent,
		topKSession:   cfg.TopKSession,
		radius:        cfg.NeighborRadius,
		logger:        cfg.Logger,
	}
}

// ExactTerms extracts the literal identifiers in a query that warrant an
// exact-match pass. Exposed so callers can detect identifier-style questions.
func ExactTerms(query string) []string {
	return controlNumberPattern.FindAllString(query, -1)
}

// Retrieve returns candidates ordered by tier for a query. The scope is the
// conversation's session scope, or Permanent for conversations without
// uploads; the permanent knowledge base is always searched.
//
// Sources fail independently: a failed source is logged and skipped, and an
// error is returned only when every source failed and nothing at all could
// be retrieved. Duplicates keep their first (highest-tier) occurrence, so a
// neighbor can never displace a direct hit.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope rag.Scope) ([]rag.Candidate, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", rag.ErrValidation)
	}

	var (
		candidates []rag.Candidate
		seen       = map[string]bool{}
		errs       []error
		attempted  int
	)
	add := func(chunk rag.Chunk, tier rag.Tier) {
		if seen[chunk.ID] {
			return
		}
		seen[chunk.ID] = true
		candidates = append(candidates, rag.Candidate{Chunk: chunk, Tier: tier})
		metrics.RetrievedChunksTotal.WithLabelValues(tier.String()).Inc()
	}

	// Tier 1: literal identifier matches, session uploads before the
	// knowledge base.
	for _, term := range ExactTerms(query) {
		for _, s := range r.searchScopes(scope) {
			attempted++
			results, err := r.searcher.QueryExact(ctx, s, term)
			if err != nil {
				r.logger.Warn("exact search failed",
					zap.String("scope", s.String()), zap.String("term", term), zap.Error(err))
				metrics.RetrievalsTotal.WithLabelValues(scopeLabel(s), "error").Inc()
				errs = append(errs, err)
				continue
			}
			metrics.RetrievalsTotal.WithLabelValues(scopeLabel(s), "success").Inc()
			for _, res := range results {
				add(res.Chunk, rag.TierExact)
			}
		}
	}

	// Tiers 2 and 3: semantic search, one query embedding shared by both
	// collections. If embedding fails, exact hits may still carry the turn.
	vector, embedErr := r.embedQuery(ctx, query)
	if embedErr != nil {
		r.logger.Warn("query embedding failed, semantic tiers skipped", zap.Error(embedErr))
		errs = append(errs, embedErr)
		attempted++
	} else {
		for _, s := range r.searchScopes(scope) {
			attempted++
			tier, topK := rag.TierPermanent, r.topKPermanent
			if s.IsSession() {
				tier, topK = rag.TierSession, r.topKSession
			}
			results, err := r.searcher.QuerySemantic(ctx, s, vector, topK)
			if err != nil {
				r.logger.Warn("semantic search failed",
					zap.String("scope", s.String()), zap.Error(err))
				metrics.RetrievalsTotal.WithLabelValues(scopeLabel(s), "error").Inc()
				errs = append(errs, err)
				continue
			}
			metrics.RetrievalsTotal.WithLabelValues(scopeLabel(s), "success").Inc()
			for _, res := range results {
				add(res.Chunk, tier)
			}
		}
	}

	if len(candidates) == 0 && len(errs) == attempted && attempted > 0 {
		return nil, fmt.Errorf("all retrieval sources failed: %w", errs[0])
	}

	// Tier 4: positional neighbors of every direct hit, best effort.
	if r.radius > 0 {
		direct := candidates
		for _, c := range direct {
			neighbors, err := r.searcher.GetNeighbors(ctx, c.Chunk.Scope, c.Chunk.ID, r.radius)
			if err != nil {
				r.logger.Warn("neighbor expansion failed",
					zap.String("chunk_id", c.Chunk.ID), zap.Error(err))
				continue
			}
			for _, n := range neighbors {
				add(n, rag.TierNeighbor)
			}
		}
	}

	r.logger.Debug("retrieval complete",
		zap.String("scope", scope.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("failed_sources", len(errs)),
	)
	return candidates, nil
}

// searchScopes lists the scopes to query, session first so its hits outrank
// equal-tier permanent hits after deduplication.
func (r *Retriever) searchScopes(scope rag.Scope) []rag.Scope {
	if scope.IsSession() {
		return []rag.Scope{scope, rag.Permanent()}
	}
	return []rag.Scope{rag.Permanent()}
}

// scopeLabel is the low-cardinality metric label for a scope's collection.
func scopeLabel(s rag.Scope) string {
	if s.IsSession() {
		return "session"
	}
	return "permanent"
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d query vectors", rag.ErrEmbeddingService, len(vectors))
	}
	return vectors[0], nil
}
