package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/ragd/internal/rag"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

// fakeSearcher serves canned results keyed by scope and query kind.
type fakeSearcher struct {
	semantic  map[string][]rag.RetrievalResult // scope string -> results
	exact     map[string][]rag.RetrievalResult
	neighbors map[string][]rag.Chunk // anchor chunk id -> neighbors

	semanticErr error
	exactErr    error

	limits map[string]int // scope string -> topK passed in
}

func (f *fakeSearcher) QuerySemantic(_ context.Context, scope rag.Scope, _ []float32, topK int) ([]rag.RetrievalResult, error) {
	if f.limits == nil {
		f.limits = map[string]int{}
	}
	f.limits[scope.String()] = topK
	if f.semanticErr != nil {
		return nil, f.semanticErr
	}
	return f.semantic[scope.String()], nil
}

func (f *fakeSearcher) QueryExact(_ context.Context, scope rag.Scope, _ string) ([]rag.RetrievalResult, error) {
	if f.exactErr != nil {
		return nil, f.exactErr
	}
	return f.exact[scope.String()], nil
}

func (f *fakeSearcher) GetNeighbors(_ context.Context, _ rag.Scope, chunkID string, _ int) ([]rag.Chunk, error) {
	return f.neighbors[chunkID], nil
}

func chunk(id, source string, idx int, scope rag.Scope) rag.Chunk {
	return rag.Chunk{ID: id, Source: source, Text: "body of " + id, ChunkIndex: idx, Scope: scope}
}

func result(c rag.Chunk, score float64) rag.RetrievalResult {
	return rag.RetrievalResult{Chunk: c, Score: score}
}

func TestExactTerms(t *testing.T) {
	assert.Equal(t, []string{"5.2.1"}, ExactTerms("what does control 5.2.1 require?"))
	assert.Equal(t, []string{"1.2.3", "10.20.30"}, ExactTerms("compare 1.2.3 with 10.20.30"))
	assert.Empty(t, ExactTerms("a general question about committees"))
	assert.Empty(t, ExactTerms("version 5.2 only has two parts"))
}

func TestRetrieve_TierOrdering(t *testing.T) {
	conv := rag.Session("conv-1")
	perm := rag.Permanent()

	sessionHit := chunk("s-1", "upload.txt", 0, conv)
	permHit := chunk("p-1", "kb.md", 4, perm)
	exactHit := chunk("e-1", "controls.md", 2, perm)

	searcher := &fakeSearcher{
		semantic: map[string][]rag.RetrievalResult{
			conv.String(): {result(sessionHit, 0.9)},
			perm.String(): {result(permHit, 0.95)},
		},
		exact: map[string][]rag.RetrievalResult{
			perm.String(): {result(exactHit, 1.0)},
		},
	}
	r := New(&fakeEmbedder{}, searcher, Config{NeighborRadius: -1})

	candidates, err := r.Retrieve(context.Background(), "explain control 5.2.1", conv)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	// Exact outranks everything, session outranks permanent even when the
	// permanent hit scored higher. Scores never cross collections.
	assert.Equal(t, "e-1", candidates[0].Chunk.ID)
	assert.Equal(t, rag.TierExact, candidates[0].Tier)
	assert.Equal(t, "s-1", candidates[1].Chunk.ID)
	assert.Equal(t, rag.TierSession, candidates[1].Tier)
	assert.Equal(t, "p-1", candidates[2].Chunk.ID)
	assert.Equal(t, rag.TierPermanent, candidates[2].Tier)
}

func TestRetrieve_DeduplicationKeepsHighestTier(t *testing.T) {
	perm := rag.Permanent()
	hit := chunk("dup-1", "kb.md", 1, perm)

	searcher := &fakeSearcher{
		exact: map[string][]rag.RetrievalResult{
			perm.String(): {result(hit, 1.0)},
		},
		semantic: map[string][]rag.RetrievalResult{
			perm.String(): {result(hit, 0.8)},
		},
	}
	r := New(&fakeEmbedder{}, searcher, Config{NeighborRadius: -1})

	candidates, err := r.Retrieve(context.Background(), "control 1.1.1", perm)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, rag.TierExact, candidates[0].Tier)
}

func TestRetrieve_NeighborsNeverDisplaceDirectHits(t *testing.T) {
	perm := rag.Permanent()
	hitA := chunk("a-2", "kb.md", 2, perm)
	hitB := chunk("b-7", "kb.md", 7, perm)

	searcher := &fakeSearcher{
		semantic: map[string][]rag.RetrievalResult{
			perm.String(): {result(hitA, 0.9), result(hitB, 0.8)},
		},
		neighbors: map[string][]rag.Chunk{
			// hitA's window includes hitB, already a direct hit.
			"a-2": {chunk("a-1", "kb.md", 1, perm), hitA, hitB},
			"b-7": {chunk("b-6", "kb.md", 6, perm), hitB, chunk("b-8", "kb.md", 8, perm)},
		},
	}
	r := New(&fakeEmbedder{}, searcher, Config{NeighborRadius: 1})

	candidates, err := r.Retrieve(context.Background(), "committee duties", perm)
	require.NoError(t, err)

	tiers := map[string]rag.Tier{}
	for _, c := range candidates {
		_, dup := tiers[c.Chunk.ID]
		require.False(t, dup, "chunk %s appears twice", c.Chunk.ID)
		tiers[c.Chunk.ID] = c.Tier
	}

	assert.Equal(t, rag.TierPermanent, tiers["a-2"])
	assert.Equal(t, rag.TierPermanent, tiers["b-7"], "direct hit keeps its tier over neighbor copy")
	assert.Equal(t, rag.TierNeighbor, tiers["a-1"])
	assert.Equal(t, rag.TierNeighbor, tiers["b-6"])
	assert.Equal(t, rag.TierNeighbor, tiers["b-8"])
}

func TestRetrieve_PerCollectionTopK(t *testing.T) {
	conv := rag.Session("conv-1")
	searcher := &fakeSearcher{}
	r := New(&fakeEmbedder{}, searcher, Config{
		TopKPermanent:  7,
		TopKSession:    3,
		NeighborRadius: -1,
	})

	_, err := r.Retrieve(context.Background(), "a question", conv)
	require.NoError(t, err)

	assert.Equal(t, 3, searcher.limits[conv.String()])
	assert.Equal(t, 7, searcher.limits[rag.Permanent().String()])
}

func TestRetrieve_PermanentScopeSkipsSessionSearch(t *testing.T) {
	perm := rag.Permanent()
	searcher := &fakeSearcher{
		semantic: map[string][]rag.RetrievalResult{
			perm.String(): {result(chunk("p-1", "kb.md", 0, perm), 0.9)},
		},
	}
	r := New(&fakeEmbedder{}, searcher, Config{NeighborRadius: -1})

	candidates, err := r.Retrieve(context.Background(), "a question", perm)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, rag.TierPermanent, candidates[0].Tier)
}

func TestRetrieve_PartialFailureDegrades(t *testing.T) {
	perm := rag.Permanent()
	searcher := &fakeSearcher{
		semantic: map[string][]rag.RetrievalResult{
			perm.String(): {result(chunk("p-1", "kb.md", 0, perm), 0.9)},
		},
		exactErr: errors.New("text index offline"),
	}
	r := New(&fakeEmbedder{}, searcher, Config{NeighborRadius: -1})

	// Exact search fails but semantic still answers.
	candidates, err := r.Retrieve(context.Background(), "control 5.2.1", perm)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestRetrieve_EmbeddingFailureStillServesExactHits(t *testing.T) {
	perm := rag.Permanent()
	searcher := &fakeSearcher{
		exact: map[string][]rag.RetrievalResult{
			perm.String(): {result(chunk("e-1", "kb.md", 0, perm), 1.0)},
		},
	}
	r := New(&fakeEmbedder{err: rag.ErrEmbeddingService}, searcher, Config{NeighborRadius: -1})

	candidates, err := r.Retrieve(context.Background(), "control 5.2.1", perm)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, rag.TierExact, candidates[0].Tier)
}

func TestRetrieve_TotalFailure(t *testing.T) {
	searcher := &fakeSearcher{
		semanticErr: rag.ErrStoreRead,
		exactErr:    rag.ErrStoreRead,
	}
	r := New(&fakeEmbedder{err: rag.ErrEmbeddingService}, searcher, Config{NeighborRadius: -1})

	_, err := r.Retrieve(context.Background(), "control 5.2.1", rag.Session("conv-1"))
	require.Error(t, err)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r := New(&fakeEmbedder{}, &fakeSearcher{}, Config{})
	_, err := r.Retrieve(context.Background(), "", rag.Permanent())
	assert.ErrorIs(t, err, rag.ErrValidation)
}

func TestRetrieve_NoResultsIsNotAnError(t *testing.T) {
	r := New(&fakeEmbedder{}, &fakeSearcher{}, Config{NeighborRadius: -1})

	candidates, err := r.Retrieve(context.Background(), "question with no matches", rag.Permanent())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
