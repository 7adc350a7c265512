package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/ragd/internal/rag"
)

// fakeEmbedder returns a vector per text, or fails for sources marked bad.
type fakeEmbedder struct {
	failFor string
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	for _, t := range texts {
		if f.failFor != "" && strings.Contains(t, f.failFor) {
			return nil, rag.ErrEmbeddingService
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

type fakeStore struct {
	upserted  []rag.Chunk
	deleted   []string
	upsertErr error
}

func (f *fakeStore) Upsert(_ context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if len(chunks) != len(vectors) {
		return errors.New("chunk/vector count mismatch")
	}
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeStore) DeleteSource(_ context.Context, scope rag.Scope, source string) error {
	f.deleted = append(f.deleted, scope.String()+"/"+source)
	return nil
}

func newTestPipeline(e *fakeEmbedder, s *fakeStore) *Pipeline {
	return New(e, s, Config{ChunkSize: 100, Overlap: 10})
}

func TestIngestPermanent_CollectsFailuresWithoutAborting(t *testing.T) {
	embedder := &fakeEmbedder{failFor: "POISON"}
	store := &fakeStore{}
	p := newTestPipeline(embedder, store)

	docs := []rag.Document{
		{Source: "good-1.md", Text: strings.Repeat("a", 250)},
		{Source: "bad.md", Text: "POISON " + strings.Repeat("b", 200)},
		{Source: "good-2.md", Text: strings.Repeat("c", 50)},
	}

	result := p.IngestPermanent(context.Background(), docs)

	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 2, result.SuccessfulDocs)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, "bad.md", result.FailedDocs[0].Source)
	assert.Contains(t, result.FailedDocs[0].Reason, "embedding service error")

	// Chunks of the surviving documents are stored in permanent scope.
	require.NotEmpty(t, store.upserted)
	for _, c := range store.upserted {
		assert.False(t, c.Scope.IsSession())
		assert.NotEqual(t, "bad.md", c.Source)
	}
	assert.Equal(t, result.TotalChunks, len(store.upserted))
}

func TestIngestPermanent_EmptyBatch(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	result := p.IngestPermanent(context.Background(), nil)
	assert.Equal(t, 0, result.TotalDocs)
	assert.Empty(t, result.FailedDocs)
}

func TestIngestSession_ScopesChunksToConversation(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(&fakeEmbedder{}, store)

	n, err := p.IngestSession(context.Background(),
		rag.Document{Source: "upload.txt", Text: strings.Repeat("x", 250)}, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, n, len(store.upserted))
	require.NotEmpty(t, store.upserted)

	for i, c := range store.upserted {
		assert.Equal(t, rag.Session("conv-1"), c.Scope)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, rag.ChunkID("upload.txt", i, rag.Session("conv-1")), c.ID)
	}
}

func TestIngestSession_RequiresConversationID(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	_, err := p.IngestSession(context.Background(), rag.Document{Source: "u.txt", Text: "hi"}, "")
	assert.ErrorIs(t, err, rag.ErrValidation)
}

func TestIngestSession_EmptyDocumentIsNoOp(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	p := newTestPipeline(embedder, store)

	n, err := p.IngestSession(context.Background(), rag.Document{Source: "empty.txt"}, "conv-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, embedder.calls, "no embedding call for an empty document")
	assert.Empty(t, store.upserted)
}

func TestIngestDocument_RejectsMissingSource(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	result := p.IngestPermanent(context.Background(), []rag.Document{{Text: "orphan text"}})
	require.Len(t, result.FailedDocs, 1)
	assert.Contains(t, result.FailedDocs[0].Reason, "no source name")
}

func TestIngest_StoreFailureSurfacesWriteError(t *testing.T) {
	store := &fakeStore{upsertErr: rag.NewStoreWriteError([]string{"id-1"}, errors.New("down"))}
	p := newTestPipeline(&fakeEmbedder{}, store)

	_, err := p.IngestSession(context.Background(),
		rag.Document{Source: "u.txt", Text: strings.Repeat("y", 150)}, "conv-2")
	assert.ErrorIs(t, err, rag.ErrStoreWrite)
}

func TestRollback_DeletesOnlyTheNamedSource(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(&fakeEmbedder{}, store)

	scope := rag.Session("conv-3")
	require.NoError(t, p.Rollback(context.Background(), "partial.txt", scope))
	assert.Equal(t, []string{"session:conv-3/partial.txt"}, store.deleted)
}
