package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/ragd/internal/rag"
)

func TestSplit_RejectsBadParameters(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"zero chunk size", 0, 0},
		{"negative chunk size", -5, 0},
		{"overlap equals chunk size", 100, 100},
		{"overlap exceeds chunk size", 100, 150},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.chunkSize, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, rag.ErrValidation), "expected validation error, got %v", err)
		})
	}
}

func TestSplit_EmptyTextYieldsEmptySequence(t *testing.T) {
	fragments, err := Split("", 1000, 100)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestSplit_SingleChunkWhenTextFits(t *testing.T) {
	for _, length := range []int{1, 500, 999, 1000} {
		text := strings.Repeat("a", length)
		fragments, err := Split(text, 1000, 100)
		require.NoError(t, err)
		require.Len(t, fragments, 1, "length %d", length)
		assert.Equal(t, text, fragments[0].Text)
		assert.Equal(t, 0, fragments[0].CharStart)
		assert.Equal(t, length, fragments[0].CharEnd)
	}
}

func TestSplit_ChunkCountFormula(t *testing.T) {
	// For chunk_size=1000, overlap=100 and L>1000 the chunk count is
	// ceil((L-100)/900).
	for _, length := range []int{1001, 1900, 1901, 2800, 5000, 90000} {
		text := strings.Repeat("x", length)
		fragments, err := Split(text, 1000, 100)
		require.NoError(t, err)

		want := ((length - 100) + 899) / 900
		assert.Len(t, fragments, want, "length %d", length)
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	// Build text where every position has a distinct-ish marker so overlap
	// comparison is meaningful.
	var b strings.Builder
	for b.Len() < 3500 {
		b.WriteString("abcdefghijklmnopqrstuvwxyz0123456789")
	}
	text := b.String()[:3500]

	fragments, err := Split(text, 1000, 100)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 2)

	for i := 1; i < len(fragments); i++ {
		prev, cur := fragments[i-1], fragments[i]
		assert.Equal(t, prev.CharStart+900, cur.CharStart, "stride at fragment %d", i)

		tail := prev.Text[len(prev.Text)-100:]
		head := cur.Text[:100]
		assert.Equal(t, tail, head, "fragments %d and %d must share 100 characters", i-1, i)
	}
}

func TestSplit_PositionsIndexTheSource(t *testing.T) {
	text := strings.Repeat("0123456789", 250)
	fragments, err := Split(text, 400, 50)
	require.NoError(t, err)

	for _, f := range fragments {
		assert.Greater(t, f.CharEnd, f.CharStart)
		assert.Equal(t, text[f.CharStart:f.CharEnd], f.Text)
	}
	assert.Equal(t, len(text), fragments[len(fragments)-1].CharEnd)
}

func TestReassemble_RoundTrip(t *testing.T) {
	inputs := []string{
		"short",
		strings.Repeat("lorem ipsum dolor sit amet ", 200),
		strings.Repeat("z", 1000),
		strings.Repeat("q", 1001),
	}
	for _, text := range inputs {
		fragments, err := Split(text, 1000, 100)
		require.NoError(t, err)
		assert.Equal(t, text, Reassemble(fragments, 100))
	}
}

func TestReassemble_Empty(t *testing.T) {
	assert.Equal(t, "", Reassemble(nil, 100))
}
