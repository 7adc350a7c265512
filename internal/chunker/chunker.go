// Package chunker splits raw document text into overlapping fixed-size
// fragments with positional metadata. Splitting is by character count, not
// semantic boundary: fragments may cut words in half. That keeps ingestion
// throughput predictable; header-aware context is restored upstream by the
// extractor before the text reaches this package.
package chunker

import (
	"fmt"

	"github.com/veridoc/ragd/internal/rag"
)

// Fragment is one slice of a document, ordered by Index.
type Fragment struct {
	Index     int    // Position in document (0, 1, 2...)
	Text      string // Fragment content
	CharStart int    // Offset of the first character in the source text
	CharEnd   int    // Offset one past the last character
}

// Split cuts text into fragments of chunkSize characters, each fragment after
// the first starting chunkSize-overlap characters after the previous one. The
// last fragment may be shorter. Empty text yields an empty slice, not an error.
func Split(text string, chunkSize, overlap int) ([]Fragment, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", rag.ErrValidation, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must be non-negative, got %d", rag.ErrValidation, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", rag.ErrValidation, overlap, chunkSize)
	}

	if len(text) == 0 {
		return []Fragment{}, nil
	}

	stride := chunkSize - overlap
	fragments := make([]Fragment, 0, 1+(len(text)-1)/stride)

	for start := 0; start < len(text); start += stride {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		fragments = append(fragments, Fragment{
			Index:     len(fragments),
			Text:      text[start:end],
			CharStart: start,
			CharEnd:   end,
		})
		if end == len(text) {
			break
		}
	}

	return fragments, nil
}

// Reassemble concatenates fragment texts with the overlap removed,
// reconstructing the original document. Inverse of Split for a complete,
// in-order fragment sequence.
func Reassemble(fragments []Fragment, overlap int) string {
	if len(fragments) == 0 {
		return ""
	}
	out := fragments[0].Text
	for _, f := range fragments[1:] {
		if len(f.Text) <= overlap {
			// Final fragment shorter than the overlap is entirely a repeat.
			continue
		}
		out += f.Text[overlap:]
	}
	return out
}
