// Package extract turns raw files into the plain text the ingestion
// pipeline chunks. Extraction normalizes format-specific structure up front
// so chunking and retrieval never see markup.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/veridoc/ragd/internal/rag"
)

// Extractor converts one file format to plain text.
type Extractor interface {
	// Extensions lists the file extensions this extractor handles,
	// lowercase with leading dot.
	Extensions() []string
	// Extract returns the plain text of data.
	Extract(data []byte) (string, error)
}

// Registry routes files to extractors by extension. Unknown extensions fall
// back to plain text.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry builds the default registry: markdown gets structural
// extraction, everything else passes through as plain text.
func NewRegistry() *Registry {
	r := &Registry{
		byExt:    map[string]Extractor{},
		fallback: PlainText{},
	}
	r.Register(NewMarkdown())
	return r
}

// Register adds an extractor for its extensions, replacing any previous one.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[ext] = e
	}
}

// Extract converts one file to a document ready for ingestion.
func (r *Registry) Extract(filename string, data []byte) (rag.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	extractor, ok := r.byExt[ext]
	if !ok {
		extractor = r.fallback
	}

	text, err := extractor.Extract(data)
	if err != nil {
		return rag.Document{}, fmt.Errorf("extract %s: %w", filename, err)
	}
	return rag.Document{Source: filepath.Base(filename), Text: text}, nil
}

// PlainText passes UTF-8 text through unchanged apart from whitespace
// trimming. Binary content is rejected rather than ingested as garbage.
type PlainText struct{}

func (PlainText) Extensions() []string { return []string{".txt"} }

func (PlainText) Extract(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: content is not valid UTF-8 text", rag.ErrValidation)
	}
	return strings.TrimSpace(string(data)), nil
}
