// Package assemble builds the prompt context block from retrieval candidates
// under a fixed character budget. Chunks are atomic: a candidate that does
// not fit whole is dropped whole, and assembly keeps trying lower-priority
// candidates that still fit.
package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veridoc/ragd/internal/rag"
)

// DefaultMaxChars bounds the assembled context so the prompt stays within
// the generation model's window with room for history and the answer.
const DefaultMaxChars = 12000

// Assembler renders candidates into a bounded context string.
type Assembler struct {
	maxChars int
}

// New creates an Assembler. A non-positive budget falls back to the default.
func New(maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Assembler{maxChars: maxChars}
}

// Context is the assembled prompt block plus what went into it.
type Context struct {
	Text     string
	Included []rag.Candidate
	Dropped  int // candidates that did not fit the budget
}

// Empty reports whether nothing was included.
func (c Context) Empty() bool { return len(c.Included) == 0 }

// Sources lists the distinct source names of included chunks, in inclusion
// order.
func (c Context) Sources() []string {
	var sources []string
	seen := map[string]bool{}
	for _, cand := range c.Included {
		if !seen[cand.Chunk.Source] {
			seen[cand.Chunk.Source] = true
			sources = append(sources, cand.Chunk.Source)
		}
	}
	return sources
}

// Build renders candidates under the budget. Candidates are taken in tier
// order (stable within a tier, preserving retrieval order), each prefixed
// with its source attribution. Identical input always yields an identical
// block. An empty result is valid; the orchestrator handles disclosure.
func (a *Assembler) Build(candidates []rag.Candidate) Context {
	ordered := make([]rag.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier < ordered[j].Tier
	})

	var (
		b      strings.Builder
		ctx    Context
		budget = a.maxChars
	)
	for _, cand := range ordered {
		entry := render(cand.Chunk)
		cost := len(entry)
		if b.Len() > 0 {
			cost += len(entrySeparator)
		}
		if cost > budget {
			ctx.Dropped++
			continue
		}
		if b.Len() > 0 {
			b.WriteString(entrySeparator)
		}
		b.WriteString(entry)
		budget -= cost
		ctx.Included = append(ctx.Included, cand)
	}

	ctx.Text = b.String()
	return ctx
}

const entrySeparator = "\n\n"

// render formats one chunk with its attribution line. Session uploads are
// labeled as such so the model can distinguish the user's own documents from
// the knowledge base.
func render(c rag.Chunk) string {
	origin := "knowledge base"
	if c.Scope.IsSession() {
		origin = "uploaded document"
	}
	return fmt.Sprintf("[Source: %s (%s)]\n%s", c.Source, origin, c.Text)
}
