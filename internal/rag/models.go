// Package rag holds the domain model shared by the retrieval pipeline:
// scopes, documents, chunks and retrieval candidates.
package rag

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// chunkNamespace is the UUIDv5 namespace for deterministic chunk ids.
var chunkNamespace = uuid.MustParse("9c2f6a1e-44d7-5b39-8a0f-6d2c1e7b5a90")

// Scope is the logical partition a chunk belongs to: the permanent knowledge
// base, or the ephemeral store of one conversation.
type Scope struct {
	conversationID string // empty for the permanent knowledge base
}

// Permanent returns the knowledge-base scope.
func Permanent() Scope { return Scope{} }

// Session returns the scope of a single conversation's uploads.
func Session(conversationID string) Scope {
	return Scope{conversationID: conversationID}
}

// IsSession reports whether the scope is conversation-bound.
func (s Scope) IsSession() bool { return s.conversationID != "" }

// ConversationID returns the owning conversation id, or "" for Permanent.
func (s Scope) ConversationID() string { return s.conversationID }

func (s Scope) String() string {
	if s.IsSession() {
		return "session:" + s.conversationID
	}
	return "permanent"
}

// Document is a named source of raw extracted text. Immutable once chunked.
type Document struct {
	Source     string // sanitized filename or URI
	Text       string // plain extracted text
	IngestedAt time.Time
}

// Chunk is the atomic unit of retrieval: a bounded text fragment with
// positional metadata. Chunks of one document form an ordered sequence by
// ChunkIndex, overlapping by a fixed width except at document boundaries.
type Chunk struct {
	ID         string
	Source     string
	Text       string
	ChunkIndex int
	CharStart  int
	CharEnd    int
	Scope      Scope
}

// ChunkID derives the deterministic id of a chunk from its identity triple.
// Re-ingesting the same source into the same scope replaces chunks in place
// instead of duplicating them, and the id doubles as a valid vector-store
// point id.
func ChunkID(source string, chunkIndex int, scope Scope) string {
	name := fmt.Sprintf("%s\x00%d\x00%s", source, chunkIndex, scope)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// RetrievalResult is a scored chunk returned by one collection. Scores are
// comparable only within a collection; cross-collection ordering is done by
// tier, never by raw score.
type RetrievalResult struct {
	Chunk      Chunk
	Score      float64
	Collection string
}

// Tier is the retrieval priority class that orders context assembly.
// Lower value = higher priority.
type Tier int

const (
	// TierExact marks a literal identifier match, the strongest signal.
	TierExact Tier = iota
	// TierSession marks a semantic hit from the conversation's own uploads.
	TierSession
	// TierPermanent marks a semantic hit from the knowledge base.
	TierPermanent
	// TierNeighbor marks a positional expansion around another hit.
	TierNeighbor
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierSession:
		return "session-semantic"
	case TierPermanent:
		return "permanent-semantic"
	case TierNeighbor:
		return "neighbor"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Candidate is a chunk annotated with its retrieval tier. Raw similarity
// scores do not survive past the retriever.
type Candidate struct {
	Chunk Chunk
	Tier  Tier
}
