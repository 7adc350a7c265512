package store

import (
	"github.com/qdrant/go-client/qdrant"

	"github.com/veridoc/ragd/internal/rag"
)

// chunkPayload builds the Qdrant payload map for a chunk. The conversation_id
// field is only present for session-scoped chunks.
func chunkPayload(c rag.Chunk) map[string]any {
	payload := map[string]any{
		"source":      c.Source,
		"text":        c.Text,
		"chunk_index": c.ChunkIndex,
		"char_start":  c.CharStart,
		"char_end":    c.CharEnd,
	}
	if c.Scope.IsSession() {
		payload["conversation_id"] = c.Scope.ConversationID()
	}
	return payload
}

// chunkFromPayload rebuilds a chunk from a stored point.
func chunkFromPayload(id string, payload map[string]*qdrant.Value, scope rag.Scope) rag.Chunk {
	return rag.Chunk{
		ID:         id,
		Source:     payload["source"].GetStringValue(),
		Text:       payload["text"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		CharStart:  int(payload["char_start"].GetIntegerValue()),
		CharEnd:    int(payload["char_end"].GetIntegerValue()),
		Scope:      scope,
	}
}
