package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/orchestrate"
	"github.com/veridoc/ragd/internal/rag"
)

type chatRequest struct {
	Message    string `json:"message"`
	Attachment string `json:"attachment,omitempty"`
}

// handleChat streams one turn over server-sent events. Each orchestrator
// event becomes one SSE event named after its type; closing the connection
// cancels generation upstream via the request context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := s.convs.GetConversation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.writeError(w, rag.ErrValidation)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	events, err := s.chatter.Chat(r.Context(), orchestrate.TurnRequest{
		ConversationID: id,
		Query:          req.Message,
		Attachment:     req.Attachment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		if err := writeSSE(w, event); err != nil {
			// Client went away; the request context cancellation stops
			// the orchestrator, we just drain.
			s.logger.Debug("sse write failed, client disconnected", zap.Error(err))
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}

// ssePayload is the JSON body of one SSE event.
type ssePayload struct {
	State   string   `json:"state,omitempty"`
	Token   string   `json:"token,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Flagged bool     `json:"flagged,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func writeSSE(w http.ResponseWriter, event orchestrate.Event) error {
	payload := ssePayload{
		Token:   event.Token,
		Sources: event.Sources,
		Flagged: event.Flagged,
		Error:   event.Err,
	}
	if event.Type == orchestrate.EventState {
		payload.State = event.State.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
