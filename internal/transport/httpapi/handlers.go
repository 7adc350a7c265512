package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/history"
	"github.com/veridoc/ragd/internal/rag"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rag.ErrValidation):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.Body != nil {
		// An empty body creates an untitled conversation.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conv, err := s.convs.CreateConversation(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.convs.ListConversations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if conversations == nil {
		conversations = []history.Conversation{}
	}
	s.writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := s.convs.DeleteConversation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := s.convs.GetConversation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	messages, err := s.convs.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []history.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

type uploadDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type uploadDocumentResponse struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// handleUploadDocument ingests a document into the conversation's session
// scope. A failed ingestion is rolled back so no partial chunks linger.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := s.convs.GetConversation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	var req uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, rag.ErrValidation)
		return
	}
	if req.Filename == "" || req.Content == "" {
		s.writeError(w, rag.ErrValidation)
		return
	}

	doc, err := s.extractors.Extract(req.Filename, []byte(req.Content))
	if err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.ingestor.IngestSession(r.Context(), doc, id)
	if err != nil {
		if rbErr := s.ingestor.Rollback(r.Context(), doc.Source, rag.Session(id)); rbErr != nil {
			s.logger.Error("rollback after failed upload",
				zap.String("source", doc.Source), zap.Error(rbErr))
		}
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, uploadDocumentResponse{Source: doc.Source, Chunks: n})
}
