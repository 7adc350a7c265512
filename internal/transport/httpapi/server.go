// Package httpapi exposes the chat pipeline over HTTP: conversation CRUD,
// session document upload, a server-sent-events chat endpoint, health and
// metrics. Authentication and rate limiting live in front of this service.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/extract"
	"github.com/veridoc/ragd/internal/history"
	"github.com/veridoc/ragd/internal/orchestrate"
	"github.com/veridoc/ragd/internal/rag"
)

// Chatter runs chat turns. Implemented by orchestrate.Orchestrator.
type Chatter interface {
	Chat(ctx context.Context, req orchestrate.TurnRequest) (<-chan orchestrate.Event, error)
}

// Conversations is the transcript store. Implemented by history.Store.
type Conversations interface {
	CreateConversation(ctx context.Context, title string) (*history.Conversation, error)
	GetConversation(ctx context.Context, id string) (*history.Conversation, error)
	ListConversations(ctx context.Context) ([]history.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]history.Message, error)
}

// SessionIngestor loads uploaded documents into a conversation's session
// scope. Implemented by ingest.Pipeline.
type SessionIngestor interface {
	IngestSession(ctx context.Context, doc rag.Document, conversationID string) (int, error)
	Rollback(ctx context.Context, source string, scope rag.Scope) error
}

// HealthChecker reports backend liveness. Implemented by store.Store.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server wires the pipeline into HTTP handlers.
type Server struct {
	chatter    Chatter
	convs      Conversations
	ingestor   SessionIngestor
	extractors *extract.Registry
	health     HealthChecker
	logger     *zap.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(chatter Chatter, convs Conversations, ingestor SessionIngestor, extractors *extract.Registry, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		chatter:    chatter,
		convs:      convs,
		ingestor:   ingestor,
		extractors: extractors,
		health:     health,
		logger:     logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", s.handleCreateConversation)
		r.Get("/", s.handleListConversations)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteConversation)
			r.Get("/messages", s.handleListMessages)
			r.Post("/documents", s.handleUploadDocument)
			r.Post("/chat", s.handleChat)
		})
	})

	return r
}

// requestLogger logs one line per request. The SSE chat endpoint logs its
// own lifecycle, so duration here covers the full stream for it.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
