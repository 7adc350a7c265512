// Package main runs the ragd chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/assemble"
	"github.com/veridoc/ragd/internal/config"
	"github.com/veridoc/ragd/internal/embedding"
	"github.com/veridoc/ragd/internal/extract"
	"github.com/veridoc/ragd/internal/history"
	"github.com/veridoc/ragd/internal/ingest"
	"github.com/veridoc/ragd/internal/logger"
	"github.com/veridoc/ragd/internal/metrics"
	"github.com/veridoc/ragd/internal/orchestrate"
	"github.com/veridoc/ragd/internal/retrieve"
	"github.com/veridoc/ragd/internal/store"
	"github.com/veridoc/ragd/internal/transport/httpapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ragd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is for local development; production sets real env vars.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}

	log, err := logger.New(env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Vector store.
	vectors, err := store.New(ctx, store.Config{
		Host:      cfg.Qdrant.Host,
		Port:      cfg.Qdrant.Port,
		Dimension: dimension(cfg),
		Logger:    log.Named("store"),
	})
	if err != nil {
		return err
	}
	defer vectors.Close()

	if err := vectors.EnsureCollections(ctx); err != nil {
		return err
	}

	// Embedding and chat share one provider client.
	client, err := embedding.NewClient(cfg.Embedding.BaseURL)
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(client, embedding.Config{
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Logger:    log.Named("embedding"),
	})

	conversations, err := history.Open(cfg.History.Path, vectors, log.Named("history"))
	if err != nil {
		return err
	}
	defer conversations.Close()

	pipeline := ingest.New(embedder, vectors, ingest.Config{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.Overlap,
		Logger:    log.Named("ingest"),
	})
	retriever := retrieve.New(embedder, vectors, retrieve.Config{
		TopKPermanent:  cfg.Retrieval.TopKPermanent,
		TopKSession:    cfg.Retrieval.TopKSession,
		NeighborRadius: cfg.Retrieval.NeighborRadius,
		Logger:         log.Named("retrieve"),
	})
	orchestrator := orchestrate.New(
		retriever,
		assemble.New(cfg.Chat.MaxChars),
		orchestrate.NewOpenAIStreamer(client.Client(), cfg.Chat.Model),
		conversations,
		log.Named("orchestrate"),
	)

	api := httpapi.NewServer(orchestrator, conversations, pipeline, extract.NewRegistry(), vectors, log.Named("http"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ragd listening", zap.String("addr", srv.Addr), zap.String("env", env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func dimension(cfg config.Config) int {
	if cfg.Embedding.Dimension > 0 {
		return cfg.Embedding.Dimension
	}
	return embedding.DefaultDimension
}
