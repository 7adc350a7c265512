// Package main provides the ragctl admin CLI for knowledge-base management.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/config"
	"github.com/veridoc/ragd/internal/embedding"
	"github.com/veridoc/ragd/internal/extract"
	"github.com/veridoc/ragd/internal/ingest"
	"github.com/veridoc/ragd/internal/logger"
	"github.com/veridoc/ragd/internal/rag"
	"github.com/veridoc/ragd/internal/source"
	"github.com/veridoc/ragd/internal/store"
)

var (
	flagDir      string
	flagOwner    string
	flagRepo     string
	flagBasePath string
	flagClear    bool
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Knowledge base administration for ragd",
	Long:  "CLI tool for loading and managing the permanent knowledge base in Qdrant",
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest the knowledge base from a local directory or GitHub",
	Long: `Ingests documents into the permanent knowledge base.

With --dir, files are read from a local directory tree. With --owner/--repo,
they are fetched from a GitHub repository (set GITHUB_TOKEN for higher rate
limits). --clear purges the existing knowledge base first.

Environment variables:
  ENV             Configuration environment (default: local)
  OPENAI_API_KEY  Embedding API key (required)
  GITHUB_TOKEN    GitHub token (optional)`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base statistics",
	RunE:  runStatus,
}

func init() {
	syncCmd.Flags().StringVar(&flagDir, "dir", "", "local knowledge base directory")
	syncCmd.Flags().StringVar(&flagOwner, "owner", "", "GitHub repository owner")
	syncCmd.Flags().StringVar(&flagRepo, "repo", "", "GitHub repository name")
	syncCmd.Flags().StringVar(&flagBasePath, "path", "", "path within the GitHub repository")
	syncCmd.Flags().BoolVar(&flagClear, "clear", false, "purge the knowledge base before ingesting")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*store.Store, error) {
	dim := cfg.Embedding.Dimension
	if dim <= 0 {
		dim = embedding.DefaultDimension
	}
	return store.New(ctx, store.Config{
		Host:      cfg.Qdrant.Host,
		Port:      cfg.Qdrant.Port,
		Dimension: dim,
		Logger:    log,
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	start := time.Now()

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

	src, err := buildSource()
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.Qdrant.Host, cfg.Qdrant.Port)
	vectors, err := openStore(ctx, cfg, log.Named("store"))
	if err != nil {
		return err
	}
	defer vectors.Close()

	if err := vectors.EnsureCollections(ctx); err != nil {
		return err
	}

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
	pipeline := ingest.New(embedder, vectors, ingest.Config{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.Overlap,
		Logger:    log.Named("ingest"),
	})

	if flagClear {
		fmt.Println("Clearing knowledge base...")
		if err := vectors.DeleteScope(ctx, rag.Permanent()); err != nil {
			return err
		}
	}

	docs, err := loadDocuments(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("Ingesting %d documents...\n", len(docs))

	result := pipeline.IngestPermanent(ctx, docs)

	fmt.Println()
	fmt.Println("Sync complete")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks:    %d\n", result.TotalChunks)
	fmt.Printf("  Duration:  %s\n", time.Since(start).Round(time.Second))

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Source, failed.Reason)
		}
		return fmt.Errorf("%d documents failed", len(result.FailedDocs))
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

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

	vectors, err := openStore(ctx, cfg, log.Named("store"))
	if err != nil {
		return err
	}
	defer vectors.Close()

	for name, scope := range map[string]rag.Scope{
		store.PermanentCollection: rag.Permanent(),
		store.SessionCollection:   rag.Session("status"),
	} {
		info, err := vectors.Info(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d points\n", name, info.PointsCount)
	}
	return nil
}

// buildSource picks the document source from flags.
func buildSource() (source.Source, error) {
	switch {
	case flagDir != "" && flagOwner != "":
		return nil, fmt.Errorf("--dir and --owner are mutually exclusive")
	case flagDir != "":
		return source.NewLocal(flagDir)
	case flagOwner != "" && flagRepo != "":
		return source.NewGitHub(flagOwner, flagRepo, flagBasePath)
	default:
		return nil, fmt.Errorf("either --dir or --owner/--repo is required")
	}
}

// loadDocuments lists, reads and extracts every file of the source.
func loadDocuments(ctx context.Context, src source.Source) ([]rag.Document, error) {
	paths, err := src.List(ctx)
	if err != nil {
		return nil, err
	}

	extractors := extract.NewRegistry()
	docs := make([]rag.Document, 0, len(paths))
	for _, path := range paths {
		file, err := src.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		doc, err := extractors.Extract(file.Path, file.Data)
		if err != nil {
			return nil, err
		}
		// Keep the relative path as the source name so files with the
		// same basename in different directories stay distinct.
		doc.Source = file.Path
		docs = append(docs, doc)
	}
	return docs, nil
}
