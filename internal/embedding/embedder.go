// Package embedding is the only component that makes network calls for
// vectors. It batches texts, preserves input order, and retries transient
// provider failures a bounded number of times.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/metrics"
	"github.com/veridoc/ragd/internal/rag"
)

// embeddingsAPI is the single provider call the embedder makes. It matches
// the provider's embeddings service so the real client plugs in directly and
// tests can count retry attempts with a fake.
type embeddingsAPI interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector size of DefaultModel. The knowledge
	// store validates every vector against the collection dimension.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute
	// rate limits on the provider side.
	DefaultBatchSize = 500

	// maxAttempts bounds retries on retryable failures: one initial call
	// plus two retries. Nothing in this package retries indefinitely.
	maxAttempts = 3
)

// Config holds embedder settings.
type Config struct {
	Model     string
	Dimension int
	BatchSize int
	Logger    *zap.Logger
}

// Embedder generates embedding vectors through the provider API.
// Identical input always yields equivalent vectors; the embedder holds no
// mutable state shared between calls.
type Embedder struct {
	api           embeddingsAPI
	model         string
	dimension     int
	batchSize     int
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewEmbedder creates an Embedder. Zero-valued config fields fall back to the
// package defaults.
func NewEmbedder(client *Client, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var api embeddingsAPI
	if client != nil {
		api = &client.client.Embeddings
	}
	return &Embedder{
		api:           api,
		model:         cfg.Model,
		dimension:     cfg.Dimension,
		batchSize:     cfg.BatchSize,
		retryInterval: 500 * time.Millisecond,
		logger:        cfg.Logger,
	}
}

// Dimension returns the configured vector size.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns one vector per input text, in input order. Inputs are split
// into batches of at most the configured batch size; a failed batch aborts
// the whole call so the caller never sees a partial, misaligned result.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatch embeds a single batch with up to maxAttempts attempts.
// Timeouts, 429 and 5xx responses are retried with exponential backoff;
// 4xx responses are permanent and abort the calling operation.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		start := time.Now()
		resp, err := e.api.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			classified := Classify(err)
			metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
			if errors.Is(classified, rag.ErrEmbeddingTimeout) {
				e.logger.Warn("embedding request failed, retrying",
					zap.Int("batch_size", len(texts)), zap.Error(err))
				return classified
			}
			return backoff.Permanent(classified)
		}

		if len(resp.Data) != len(texts) {
			metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
			return backoff.Permanent(fmt.Errorf("%w: got %d vectors for %d inputs",
				rag.ErrEmbeddingService, len(resp.Data), len(texts)))
		}

		metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "success").Inc()
		metrics.EmbeddingRequestDuration.WithLabelValues(e.model).Observe(time.Since(start).Seconds())

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	b.MaxInterval = 10 * time.Second

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Classify maps a provider error onto the gateway taxonomy:
// rag.ErrEmbeddingTimeout for timeouts, 429 and 5xx (retryable), and
// rag.ErrEmbeddingService for everything else (fatal to the caller).
func Classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", rag.ErrEmbeddingTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", rag.ErrEmbeddingTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 429:
			return fmt.Errorf("%w: status %d", rag.ErrEmbeddingTimeout, apiErr.StatusCode)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", rag.ErrEmbeddingTimeout, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: status %d: %s", rag.ErrEmbeddingService, apiErr.StatusCode, apiErr.Message)
		}
	}

	return fmt.Errorf("%w: %v", rag.ErrEmbeddingService, err)
}

// toFloat32 converts the API's float64 vectors to the float32 layout the
// knowledge store persists.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
