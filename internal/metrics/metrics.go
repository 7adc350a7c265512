// Package metrics defines the Prometheus instrumentation for the retrieval
// and generation pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding API requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "retrievals_total",
			Help:      "Total retrieval operations by collection and status",
		},
		[]string{"collection", "status"},
	)

	RetrievedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "retrieved_chunks_total",
			Help:      "Total chunks returned to the context assembler, by tier",
		},
		[]string{"tier"},
	)

	GenerationTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "generation_turns_total",
			Help:      "Total chat turns by terminal state",
		},
		[]string{"state"},
	)

	GenerationTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "generation_stream_fragments_total",
			Help:      "Total streamed answer fragments forwarded to callers",
		},
	)
)

var registered bool

// Register registers all pipeline metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(RetrievalsTotal)
	prometheus.MustRegister(RetrievedChunksTotal)
	prometheus.MustRegister(GenerationTurnsTotal)
	prometheus.MustRegister(GenerationTokensTotal)
	registered = true
}
