package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pdf_qa"

// Registry holds only the pipeline metrics so the textfile stays free of
// Go runtime series.
var Registry = prometheus.NewRegistry()

// Pipeline Prometheus metrics.
var (
	PagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Pages with text, by extraction method",
		},
		[]string{"method"}, // "native" / "ocr"
	)

	PagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_dropped_total",
			Help:      "Pages that produced no text",
		},
	)

	ChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks produced by the chunker",
		},
	)

	EmbeddingBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batches by outcome",
		},
		[]string{"status"}, // "success" / "error" / "cached"
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RefinedCandidatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refined_candidates_total",
			Help:      "Candidates returned by the refinement model",
		},
	)

	IndexVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors in the similarity index",
		},
	)
)

var registerOnce sync.Once

// Register adds the pipeline metrics to Registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			PagesTotal,
			PagesDroppedTotal,
			ChunksTotal,
			EmbeddingBatchesTotal,
			EmbeddingCacheTotal,
			RefinedCandidatesTotal,
			IndexVectors,
		)
	})
}

// WriteTextfile dumps Registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
