package embedding

import (
	"context"
	"errors"
	"fmt"

	"document-qa/internal/cache"
	"document-qa/internal/metrics"
	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

const DefaultBatchSize = 10

var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// BatchEmbedder embeds chunks in fixed-size batches. A failed batch is
// logged and its chunks are left out of the result.
type BatchEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	batchSize int
	cache     cache.Store
}

// NewBatchEmbedder wraps embedder. A nil store disables caching.
func NewBatchEmbedder(embedder embeddings.Embedder, model string, batchSize int, store cache.Store) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if store == nil {
		store = cache.Nop{}
	}
	return &BatchEmbedder{
		embedder:  embedder,
		model:     model,
		batchSize: batchSize,
		cache:     store,
	}
}

// EmbedChunks returns one entry per successfully embedded chunk, in chunk order.
func (b *BatchEmbedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) []models.ChunkEmbedding {
	if len(chunks) == 0 {
		log.Info().Msg("Brak fragmentów do osadzenia.")
		return nil
	}

	vectors := make([][]float32, len(chunks))
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		keys[i] = cache.Key(b.model, c.Text)
	}
	b.fromCache(ctx, keys, vectors)

	var fresh []models.CachedEmbedding
	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))

		var texts []string
		var positions []int
		for i := start; i < end; i++ {
			if vectors[i] == nil {
				texts = append(texts, chunks[i].Text)
				positions = append(positions, i)
			}
		}
		if len(texts) == 0 {
			metrics.EmbeddingBatchesTotal.WithLabelValues("cached").Inc()
			continue
		}

		batch, err := b.embedBatch(ctx, texts)
		if err != nil {
			log.Error().Err(err).Int("start", start).Int("end", end).
				Msgf("Błąd przy osadzaniu partii %d-%d", start, end-1)
			metrics.EmbeddingBatchesTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.EmbeddingBatchesTotal.WithLabelValues("success").Inc()

		for j, pos := range positions {
			vectors[pos] = batch[j]
			fresh = append(fresh, models.CachedEmbedding{Key: keys[pos], Model: b.model, Embedding: batch[j]})
		}
	}

	if len(fresh) > 0 {
		if err := b.cache.Put(ctx, fresh); err != nil {
			log.Warn().Err(err).Msg("Nie udało się zapisać osadzeń w pamięci podręcznej")
		}
	}

	out := make([]models.ChunkEmbedding, 0, len(chunks))
	for i, vec := range vectors {
		if vec != nil {
			out = append(out, models.ChunkEmbedding{Chunk: chunks[i], Embedding: vec})
		}
	}
	if len(out) < len(chunks) {
		log.Warn().Int("embedded", len(out)).Int("chunks", len(chunks)).
			Msgf("Osadzono %d z %d fragmentów.", len(out), len(chunks))
	}
	return out
}

// EmbedQuery embeds the question as a single-element batch.
func (b *BatchEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	batch, err := b.embedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return batch[0], nil
}

func (b *BatchEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(batch) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(batch), len(texts))
	}
	for i, vec := range batch {
		if len(vec) == 0 {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyEmbedding)
		}
	}
	return batch, nil
}

func (b *BatchEmbedder) fromCache(ctx context.Context, keys []string, vectors [][]float32) {
	found, err := b.cache.Get(ctx, keys)
	if err != nil {
		log.Warn().Err(err).Msg("Nie udało się odczytać pamięci podręcznej osadzeń")
		return
	}
	hits := 0
	for i, k := range keys {
		if vec, ok := found[k]; ok && len(vec) > 0 {
			vectors[i] = vec
			hits++
		}
	}
	if _, nop := b.cache.(cache.Nop); nop {
		return
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Add(float64(hits))
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Add(float64(len(keys) - hits))
	log.Debug().Int("hits", hits).Int("keys", len(keys)).Msg("Embedding cache lookup")
}
