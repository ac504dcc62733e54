package rag

import (
	"context"
	"errors"
	"fmt"

	"document-qa/internal/embedding"
	"document-qa/internal/index"
	"document-qa/internal/metrics"
	"document-qa/internal/models"
	"document-qa/internal/parser"

	"github.com/rs/zerolog/log"
)

var ErrNotIngested = errors.New("no document has been ingested")

// PageExtractor turns a document into pages.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]models.Page, error)
}

// RAG runs extraction, chunking, embedding, retrieval and refinement for one
// document.
type RAG struct {
	extractor PageExtractor
	embedder  *embedding.BatchEmbedder
	refiner   *Refiner
	chunkSize int
	index     *index.Index
}

func NewRAG(extractor PageExtractor, embedder *embedding.BatchEmbedder, refiner *Refiner, chunkSize int) *RAG {
	return &RAG{
		extractor: extractor,
		embedder:  embedder,
		refiner:   refiner,
		chunkSize: chunkSize,
	}
}

// Chunks extracts and chunks the document without calling any provider.
func (r *RAG) Chunks(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := r.extractor.ExtractPages(ctx, path)
	if err != nil {
		return nil, err
	}
	chunks := parser.ChunkPages(pages, r.chunkSize)
	metrics.ChunksTotal.Add(float64(len(chunks)))
	log.Info().Int("pages", len(pages)).Int("chunks", len(chunks)).
		Msgf("Utworzono %d fragmentów z %d stron.", len(chunks), len(pages))
	return chunks, nil
}

// Ingest builds the similarity index for the document at path.
func (r *RAG) Ingest(ctx context.Context, path string) error {
	chunks, err := r.Chunks(ctx, path)
	if err != nil {
		return err
	}

	pairs := r.embedder.EmbedChunks(ctx, chunks)
	idx, err := index.Build(pairs)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	r.index = idx
	metrics.IndexVectors.Set(float64(idx.Len()))
	log.Info().Int("vectors", idx.Len()).Int("dim", idx.Dim()).
		Msgf("Indeks zawiera %d wektorów.", idx.Len())
	return nil
}

// Retrieve ranks every indexed chunk against query.
func (r *RAG) Retrieve(ctx context.Context, query string) ([]models.SearchResult, error) {
	if r.index == nil {
		return nil, ErrNotIngested
	}
	if r.index.Len() == 0 {
		log.Warn().Msg("Indeks jest pusty.")
		return nil, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.RankAll(vec)
}

// Query retrieves and refines candidates for query.
func (r *RAG) Query(ctx context.Context, query string) (*models.PromptResponse, error) {
	results, err := r.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	refined, err := r.refiner.Refine(ctx, query, results)
	if err != nil {
		return nil, err
	}
	log.Info().Int("retrieved", len(results)).Int("refined", len(refined)).
		Msgf("Model zwrócił %d ocenionych fragmentów.", len(refined))

	return &models.PromptResponse{
		Query:      query,
		Retrieved:  len(results),
		Candidates: refined,
	}, nil
}

// Index exposes the index built by Ingest.
func (r *RAG) Index() *index.Index {
	return r.index
}
