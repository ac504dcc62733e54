package index

import (
	"errors"
	"fmt"
	"sort"

	"document-qa/internal/models"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVector       = errors.New("empty vector")
)

// Index is an exhaustive squared-L2 index. Position i holds vectors[i] and
// the chunk it was computed from.
type Index struct {
	dim     int
	vectors [][]float32
	chunks  []models.Chunk
}

func New() *Index {
	return &Index{}
}

// Build indexes pairs in order.
func Build(pairs []models.ChunkEmbedding) (*Index, error) {
	idx := New()
	for i, p := range pairs {
		if err := idx.Add(p.Chunk, p.Embedding); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return idx, nil
}

// Add appends a vector. The first vector fixes the dimension.
func (x *Index) Add(chunk models.Chunk, vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if x.dim == 0 {
		x.dim = len(vector)
	} else if len(vector) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), x.dim)
	}
	x.vectors = append(x.vectors, append([]float32(nil), vector...))
	x.chunks = append(x.chunks, chunk)
	return nil
}

func (x *Index) Len() int { return len(x.vectors) }

func (x *Index) Dim() int { return x.dim }

// Search returns the k nearest vectors by ascending squared distance, ties in
// insertion order. k <= 0 or k > Len() returns everything.
func (x *Index) Search(query []float32, k int) ([]models.SearchResult, error) {
	if x.Len() == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), x.dim)
	}

	results := make([]models.SearchResult, len(x.vectors))
	for i, v := range x.vectors {
		results[i] = models.SearchResult{
			Chunk:    x.chunks[i],
			Position: i,
			Distance: squaredL2(query, v),
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// RankAll orders every indexed chunk by distance to query.
func (x *Index) RankAll(query []float32) ([]models.SearchResult, error) {
	return x.Search(query, 0)
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
