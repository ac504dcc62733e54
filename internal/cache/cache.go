package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
)

// Store keeps embeddings keyed by Key(model, text) across runs.
type Store interface {
	// Get returns the vectors found for keys. Missing keys are absent from the map.
	Get(ctx context.Context, keys []string) (map[string][]float32, error)
	Put(ctx context.Context, items []models.CachedEmbedding) error
	// Reset removes every cached vector.
	Reset(ctx context.Context) error
	Close() error
}

// Key identifies the embedding of text under model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, []string) (map[string][]float32, error) { return nil, nil }
func (Nop) Put(context.Context, []models.CachedEmbedding) error         { return nil }
func (Nop) Reset(context.Context) error                                  { return nil }
func (Nop) Close() error                                                { return nil }

// NewStore opens the backend selected by cfg.Cache.Driver.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	log.Debug().Str("driver", cfg.Cache.Driver).Msg("Opening embedding cache")

	switch cfg.Cache.Driver {
	case config.CacheNone, "":
		return Nop{}, nil
	case config.CacheChromem:
		return chromemdb.Open(&cfg.Cache)
	case config.CachePostgres:
		return db.Open(ctx, &cfg.Database)
	case config.CacheRedis:
		return OpenRedis(ctx, &cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}
