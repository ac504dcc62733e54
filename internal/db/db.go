package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/models"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type CachedEmbedding struct {
	bun.BaseModel `bun:"table:embedding_cache,alias:ec"`
	Key           string    `bun:"key,pk"`
	Model         string    `bun:"model,notnull"`
	Embedding     []float32 `bun:"embedding,array,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// EmbeddingStore is the Postgres embedding cache.
type EmbeddingStore struct {
	db *bun.DB
}

// Open connects, creates the cache table when missing and returns the store.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*EmbeddingStore, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	log.Debug().Str("driver", cfg.Driver).Msg("Connected to postgres")
	return &EmbeddingStore{db: db}, nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool with the configured driver. No connection is made yet.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPq:
		return sql.Open("postgres", cfg.DSN)
	case config.DriverPgdriver, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*CachedEmbedding)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (s *EmbeddingStore) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []CachedEmbedding
	if err := selectQuery(s.db, &rows, keys).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	found := make(map[string][]float32, len(rows))
	for _, r := range rows {
		found[r.Key] = r.Embedding
	}
	return found, nil
}

func (s *EmbeddingStore) Put(ctx context.Context, items []models.CachedEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := insertQuery(s.db, toRows(items)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (s *EmbeddingStore) Close() error {
	return s.db.Close()
}

// Reset drops and recreates the cache table.
func (s *EmbeddingStore) Reset(ctx context.Context) error {
	if err := DropCache(ctx, s.db); err != nil {
		return fmt.Errorf("failed to drop cache table: %w", err)
	}
	if err := InitDB(ctx, s.db); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	return nil
}

// DropCache removes the cache table.
func DropCache(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*CachedEmbedding)(nil)).IfExists().Exec(ctx)
	return err
}

func selectQuery(db bun.IDB, rows *[]CachedEmbedding, keys []string) *bun.SelectQuery {
	return db.NewSelect().
		Model(rows).
		Column("key", "model", "embedding").
		Where("key IN (?)", bun.In(keys))
}

func insertQuery(db bun.IDB, rows []CachedEmbedding) *bun.InsertQuery {
	return db.NewInsert().
		Model(&rows).
		On("CONFLICT (key) DO NOTHING")
}

func toRows(items []models.CachedEmbedding) []CachedEmbedding {
	rows := make([]CachedEmbedding, len(items))
	for i, item := range items {
		rows[i] = CachedEmbedding{
			Key:       item.Key,
			Model:     item.Model,
			Embedding: item.Embedding,
		}
	}
	return rows
}
