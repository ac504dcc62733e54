package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	metaModel = "model"
	// chromem normalizes vectors on insert; the input norm is kept here.
	metaNorm = "norm"
)

// Store is an embedding cache on top of a chromem-go collection.
type Store struct {
	db            *chromem.DB
	collection    *chromem.Collection
	exportFile    string
	compress      bool
	encryptionKey string
}

// Open creates or reopens the database at cfg.Path. An empty path keeps
// everything in memory. When cfg.ExportFile exists it is imported first.
func Open(cfg *config.CacheConfig) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &Store{
		db:            db,
		exportFile:    cfg.ExportFile,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}

	if m.exportFile != "" {
		if _, err := os.Stat(m.exportFile); err == nil {
			if err := m.Import(); err != nil {
				return nil, err
			}
		}
	}

	c, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	log.Debug().Str("collection", c.Name).Int("documents", c.Count()).Msg("Opened chromem cache")
	return m, nil
}

func (m *Store) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(keys))
	for _, key := range keys {
		doc, err := m.collection.GetByID(ctx, key)
		if err != nil {
			continue
		}
		norm, err := strconv.ParseFloat(doc.Metadata[metaNorm], 64)
		if err != nil || norm <= 0 {
			continue
		}
		vec := make([]float32, len(doc.Embedding))
		for i, v := range doc.Embedding {
			vec[i] = float32(float64(v) * norm)
		}
		found[key] = vec
	}
	return found, nil
}

func (m *Store) Put(ctx context.Context, items []models.CachedEmbedding) error {
	docs := make([]chromem.Document, 0, len(items))
	for _, item := range items {
		norm := vectorNorm(item.Embedding)
		if norm == 0 {
			continue
		}
		docs = append(docs, chromem.Document{
			ID: item.Key,
			Metadata: map[string]string{
				metaModel: item.Model,
				metaNorm:  strconv.FormatFloat(norm, 'g', -1, 64),
			},
			Embedding: append([]float32(nil), item.Embedding...),
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Len reports how many vectors are cached.
func (m *Store) Len() int {
	return m.collection.Count()
}

// Close exports the collection when an export file is configured.
func (m *Store) Close() error {
	if m.exportFile == "" {
		return nil
	}
	return m.Export()
}

func (m *Store) Export() error {
	if m.collection == nil {
		return errors.New("collection is required")
	}
	log.Debug().Str("file", m.exportFile).Bool("compress", m.compress).Msg("Exporting chromem cache")
	if err := m.db.ExportToFile(m.exportFile, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func (m *Store) Import() error {
	log.Debug().Str("file", m.exportFile).Msg("Importing chromem cache")
	if err := m.db.ImportFromFile(m.exportFile, m.encryptionKey); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

// Reset drops every cached vector.
func (m *Store) Reset(_ context.Context) error {
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := m.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
