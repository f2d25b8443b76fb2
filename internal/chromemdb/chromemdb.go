package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docs-rag/internal/config"
	"docs-rag/internal/helper"
	"docs-rag/internal/models"
)

// VectorDBManager encapsulates the chromem-go database operations. It is the
// flat-namespace cosine-similarity backend.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	embed          chromem.EmbeddingFunc
	compress       bool
	encryptionKey  string
	snapshot       string
}

// NewVectorDBManager opens a persistent database under cfg.Path, or an
// in-memory one that is seeded from cfg.Snapshot when that file exists.
// embed is only used for documents or queries that arrive without a vector.
func NewVectorDBManager(cfg config.ChromemConfig, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}
	if embed == nil {
		embed = noEmbedding
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		embed:          embed,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		snapshot:       cfg.Snapshot,
	}

	if cfg.InMemory && cfg.Snapshot != "" {
		if _, err := os.Stat(cfg.Snapshot); err == nil {
			if err := db.ImportFromFile(cfg.Snapshot, cfg.EncryptionKey); err != nil {
				return nil, fmt.Errorf("failed to import snapshot: %v", err)
			}
			log.Info().Str("snapshot", cfg.Snapshot).Msg("Imported chromem snapshot")
		}
	}
	return m, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("documents must carry a precomputed embedding")
}

// EnsureIndex creates the collection if it does not exist yet.
func (m *VectorDBManager) EnsureIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.getOrCreateCollection()
	return err
}

func (m *VectorDBManager) getOrCreateCollection() (*chromem.Collection, error) {
	if m.collection != nil {
		return m.collection, nil
	}
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	return c, nil
}

// Upsert adds records, overwriting any with the same id.
func (m *VectorDBManager) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.getOrCreateCollection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// Query returns up to topK records by cosine similarity, best first.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int) ([]models.QueryResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil || topK <= 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection
	n := min(topK, m.collection.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	out := make([]models.QueryResult, len(results))
	for i, r := range results {
		out[i] = models.QueryResult{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Score:    float64(r.Similarity),
		}
	}
	return out, nil
}

func (m *VectorDBManager) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		if c := m.db.GetCollection(m.collectionName, m.embed); c != nil {
			return c.Count(), nil
		}
		return 0, nil
	}
	return m.collection.Count(), nil
}

// Clear drops the collection and recreates it empty.
func (m *VectorDBManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	m.collection = nil
	_, err := m.getOrCreateCollection()
	return err
}

// Export writes the collection to the snapshot file. It is a no-op unless a
// snapshot path is configured.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.snapshot == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", m.snapshot).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(m.snapshot, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

func (m *VectorDBManager) Close() error {
	return nil
}
