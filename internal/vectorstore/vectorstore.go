package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"docs-rag/internal/chromemdb"
	"docs-rag/internal/config"
	"docs-rag/internal/db"
	"docs-rag/internal/models"
	"docs-rag/internal/mongodb"
	"docs-rag/internal/qdrant"
)

// Store persists embedded chunks and answers nearest-neighbor queries.
// Upsert must be idempotent by record id.
type Store interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int) ([]models.QueryResult, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Exporter is implemented by stores that can write a snapshot of themselves.
type Exporter interface {
	Export(ctx context.Context) error
}

// Exists reports whether the store holds at least one record.
func Exists(ctx context.Context, s Store) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Open connects to the configured backend and makes sure its index exists.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, models.Wrap(models.ErrConnection, cfg.VectorStore.Type, err)
	}
	if err := s.EnsureIndex(ctx); err != nil {
		_ = s.Close()
		return nil, models.Wrap(models.ErrConnection, "ensure index", err)
	}
	log.Info().Str("type", cfg.VectorStore.Type).Msg("Vector store ready")
	return s, nil
}

func open(ctx context.Context, cfg *config.Config) (Store, error) {
	vs := cfg.VectorStore
	dim := cfg.EmbedLLM.Dimension

	switch vs.Type {
	case config.StoreChromem:
		return chromemdb.NewVectorDBManager(vs.Chromem, nil)
	case config.StorePgVector:
		return db.NewPgVectorStore(ctx, &vs.Database, dim)
	case config.StoreMongoDB:
		log.Warn().Msg("mongodb store ranks by spherical distance on a 2dsphere index; results approximate cosine similarity")
		return mongodb.NewStore(ctx, &vs.MongoDB)
	case config.StoreQdrant:
		s := qdrant.NewStorage(vs.Qdrant, dim)
		if err := s.Ping(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store type %q", vs.Type)
	}
}
