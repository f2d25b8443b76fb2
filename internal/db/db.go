package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Embedding     Vector            `bun:"embedding,notnull,type:vector"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Score         float64           `bun:"score,scanonly"`
}

// PgVectorStore keeps records in a Postgres table with a pgvector column and
// answers nearest-neighbour queries by cosine distance.
type PgVectorStore struct {
	db        *bun.DB
	dimension int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or lib/pq when cfg.Driver is "pq".
func ConnectDB(cfg *config.DatabaseConfig) (sqldb *sql.DB, err error) {
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.DSN)
	}

	// pgdriver.WithDSN panics on a malformed DSN
	defer func() {
		if r := recover(); r != nil {
			sqldb, err = nil, fmt.Errorf("invalid dsn: %v", r)
		}
	}()
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// NewPgVectorStore connects and pings the database.
func NewPgVectorStore(ctx context.Context, cfg *config.DatabaseConfig, dimension int) (*PgVectorStore, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PgVectorStore{db: db, dimension: dimension}, nil
}

// EnsureIndex creates the extension, table and HNSW cosine index if absent.
func (s *PgVectorStore) EnsureIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}

	// the vector dimension is only known at runtime, so the table is not created from the model
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	)`, s.dimension))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	_, err = s.db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("documents_embedding_idx").
		IfNotExists().
		Using("hnsw").
		ColumnExpr("embedding vector_cosine_ops").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	log.Debug().Int("dimension", s.dimension).Msg("pgvector schema ready")
	return nil
}

func (s *PgVectorStore) upsertQuery(docs *[]Document) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(docs).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Set("metadata = EXCLUDED.metadata")
}

func (s *PgVectorStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]Document, len(records))
	for i, r := range records {
		if len(r.Embedding) != s.dimension {
			return &models.ErrDimensionMismatch{Expected: s.dimension, Actual: len(r.Embedding)}
		}
		docs[i] = Document{ID: r.ID, Content: r.Text, Embedding: r.Embedding, Metadata: r.Metadata}
	}
	if _, err := s.upsertQuery(&docs).Exec(ctx); err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}
	return nil
}

func (s *PgVectorStore) searchQuery(docs *[]Document, vector Vector, topK int) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(docs).
		Column("id", "content", "metadata").
		ColumnExpr("1 - (embedding <=> ?::vector) AS score", vector).
		OrderExpr("embedding <=> ?::vector", vector).
		Limit(topK)
}

func (s *PgVectorStore) Query(ctx context.Context, vector []float32, topK int) ([]models.QueryResult, error) {
	if len(vector) != s.dimension {
		return nil, &models.ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}
	if topK <= 0 {
		return nil, nil
	}

	var docs []Document
	if err := s.searchQuery(&docs, vector, topK).Scan(ctx); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	out := make([]models.QueryResult, len(docs))
	for i, d := range docs {
		out[i] = models.QueryResult{ID: d.ID, Text: d.Content, Metadata: d.Metadata, Score: d.Score}
	}
	return out, nil
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
}

func (s *PgVectorStore) Clear(ctx context.Context) error {
	_, err := s.db.NewTruncateTable().Model((*Document)(nil)).Exec(ctx)
	return err
}

func (s *PgVectorStore) Close() error {
	return s.db.Close()
}
