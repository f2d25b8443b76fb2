package chromemdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

func newInMemory(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(config.ChromemConfig{InMemory: true, Collection: "test"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.EnsureIndex(context.Background()))
	return m
}

func record(id, text string, vec ...float32) models.VectorRecord {
	return models.VectorRecord{ID: id, Text: text, Embedding: vec, Metadata: map[string]string{"source": id + ".pdf"}}
}

func TestQueryRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	m := newInMemory(t)

	require.NoError(t, m.Upsert(ctx, []models.VectorRecord{
		record("revenue", "quarterly revenue report", 0.05, 0.95, 0.3),
		record("pie", "apple pie recipe", 0.9, 0.1, 0.2),
	}))

	// "dessert ingredients" lands close to the recipe
	res, err := m.Query(ctx, []float32{0.85, 0.15, 0.25}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "apple pie recipe", res[0].Text)
	assert.Equal(t, "quarterly revenue report", res[1].Text)
	assert.Greater(t, res[0].Score, res[1].Score)
	assert.Equal(t, "pie.pdf", res[0].Metadata["source"])
}

func TestQueryEmptyStore(t *testing.T) {
	res, err := newInMemory(t).Query(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestQueryClampsTopKToCount(t *testing.T) {
	ctx := context.Background()
	m := newInMemory(t)
	require.NoError(t, m.Upsert(ctx, []models.VectorRecord{record("a", "a", 1, 0)}))

	res, err := m.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	m := newInMemory(t)

	require.NoError(t, m.Upsert(ctx, []models.VectorRecord{record("a", "old", 1, 0), record("b", "b", 0, 1)}))
	require.NoError(t, m.Upsert(ctx, []models.VectorRecord{record("a", "new", 1, 0)}))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := m.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "new", res[0].Text)
}

func TestClearEmptiesCollection(t *testing.T) {
	ctx := context.Background()
	m := newInMemory(t)
	require.NoError(t, m.Upsert(ctx, []models.VectorRecord{record("a", "a", 1, 0)}))

	require.NoError(t, m.Clear(ctx))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.ChromemConfig{
		InMemory:      true,
		Collection:    "snap",
		EncryptionKey: "0123456789abcdef0123456789abcdef",
		Snapshot:      filepath.Join(t.TempDir(), "snap.chromem"),
	}

	first, err := NewVectorDBManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.EnsureIndex(ctx))
	require.NoError(t, first.Upsert(ctx, []models.VectorRecord{record("a", "kept", 1, 0)}))
	require.NoError(t, first.Export(ctx))

	second, err := NewVectorDBManager(cfg, nil)
	require.NoError(t, err)
	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistentDBSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.ChromemConfig{Path: filepath.Join(t.TempDir(), "db"), Collection: "docs"}

	first, err := NewVectorDBManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.EnsureIndex(ctx))
	require.NoError(t, first.Upsert(ctx, []models.VectorRecord{record("a", "a", 1, 0), record("b", "b", 0, 1)}))

	second, err := NewVectorDBManager(cfg, nil)
	require.NoError(t, err)
	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
