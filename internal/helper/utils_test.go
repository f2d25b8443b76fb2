package helper

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDIsStableAndContentAddressed(t *testing.T) {
	a := ChunkID("docs/a.pdf", "0", "hello")
	b := ChunkID("docs/a.pdf", "0", "hello")
	c := ChunkID("docs/a.pdf", "1", "hello")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestCreateFolderIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	require.NoError(t, CreateFolder(dir))
	assert.DirExists(t, dir)
}
