package helper

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// chunkNamespace scopes content-addressed record ids to this application.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docs-rag/chunk"))

// ChunkID derives a stable UUIDv5 from a chunk's source, position and text,
// so re-ingesting the same chunk overwrites instead of duplicating.
func ChunkID(source, chunkIndex, text string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"\x00"+chunkIndex+"\x00"+text)).String()
}

// CreateFolder creates path and its parents if missing.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %v", path, err)
	}
	return nil
}
