package parser

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

// Loader walks a directory tree and turns every eligible file into chunks.
type Loader struct {
	extensions []string
	splitter   Splitter
}

func NewLoader(cfg config.LoaderConfig) (*Loader, error) {
	splitter, err := NewSplitter(cfg.Splitter, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !Supported(ext) {
			log.Warn().Str("extension", ext).Msg("No extractor for extension, ignoring")
			continue
		}
		exts = append(exts, ext)
	}
	return &Loader{extensions: exts, splitter: splitter}, nil
}

// LoadAndSplit returns the chunks of every eligible file under root. A file
// that fails to parse is logged and skipped; chunk order within a file follows
// the document.
func (l *Loader) LoadAndSplit(ctx context.Context, root string) ([]models.DocumentChunk, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, models.Wrap(models.ErrIngestion, "open document directory", err)
	}
	if !info.IsDir() {
		return nil, models.Wrap(models.ErrIngestion, "open document directory", fmt.Errorf("%s is not a directory", root))
	}

	var (
		chunks  []models.DocumentChunk
		files   int
		skipped int
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Error walking path, skipping")
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.eligible(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fileChunks, err := l.loadFile(path)
		if err != nil {
			skipped++
			log.Error().Err(err).Str("file", path).Msg("Error processing file, skipping")
			return nil
		}
		files++
		chunks = append(chunks, fileChunks...)
		return nil
	})

	log.Info().Int("files", files).Int("skipped", skipped).Int("chunks", len(chunks)).Msg("Loaded documents")
	if walkErr != nil {
		return chunks, walkErr
	}
	return chunks, nil
}

func (l *Loader) eligible(path string) bool {
	return slices.Contains(l.extensions, strings.ToLower(filepath.Ext(path)))
}

func (l *Loader) loadFile(path string) ([]models.DocumentChunk, error) {
	extracted, err := ExtractText(path)
	if err != nil {
		return nil, err
	}
	spans, err := l.splitter.Split(extracted.Text)
	if err != nil {
		return nil, err
	}

	fileMeta := map[string]string{
		models.MetaSource:   path,
		models.MetaFileName: filepath.Base(path),
		models.MetaFileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		models.MetaPages:    strconv.Itoa(extracted.Pages()),
	}

	chunks := make([]models.DocumentChunk, 0, len(spans))
	for i, span := range spans {
		meta := models.CopyMetadata(fileMeta)
		meta[models.MetaChunkIndex] = strconv.Itoa(i)
		meta[models.MetaOffset] = strconv.Itoa(span.Offset)
		meta[models.MetaPage] = strconv.Itoa(extracted.PageAt(span.Offset))
		chunks = append(chunks, models.DocumentChunk{Text: span.Text, Metadata: meta})
	}
	log.Debug().Str("file", path).Int("chunks", len(chunks)).Msg("Split document")
	return chunks, nil
}
