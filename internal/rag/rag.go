package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docs-rag/internal/config"
	"docs-rag/internal/embedding"
	"docs-rag/internal/helper"
	"docs-rag/internal/llmservice"
	"docs-rag/internal/models"
	"docs-rag/internal/parser"
	"docs-rag/internal/vectorstore"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, question string, chunks []models.QueryResult) (string, error)
}

type ChunkLoader interface {
	LoadAndSplit(ctx context.Context, root string) ([]models.DocumentChunk, error)
}

type Options struct {
	BatchSize  int
	MaxWorkers int
	TopK       int
	// Dimension is the expected embedding length, 0 disables the check.
	Dimension int
	Loader    ChunkLoader
}

// RAG ties the loader, embedder, store and generator together.
type RAG struct {
	store     vectorstore.Store
	embedder  Embedder
	generator Generator
	opts      Options
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Skipped       bool
	Existing      int
	Total         int
	Stored        int
	FailedChunks  int
	FailedBatches int
	Interrupted   bool
}

type Answer struct {
	Question string
	Response *models.PromptResponse
	Err      error
}

// BatchReport carries one Answer per question in the order asked.
type BatchReport struct {
	Answers     []Answer
	Succeeded   int
	Failed      int
	Interrupted bool
}

func New(store vectorstore.Store, embedder Embedder, generator Generator, opts Options) *RAG {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &RAG{store: store, embedder: embedder, generator: generator, opts: opts}
}

// Bootstrap validates cfg and wires every collaborator. Store failures wrap
// models.ErrConnection.
func Bootstrap(ctx context.Context, cfg *config.Config) (*RAG, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loader, err := parser.NewLoader(cfg.Loader)
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "loader", err)
	}
	generator, err := llmservice.NewGenerator(cfg.InferenceLLM)
	if err != nil {
		return nil, models.Wrap(models.ErrConnection, "generator", err)
	}
	store, err := vectorstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return New(store, embedding.NewModel(cfg.EmbedLLM), generator, Options{
		BatchSize:  cfg.RAG.BatchSize,
		MaxWorkers: cfg.RAG.MaxWorkers,
		TopK:       cfg.RAG.TopK,
		Dimension:  cfg.EmbedLLM.Dimension,
		Loader:     loader,
	}), nil
}

// IngestIfEmpty loads and stores the documents under dir unless the store
// already holds records. force clears the store and ingests regardless.
func (r *RAG) IngestIfEmpty(ctx context.Context, dir string, force bool) (IngestReport, error) {
	existing, err := r.store.Count(ctx)
	if err != nil {
		return IngestReport{}, models.Wrap(models.ErrConnection, "count", err)
	}
	if existing > 0 && !force {
		log.Info().Int("documents", existing).Msg("Vector store already populated, skipping ingestion")
		return IngestReport{Skipped: true, Existing: existing}, nil
	}
	if r.opts.Loader == nil {
		return IngestReport{}, models.Wrap(models.ErrIngestion, "load", fmt.Errorf("no loader configured"))
	}

	chunks, err := r.opts.Loader.LoadAndSplit(ctx, dir)
	if err != nil {
		return IngestReport{}, err
	}
	report, err := r.StoreEmbeddings(ctx, chunks, force)
	report.Existing = existing
	return report, err
}

// StoreEmbeddings embeds chunks in batches and upserts each batch. Failed
// chunks and batches are logged and counted. Once ctx is cancelled no new
// work starts; embeddings already running finish and are stored.
func (r *RAG) StoreEmbeddings(ctx context.Context, chunks []models.DocumentChunk, force bool) (IngestReport, error) {
	report := IngestReport{Total: len(chunks)}
	if force {
		if err := r.store.Clear(ctx); err != nil {
			return report, models.Wrap(models.ErrIngestion, "clear", err)
		}
		log.Info().Msg("Cleared vector store")
	}

	drain := context.WithoutCancel(ctx)
	for start := 0; start < len(chunks); start += r.opts.BatchSize {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		end := min(start+r.opts.BatchSize, len(chunks))

		records, failed, interrupted := r.embedBatch(ctx, chunks[start:end])
		report.FailedChunks += failed
		if interrupted {
			report.Interrupted = true
		}
		if len(records) > 0 {
			if err := r.store.Upsert(drain, records); err != nil {
				report.FailedBatches++
				log.Error().Err(models.Wrap(models.ErrIngestion, "upsert", err)).
					Int("batch_start", start).Int("records", len(records)).Msg("Error storing batch, continuing")
			} else {
				report.Stored += len(records)
			}
		}
		log.Debug().Int("processed", end).Int("total", len(chunks)).Msg("Batch done")
		if interrupted {
			break
		}
	}

	if report.Stored > 0 {
		if ex, ok := r.store.(vectorstore.Exporter); ok {
			if err := ex.Export(drain); err != nil {
				log.Error().Err(err).Msg("Error exporting vector store snapshot")
			}
		}
	}

	log.Info().
		Int("stored", report.Stored).
		Int("failed_chunks", report.FailedChunks).
		Int("failed_batches", report.FailedBatches).
		Bool("interrupted", report.Interrupted).
		Msgf("Processing complete. Total documents processed: %d/%d", report.Stored, report.Total)
	return report, nil
}

// embedBatch embeds a batch with at most MaxWorkers calls in flight and
// returns the successful records in chunk order.
func (r *RAG) embedBatch(ctx context.Context, batch []models.DocumentChunk) ([]models.VectorRecord, int, bool) {
	var (
		g           errgroup.Group
		failed      atomic.Int32
		interrupted bool
		slots       = make([]*models.VectorRecord, len(batch))
		drain       = context.WithoutCancel(ctx)
	)
	g.SetLimit(r.opts.MaxWorkers)

	for i, chunk := range batch {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		g.Go(func() error {
			rec, err := r.embedChunk(drain, chunk)
			if err != nil {
				failed.Add(1)
				log.Error().Err(err).Str("source", chunk.Metadata[models.MetaSource]).
					Str("chunk", chunk.Metadata[models.MetaChunkIndex]).Msg("Error embedding chunk, skipping")
				return nil
			}
			slots[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.VectorRecord, 0, len(batch))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, int(failed.Load()), interrupted
}

func (r *RAG) embedChunk(ctx context.Context, chunk models.DocumentChunk) (*models.VectorRecord, error) {
	vec, err := r.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return nil, models.Wrap(models.ErrIngestion, "embed", err)
	}
	if err := r.checkDimension(vec); err != nil {
		return nil, models.Wrap(models.ErrIngestion, "embed", err)
	}
	return &models.VectorRecord{
		ID:        helper.ChunkID(chunk.Metadata[models.MetaSource], chunk.Metadata[models.MetaChunkIndex], chunk.Text),
		Embedding: vec,
		Text:      chunk.Text,
		Metadata:  models.CopyMetadata(chunk.Metadata),
	}, nil
}

func (r *RAG) checkDimension(vec []float32) error {
	if r.opts.Dimension > 0 && len(vec) != r.opts.Dimension {
		return &models.ErrDimensionMismatch{Expected: r.opts.Dimension, Actual: len(vec)}
	}
	return nil
}

// Query retrieves the closest chunks for question and asks the generator to
// answer from them. With nothing retrieved the fixed no-context answer is
// returned and the generator is not called.
func (r *RAG) Query(ctx context.Context, question string) (*models.PromptResponse, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, models.Wrap(models.ErrQuery, "embed question", err)
	}
	if err := r.checkDimension(vec); err != nil {
		return nil, models.Wrap(models.ErrQuery, "embed question", err)
	}

	results, err := r.store.Query(ctx, vec, r.opts.TopK)
	if err != nil {
		return nil, models.Wrap(models.ErrQuery, "search", err)
	}
	log.Debug().Str("question", question).Int("results", len(results)).Msg("Retrieved context")

	resp := &models.PromptResponse{Query: question}
	if len(results) == 0 {
		resp.Content = models.NoContextAnswer
		return resp, nil
	}

	answer, err := r.generator.Generate(ctx, question, results)
	if err != nil {
		if errors.Is(err, models.ErrQuery) {
			return nil, err
		}
		return nil, models.Wrap(models.ErrQuery, "generate", err)
	}
	resp.Source = sources(results)
	resp.Content = answer
	return resp, nil
}

// sources lists the distinct source paths of results, in retrieval order.
func sources(results []models.QueryResult) string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, res := range results {
		src := res.Metadata[models.MetaSource]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		if page := res.Metadata[models.MetaPage]; page != "" {
			out = append(out, fmt.Sprintf("%s (page %s)", src, page))
			continue
		}
		out = append(out, src)
	}
	return strings.Join(out, ", ")
}

// AnswerAll answers each question in turn. A failed question is recorded and
// the rest still run.
func (r *RAG) AnswerAll(ctx context.Context, questions []string) BatchReport {
	report := BatchReport{Answers: make([]Answer, 0, len(questions))}
	for _, q := range questions {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		resp, err := r.Query(ctx, q)
		if err != nil {
			report.Failed++
			log.Error().Err(err).Str("question", q).Msg("Error answering question")
		} else {
			report.Succeeded++
		}
		report.Answers = append(report.Answers, Answer{Question: q, Response: resp, Err: err})
	}
	log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("Answered questions")
	return report
}

func (r *RAG) Close() error {
	return r.store.Close()
}
