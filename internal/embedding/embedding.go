package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

// Model embeds text with a lazily loaded pretrained model. The loaded handle is
// kept for the life of the Model. When serialize is set, encode calls are run
// one at a time because the runtime behind the handle may not be thread-safe.
type Model struct {
	newClient func() (embeddings.EmbedderClient, error)
	serialize bool

	loadMu   sync.Mutex
	embedder embeddings.Embedder

	encodeMu sync.Mutex
	limiter  *rate.Limiter
}

// NewModel returns a Model for the configured provider. Nothing is loaded
// until the first Embed call.
func NewModel(cfg config.LLMConfig) *Model {
	serialize := cfg.Serialize == nil || *cfg.Serialize
	m := &Model{
		newClient: func() (embeddings.EmbedderClient, error) { return newClient(cfg) },
		serialize: serialize,
	}
	if cfg.RateLimit > 0 {
		m.SetRateLimit(cfg.RateLimit)
	}
	return m
}

// SetRateLimit caps encode calls at perSecond.
func (m *Model) SetRateLimit(perSecond float64) {
	m.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

// NewModelFromClient wraps an already constructed embedding client.
func NewModelFromClient(client embeddings.EmbedderClient, serialize bool) *Model {
	return &Model{
		newClient: func() (embeddings.EmbedderClient, error) { return client, nil },
		serialize: serialize,
	}
}

func newClient(cfg config.LLMConfig) (embeddings.EmbedderClient, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Loading embedding model")

	switch cfg.Provider {
	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

func (m *Model) load() (embeddings.Embedder, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if m.embedder != nil {
		return m.embedder, nil
	}

	client, err := m.newClient()
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, err
	}
	m.embedder = embedder
	return embedder, nil
}

// Embed converts text to a vector. Failures and empty vectors are ErrEmbedding.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	embedder, err := m.load()
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedding, "load model", err)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, models.Wrap(models.ErrEmbedding, "rate limit", err)
		}
	}
	if m.serialize {
		m.encodeMu.Lock()
		defer m.encodeMu.Unlock()
	}
	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedding, "encode", err)
	}
	if len(vec) == 0 {
		return nil, models.Wrap(models.ErrEmbedding, "encode", errors.New("generated embedding is empty"))
	}
	return vec, nil
}
