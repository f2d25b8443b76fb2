package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

// ChatModel is the part of llms.Model the generator needs.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Generator produces grounded answers through an OpenAI-compatible chat endpoint.
type Generator struct {
	model       ChatModel
	temperature float64
	maxRetries  int
	delay       func(attempt int) time.Duration
}

func NewGenerator(cfg config.LLMConfig) (*Generator, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating generation client")
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	return NewGeneratorFromModel(llm, cfg.Temperature, cfg.MaxRetries), nil
}

func NewGeneratorFromModel(model ChatModel, temperature float64, maxRetries int) *Generator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Generator{
		model:       model,
		temperature: temperature,
		maxRetries:  maxRetries,
		delay:       retryDelay,
	}
}

// Generate answers question using only the retrieved chunks as context.
func (g *Generator) Generate(ctx context.Context, question string, chunks []models.QueryResult) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(question, chunks)),
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, g.delay(attempt-1)); err != nil {
				return "", models.Wrap(models.ErrQuery, "generate", err)
			}
		}
		answer, err := g.generateOnce(ctx, messages)
		if err == nil {
			return answer, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", models.Wrap(models.ErrQuery, "generate", err)
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Generation failed")
	}
	return "", models.Wrap(models.ErrQuery, "generate", lastErr)
}

func (g *Generator) generateOnce(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := g.model.GenerateContent(ctx, messages, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}

// BuildPrompt fills the grounding template with the chunk texts in store order.
func BuildPrompt(question string, chunks []models.QueryResult) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return fmt.Sprintf(models.GroundingPromptTemplate, strings.Join(texts, models.ContextSeparator), question)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
