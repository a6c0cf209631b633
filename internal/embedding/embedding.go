package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
)

// NewEmbedder creates the embedder for the configured provider, wrapped with
// timeouts and retries.
func NewEmbedder(llmConfig *config.LLMConfig, batchSize int) (*GuardedEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Loaded embedder config")

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: init ollama: %v", models.ErrConfiguration, err)
		}
		client = llm
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: init openai: %v", models.ErrConfiguration, err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, llmConfig.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: create embedder: %v", models.ErrConfiguration, err)
	}
	return NewGuardedEmbedder(embedder, llmConfig.Timeout, llmConfig.MaxRetries, llmConfig.RetryDelay), nil
}

// GuardedEmbedder bounds every call with a timeout, retries transient
// failures with backoff and rejects vectors whose dimensionality drifts.
// All failures wrap models.ErrEmbeddingService.
type GuardedEmbedder struct {
	inner      embeddings.Embedder
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration

	mu  sync.Mutex
	dim int
}

func NewGuardedEmbedder(inner embeddings.Embedder, timeout time.Duration, maxRetries int, retryDelay time.Duration) *GuardedEmbedder {
	return &GuardedEmbedder{
		inner:      inner,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// EmbedDocuments returns one vector per text, in order.
func (g *GuardedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := g.do(ctx, "documents", func(callCtx context.Context) error {
		var err error
		vectors, err = g.inner.EmbedDocuments(callCtx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingService, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := g.checkDim(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (g *GuardedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := g.do(ctx, "query", func(callCtx context.Context) error {
		var err error
		vector, err = g.inner.EmbedQuery(callCtx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := g.checkDim(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (g *GuardedEmbedder) do(ctx context.Context, kind string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := helper.CalculateBackoff(g.retryDelay, attempt)
			log.Warn().Err(lastErr).Str("kind", kind).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying embedding call")
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%w: %v", models.ErrEmbeddingService, err)
			}
		}

		callCtx, cancel := g.callContext(ctx)
		lastErr = call(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: embed %s: %v", models.ErrEmbeddingService, kind, lastErr)
}

func (g *GuardedEmbedder) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *GuardedEmbedder) checkDim(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrEmbeddingService)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim == 0 {
		g.dim = len(v)
		return nil
	}
	if len(v) != g.dim {
		return fmt.Errorf("%w: vector dimension changed from %d to %d", models.ErrEmbeddingService, g.dim, len(v))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
