package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

type flakyEmbedder struct {
	failures int
	calls    int
	dim      int
	block    bool
}

func (f *flakyEmbedder) next(ctx context.Context) ([]float32, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.calls <= f.failures {
		return nil, errors.New("temporarily unavailable")
	}
	return make([]float32, f.dim), nil
}

func (f *flakyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		v, err := f.next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *flakyEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	return f.next(ctx)
}

func TestGuardedEmbedder_RetriesThenSucceeds(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, dim: 4}
	g := NewGuardedEmbedder(inner, time.Second, 3, time.Millisecond)

	v, err := g.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(v) != 4 || inner.calls != 3 {
		t.Fatalf("expected 3 calls and dim 4, got %d calls dim %d", inner.calls, len(v))
	}
	if g.dim != 4 {
		t.Fatalf("expected recorded dimension 4, got %d", g.dim)
	}
}

func TestGuardedEmbedder_GivesUp(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, dim: 4}
	g := NewGuardedEmbedder(inner, time.Second, 2, time.Millisecond)

	_, err := g.EmbedDocuments(context.Background(), []string{"a", "b"})
	if !errors.Is(err, models.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestGuardedEmbedder_Timeout(t *testing.T) {
	inner := &flakyEmbedder{block: true}
	g := NewGuardedEmbedder(inner, 10*time.Millisecond, 0, 0)

	start := time.Now()
	_, err := g.EmbedQuery(context.Background(), "slow")
	if !errors.Is(err, models.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestGuardedEmbedder_CancelledContextStopsRetrying(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, dim: 2}
	g := NewGuardedEmbedder(inner, time.Second, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.EmbedQuery(ctx, "x"); !errors.Is(err, models.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", inner.calls)
	}
}

func TestGuardedEmbedder_DimensionDrift(t *testing.T) {
	inner := &flakyEmbedder{dim: 3}
	g := NewGuardedEmbedder(inner, time.Second, 0, 0)
	if _, err := g.EmbedQuery(context.Background(), "a"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	inner.dim = 5
	if _, err := g.EmbedQuery(context.Background(), "b"); !errors.Is(err, models.ErrEmbeddingService) {
		t.Fatalf("expected dimension drift error, got %v", err)
	}
}

func TestGuardedEmbedder_EmptyBatch(t *testing.T) {
	inner := &flakyEmbedder{dim: 3}
	g := NewGuardedEmbedder(inner, time.Second, 0, 0)
	v, err := g.EmbedDocuments(context.Background(), nil)
	if err != nil || v != nil || inner.calls != 0 {
		t.Fatalf("expected no-op for empty batch, got %v %v calls=%d", v, err, inner.calls)
	}
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "nope"}, 8)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewEmbedder_Providers(t *testing.T) {
	for _, cfg := range []config.LLMConfig{
		{Provider: config.ProviderOpenAI, Key: "sk-test", Model: "text-embedding-3-small"},
		{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "paraphrase-multilingual"},
	} {
		g, err := NewEmbedder(&cfg, 8)
		if err != nil {
			t.Fatalf("%s: %v", cfg.Provider, err)
		}
		if g == nil {
			t.Fatalf("%s: nil embedder", cfg.Provider)
		}
	}
}
