package llmservice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
	deadline bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	_, f.deadline = ctx.Deadline()
	return f.resp, f.err
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	if len(m.Parts) != 1 {
		t.Fatalf("expected one part, got %d", len(m.Parts))
	}
	part, ok := m.Parts[0].(llms.TextContent)
	if !ok {
		t.Fatalf("expected text part, got %T", m.Parts[0])
	}
	return part.Text
}

func TestGenerate_BuildsPrompt(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "42"}}}}
	g := NewGeneratorWithModel(model, &config.LLMConfig{Temperature: 0.5, MaxTokens: 800, Timeout: time.Minute})

	got := g.Generate(context.Background(), "What is the answer?", "--- a.txt (Part 1) ---\nforty-two")
	if got != "42" {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(model.messages) != 2 {
		t.Fatalf("expected system and human messages, got %d", len(model.messages))
	}
	if model.messages[0].Role != schema.ChatMessageTypeSystem || model.messages[1].Role != schema.ChatMessageTypeHuman {
		t.Fatalf("unexpected roles %v %v", model.messages[0].Role, model.messages[1].Role)
	}
	human := textOf(t, model.messages[1])
	if !strings.Contains(human, "forty-two") || !strings.Contains(human, "Question: What is the answer?") {
		t.Fatalf("prompt missing context or question: %q", human)
	}
	if strings.Index(human, "forty-two") > strings.Index(human, "Question:") {
		t.Fatalf("context must precede the question")
	}
	if model.opts.Temperature != 0.5 || model.opts.MaxTokens != 800 {
		t.Fatalf("call options not applied: %+v", model.opts)
	}
	if !model.deadline {
		t.Fatalf("expected a deadline on the call context")
	}
}

func TestGenerate_FailureBecomesText(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	g := NewGeneratorWithModel(model, &config.LLMConfig{})

	got := g.Generate(context.Background(), "q", "c")
	if !strings.HasPrefix(got, "Error generating response:") || !strings.Contains(got, "rate limited") {
		t.Fatalf("unexpected failure text %q", got)
	}
	if model.deadline {
		t.Fatalf("no timeout configured, no deadline expected")
	}
}

func TestGenerateContent_EmptyChoices(t *testing.T) {
	g := NewGeneratorWithModel(&fakeModel{resp: &llms.ContentResponse{}}, &config.LLMConfig{})
	_, err := g.GenerateContent(context.Background(), "q", "c")
	if !errors.Is(err, models.ErrGenerationService) {
		t.Fatalf("expected ErrGenerationService, got %v", err)
	}
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator(&config.LLMConfig{Key: "Bearer sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if g == nil {
		t.Fatalf("nil generator")
	}
}
