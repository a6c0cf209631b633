package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// ContentGenerator is the part of llms.Model the generator needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Generator answers a question from retrieved context. It never returns an
// error: failures become the answer text.
type Generator struct {
	model       ContentGenerator
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewGenerator builds an openai chat-completion client from llmConfig.
func NewGenerator(llmConfig *config.LLMConfig) (*Generator, error) {
	log.Debug().Str("model", llmConfig.Model).Str("base_url", llmConfig.BaseURL).Msg("Creating answer generator")
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: init llm: %v", models.ErrConfiguration, err)
	}
	return NewGeneratorWithModel(llm, llmConfig), nil
}

// NewGeneratorWithModel wraps an existing model.
func NewGeneratorWithModel(model ContentGenerator, llmConfig *config.LLMConfig) *Generator {
	return &Generator{
		model:       model,
		temperature: llmConfig.Temperature,
		maxTokens:   llmConfig.MaxTokens,
		timeout:     llmConfig.Timeout,
	}
}

// Generate returns the model's answer to query given contextText.
func (g *Generator) Generate(ctx context.Context, query, contextText string) string {
	answer, err := g.GenerateContent(ctx, query, contextText)
	if err != nil {
		log.Error().Err(err).Msg("Answer generation failed")
		return fmt.Sprintf(models.GenerationErrorTemplate, err)
	}
	return answer
}

// GenerateContent is Generate with the error exposed.
func (g *Generator) GenerateContent(ctx context.Context, query, contextText string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(models.AnswerPromptTemplate, contextText, query)),
	}
	var opts []llms.CallOption
	if g.temperature > 0 {
		opts = append(opts, llms.WithTemperature(g.temperature))
	}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	res, err := g.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationService, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationService)
	}
	return res.Choices[0].Content, nil
}
