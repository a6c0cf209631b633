package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultBatchSize     = 32
	DefaultTopK          = 3
	DefaultMinSimilarity = 0.3
	DefaultUploadDir     = "./documents"
	DefaultMaxUpload     = "64M"
	DefaultAPIKeyEnv     = "OPENAI_API_KEY"

	BackendMemory  = "memory"
	BackendChromem = "chromem"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	LLM      LLMConfig     `yaml:"llm"`
	EmbedLLM LLMConfig     `yaml:"embed_llm"`
	RAG      RAGConfig     `yaml:"rag"`
	Storage  StorageConfig `yaml:"storage"`
	Server   ServerConfig  `yaml:"server"`
	Log      LogConfig     `yaml:"log"`
}

// LLMConfig describes one model endpoint. Key is never read from the file,
// it is resolved from the environment variable named by APIKeyEnv.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Key         string        `yaml:"-"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type RAGConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	BatchSize     int     `yaml:"batch_size"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
	Backend       string  `yaml:"backend"`
}

type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
}

type ServerConfig struct {
	Address       string `yaml:"address"`
	// MaxUploadSize limits one upload request body, e.g. "64M" or "512K".
	MaxUploadSize string `yaml:"max_upload_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the yaml file at path on top of the defaults. A missing
// file yields the defaults. Secrets are resolved from the environment and the
// result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyProviderDefaults()
	cfg.resolveKeys()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the documented defaults with no keys resolved.
func Default() *Config {
	cfg := defaults()
	cfg.applyProviderDefaults()
	return cfg
}

// defaults leaves the embedding model empty so it can follow the provider.
func defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			APIKeyEnv:   DefaultAPIKeyEnv,
			Temperature: 0.5,
			MaxTokens:   800,
			Timeout:     60 * time.Second,
		},
		EmbedLLM: LLMConfig{
			Provider:   ProviderOpenAI,
			APIKeyEnv:  DefaultAPIKeyEnv,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		RAG: RAGConfig{
			ChunkSize:     DefaultChunkSize,
			ChunkOverlap:  DefaultChunkOverlap,
			BatchSize:     DefaultBatchSize,
			TopK:          DefaultTopK,
			MinSimilarity: DefaultMinSimilarity,
			Backend:       BackendMemory,
		},
		Storage: StorageConfig{UploadDir: DefaultUploadDir},
		Server:  ServerConfig{Address: ":8080", MaxUploadSize: DefaultMaxUpload},
		Log:     LogConfig{Level: "info"},
	}
}

func (c *Config) applyProviderDefaults() {
	if c.EmbedLLM.Model != "" {
		return
	}
	switch c.EmbedLLM.Provider {
	case ProviderOllama:
		c.EmbedLLM.Model = "paraphrase-multilingual"
	default:
		c.EmbedLLM.Model = "text-embedding-3-small"
	}
}

func (c *Config) resolveKeys() {
	c.LLM.Key = strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
	c.EmbedLLM.Key = strings.TrimSpace(os.Getenv(c.EmbedLLM.APIKeyEnv))
}

// Validate reports the first invalid setting, wrapped in models.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if c.LLM.Key == "" && c.LLM.Provider == ProviderOpenAI {
		return fmt.Errorf("%w: %s is not set; the answer generator needs an API key", models.ErrConfiguration, c.LLM.APIKeyEnv)
	}
	switch c.EmbedLLM.Provider {
	case ProviderOpenAI:
		if c.EmbedLLM.Key == "" {
			return fmt.Errorf("%w: %s is not set; the openai embedder needs an API key", models.ErrConfiguration, c.EmbedLLM.APIKeyEnv)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, c.EmbedLLM.Provider)
	}
	if c.LLM.Provider != ProviderOpenAI {
		return fmt.Errorf("%w: unknown llm provider %q", models.ErrConfiguration, c.LLM.Provider)
	}
	if c.EmbedLLM.MaxRetries < 0 || c.EmbedLLM.MaxRetries > 10 {
		return fmt.Errorf("%w: embed_llm.max_retries must be 0-10, got %d", models.ErrConfiguration, c.EmbedLLM.MaxRetries)
	}
	if n, err := bytes.Parse(c.Server.MaxUploadSize); err != nil || n <= 0 {
		return fmt.Errorf("%w: server.max_upload_size must be a positive size like \"64M\", got %q", models.ErrConfiguration, c.Server.MaxUploadSize)
	}
	return nil
}

// Validate checks the retrieval parameters.
func (r RAGConfig) Validate() error {
	if r.ChunkSize <= 0 {
		return fmt.Errorf("%w: rag.chunk_size must be > 0, got %d", models.ErrConfiguration, r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("%w: rag.chunk_overlap must be in [0, %d), got %d", models.ErrConfiguration, r.ChunkSize, r.ChunkOverlap)
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("%w: rag.batch_size must be > 0, got %d", models.ErrConfiguration, r.BatchSize)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("%w: rag.top_k must be > 0, got %d", models.ErrConfiguration, r.TopK)
	}
	if r.MinSimilarity < -1 || r.MinSimilarity >= 1 {
		return fmt.Errorf("%w: rag.min_similarity must be in [-1, 1), got %f", models.ErrConfiguration, r.MinSimilarity)
	}
	switch r.Backend {
	case BackendMemory, BackendChromem:
	default:
		return fmt.Errorf("%w: unknown rag.backend %q", models.ErrConfiguration, r.Backend)
	}
	return nil
}
