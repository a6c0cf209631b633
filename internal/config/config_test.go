package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"document-qa/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "sk-test")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.ChunkSize != 1000 || cfg.RAG.ChunkOverlap != 200 || cfg.RAG.BatchSize != 32 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.RAG)
	}
	if cfg.RAG.TopK != 3 || cfg.RAG.MinSimilarity != 0.3 {
		t.Fatalf("unexpected search defaults: %+v", cfg.RAG)
	}
	if cfg.LLM.Key != "sk-test" || cfg.EmbedLLM.Key != "sk-test" {
		t.Fatalf("expected keys resolved from env, got %q / %q", cfg.LLM.Key, cfg.EmbedLLM.Key)
	}
	if cfg.EmbedLLM.Model != "text-embedding-3-small" {
		t.Fatalf("unexpected embedding model %q", cfg.EmbedLLM.Model)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Setenv("MY_KEY", "sk-file")
	path := writeConfig(t, `
llm:
  api_key_env: MY_KEY
  timeout: 5s
embed_llm:
  provider: ollama
  base_url: http://localhost:11434
rag:
  chunk_size: 500
  chunk_overlap: 0
  top_k: 5
  backend: chromem
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.ChunkSize != 500 || cfg.RAG.ChunkOverlap != 0 || cfg.RAG.TopK != 5 {
		t.Fatalf("file values not applied: %+v", cfg.RAG)
	}
	if cfg.RAG.BatchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.RAG.BatchSize)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.LLM.Timeout)
	}
	if cfg.EmbedLLM.Model != "paraphrase-multilingual" {
		t.Fatalf("expected ollama default model, got %q", cfg.EmbedLLM.Model)
	}
	if cfg.RAG.Backend != BackendChromem {
		t.Fatalf("expected chromem backend, got %q", cfg.RAG.Backend)
	}
}

func TestLoadConfig_MissingKeyFailsFast(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadConfig_MaxUploadSize(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "sk-test")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  max_upload_size: 512K\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.MaxUploadSize != "512K" || cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}

	for _, bad := range []string{"lots", "0", "-5M"} {
		_, err := LoadConfig(writeConfig(t, "server:\n  max_upload_size: \""+bad+"\"\n"))
		if !errors.Is(err, models.ErrConfiguration) {
			t.Fatalf("max_upload_size %q: expected ErrConfiguration, got %v", bad, err)
		}
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "rag: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRAGConfigValidate(t *testing.T) {
	valid := Default().RAG

	tests := []struct {
		name   string
		mutate func(*RAGConfig)
	}{
		{"zero chunk size", func(r *RAGConfig) { r.ChunkSize = 0 }},
		{"overlap equals size", func(r *RAGConfig) { r.ChunkOverlap = r.ChunkSize }},
		{"negative overlap", func(r *RAGConfig) { r.ChunkOverlap = -1 }},
		{"zero batch", func(r *RAGConfig) { r.BatchSize = 0 }},
		{"zero top k", func(r *RAGConfig) { r.TopK = 0 }},
		{"threshold too high", func(r *RAGConfig) { r.MinSimilarity = 1 }},
		{"unknown backend", func(r *RAGConfig) { r.Backend = "faiss" }},
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
