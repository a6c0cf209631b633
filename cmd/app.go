package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tmc/langchaingo/embeddings"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/storage"
)

// app holds the collaborators shared by every session.
type app struct {
	cfg       *config.Config
	fs        afero.Fs
	embedder  embeddings.Embedder
	generator *llmservice.Generator
	registry  *prometheus.Registry
	metrics   *rag.Metrics
}

func newApp(cfg *config.Config) (*app, error) {
	if err := helper.CreateFolder(cfg.Storage.UploadDir); err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	generator, err := llmservice.NewGenerator(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing generator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &app{
		cfg:       cfg,
		fs:        afero.NewOsFs(),
		embedder:  embedder,
		generator: generator,
		registry:  registry,
		metrics:   rag.NewMetrics(registry),
	}, nil
}

func (a *app) newSession(dir string, opts ...rag.Option) (*rag.Session, error) {
	store, err := storage.NewDirStoreFs(a.fs, dir)
	if err != nil {
		return nil, err
	}
	opts = append(opts, rag.WithMetrics(a.metrics))
	if a.cfg.RAG.Backend == config.BackendChromem {
		opts = append(opts, rag.WithRetrieverFactory(chromemdb.NewRetriever))
	}
	return rag.NewSession(&a.cfg.RAG, store, parser.NewFileParser(a.fs), a.embedder, a.generator, opts...)
}

// newServerSession keeps each HTTP session's files in its own directory.
func (a *app) newServerSession(id string) (*rag.Session, error) {
	return a.newSession(filepath.Join(a.cfg.Storage.UploadDir, id), rag.WithID(id))
}

func newCLISession(cfg *config.Config) (*rag.Session, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	return a.newSession(cfg.Storage.UploadDir)
}

// uploadPaths reads local files and uploads them as one batch.
func uploadPaths(ctx context.Context, out io.Writer, sess *rag.Session, paths []string) error {
	osFs := afero.NewOsFs()
	files := make([]rag.File, 0, len(paths))
	for _, path := range paths {
		data, err := afero.ReadFile(osFs, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, rag.File{Name: fileName(path), Data: data})
	}
	summary, err := sess.Upload(ctx, files)
	if err != nil {
		return err
	}
	log.Debug().Str("status", sess.Status()).Msg("Upload finished")
	fmt.Fprintln(out, summary)
	return nil
}

func fileName(path string) string {
	return filepath.Base(path)
}
