package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/index"
	"document-qa/internal/models"
	"document-qa/internal/storage"
)

const (
	resultOK         = "ok"
	resultError      = "error"
	resultEmpty      = "empty"
	resultSuperseded = "superseded"

	outcomeAnswered    = "answered"
	outcomeNoDocuments = "no_documents"
	outcomeSearchError = "search_error"
	outcomeDiscarded   = "discarded"
)

// File is one uploaded file.
type File struct {
	Name string
	Data []byte
}

// Extractor turns a staged file into plain text.
type Extractor interface {
	ParseToText(path string) (string, error)
}

// AnswerGenerator produces the assistant reply. Failures are reported in the
// returned text.
type AnswerGenerator interface {
	Generate(ctx context.Context, query, contextText string) string
}

// RetrieverFactory builds the retriever queried for a freshly built index.
type RetrieverFactory func(ctx context.Context, idx *index.Index) (index.Retriever, error)

type State int

const (
	StateEmpty State = iota
	StateIndexed
)

func (s State) String() string {
	if s == StateIndexed {
		return "indexed"
	}
	return "empty"
}

// snapshot is replaced as a whole, never modified.
type snapshot struct {
	index     *index.Index
	retriever index.Retriever
}

// Session owns one conversation: the current index, the staged files and the
// history. Upload, Query and Reset are safe for concurrent use.
type Session struct {
	id           string
	chunker      *chunker.Chunker
	searchOpts   index.SearchOptions
	batchSize    int
	store        storage.FileStore
	extractor    Extractor
	embedder     embeddings.Embedder
	generator    AnswerGenerator
	newRetriever RetrieverFactory
	metrics      *Metrics
	logger       zerolog.Logger

	// uploadMu serialises uploads and the storage clearing done by Reset.
	uploadMu sync.Mutex

	mu           sync.RWMutex
	snap         *snapshot
	history      []models.Turn
	epoch        uint64
	cancelUpload context.CancelFunc
}

type Option func(*Session)

// WithRetrieverFactory replaces the brute-force retriever.
func WithRetrieverFactory(f RetrieverFactory) Option {
	return func(s *Session) { s.newRetriever = f }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession validates cfg and wires the collaborators.
func NewSession(cfg *config.RAGConfig, store storage.FileStore, extractor Extractor, embedder embeddings.Embedder, generator AnswerGenerator, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing rag config", models.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || extractor == nil || embedder == nil || generator == nil {
		return nil, fmt.Errorf("%w: session needs a store, extractor, embedder and generator", models.ErrConfiguration)
	}
	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	s := &Session{
		chunker:    c,
		searchOpts: index.SearchOptions{TopK: cfg.TopK, MinSimilarity: cfg.MinSimilarity},
		batchSize:  cfg.BatchSize,
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		generator:  generator,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		if s.id, err = helper.GenerateUUID(); err != nil {
			return nil, err
		}
	}
	s.logger = log.With().Str("session", s.id).Logger()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Upload replaces the staged files and the index with the given files.
// Files whose text cannot be extracted are skipped. On failure the previous
// index stays in place.
func (s *Session) Upload(ctx context.Context, files []File) (string, error) {
	start := time.Now()
	if len(files) == 0 {
		s.metrics.observeUpload(resultEmpty, 0, start)
		return "", models.ErrNoFiles
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	epoch := s.epoch
	s.cancelUpload = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelUpload = nil
		s.mu.Unlock()
	}()

	idx, names, err := s.buildIndex(ctx, files)
	if err == nil {
		err = s.install(ctx, epoch, idx)
	}
	if err != nil {
		if s.superseded(epoch) {
			err = models.ErrUploadSuperseded
		}
		result := resultError
		if errors.Is(err, models.ErrUploadSuperseded) {
			result = resultSuperseded
		}
		s.metrics.observeUpload(result, 0, start)
		s.logger.Error().Err(err).Msg("Upload failed")
		return "", err
	}

	s.metrics.observeUpload(resultOK, idx.Len(), start)
	s.logger.Info().Strs("files", names).Int("chunks", idx.Len()).Dur("took", time.Since(start)).Msg("Indexed upload")
	return fmt.Sprintf(models.UploadSummaryTemplate, strings.Join(names, ", "), idx.Len()), nil
}

// buildIndex stages, extracts, chunks and embeds files. Duplicate names keep
// the last file's content and the first name's position.
func (s *Session) buildIndex(ctx context.Context, files []File) (*index.Index, []string, error) {
	if err := s.store.Clear(); err != nil {
		return nil, nil, err
	}

	var names []string
	paths := make(map[string]string, len(files))
	for _, f := range files {
		path, err := s.store.Put(f.Name, f.Data)
		if err != nil {
			return nil, nil, err
		}
		name := filepath.Base(path)
		if _, seen := paths[name]; !seen {
			names = append(names, name)
		}
		paths[name] = path
	}

	var chunks []models.Chunk
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		text, err := s.extractor.ParseToText(paths[name])
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("no text")
		}
		if err != nil {
			s.logger.Warn().Err(fmt.Errorf("%w: %s: %v", models.ErrExtractionSkipped, name, err)).Msg("Skipping file")
			continue
		}
		chunks = append(chunks, s.chunker.ChunkDocument(name, text)...)
	}

	idx, err := index.Build(ctx, chunks, s.embedder, s.batchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("build index: %w", err)
	}
	return idx, names, nil
}

// install swaps in idx unless a Reset happened since the upload started.
func (s *Session) install(ctx context.Context, epoch uint64, idx *index.Index) error {
	var retriever index.Retriever = idx
	if s.newRetriever != nil && idx.Len() > 0 {
		r, err := s.newRetriever(ctx, idx)
		if err != nil {
			return fmt.Errorf("build retriever: %w", err)
		}
		retriever = r
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.release(retriever)
		return models.ErrUploadSuperseded
	}
	old := s.snap
	s.snap = &snapshot{index: idx, retriever: retriever}
	s.mu.Unlock()

	if old != nil {
		s.release(old.retriever)
	}
	return nil
}

// release drops backend resources held by a retriever that is no longer
// installed. Queries already holding it keep working on their copy.
func (s *Session) release(r index.Retriever) {
	d, ok := r.(interface{ DeleteCollection() error })
	if !ok {
		return
	}
	if err := d.DeleteCollection(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to release retriever")
	}
}

func (s *Session) superseded(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch != epoch
}

// Query answers message from the current index and appends the exchange to
// the history, returning a copy of it. A blank message changes nothing.
func (s *Session) Query(ctx context.Context, message string) []models.Turn {
	if strings.TrimSpace(message) == "" {
		return s.History()
	}
	start := time.Now()

	s.mu.RLock()
	snap, epoch := s.snap, s.epoch
	s.mu.RUnlock()

	var answer, outcome string
	if snap == nil || snap.index.Len() == 0 {
		answer, outcome = models.NoDocumentsLoaded, outcomeNoDocuments
	} else {
		answer, outcome = s.answer(ctx, snap, message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Debug().Msg("Discarding answer for a query that straddled a reset")
		outcome = outcomeDiscarded
	} else {
		s.history = append(s.history, models.Turn{User: message, Assistant: answer})
	}
	s.metrics.observeQuery(outcome, start)
	return append([]models.Turn(nil), s.history...)
}

func (s *Session) answer(ctx context.Context, snap *snapshot, message string) (string, string) {
	results, err := index.Search(ctx, snap.retriever, message, s.embedder, s.searchOpts)
	if err != nil {
		s.logger.Error().Err(err).Msg("Search failed")
		return fmt.Sprintf(models.SearchErrorTemplate, err), outcomeSearchError
	}
	s.logger.Debug().Int("results", len(results)).Msg("Retrieved chunks")
	return s.generator.Generate(ctx, message, BuildContext(results)), outcomeAnswered
}

// Reset drops the index, the history and the staged files, and cancels any
// upload in flight. It always succeeds.
func (s *Session) Reset(_ context.Context) string {
	s.mu.Lock()
	s.epoch++
	if s.cancelUpload != nil {
		s.cancelUpload()
	}
	old := s.snap
	s.snap = nil
	s.history = nil
	s.mu.Unlock()

	if old != nil {
		s.release(old.retriever)
	}

	s.uploadMu.Lock()
	if err := s.store.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear staged files")
	}
	s.uploadMu.Unlock()

	s.metrics.observeReset()
	s.logger.Info().Msg("Session reset")
	return models.ResetMessage
}

// Close resets the session and deletes its staging directory. The session
// must not be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.Reset(ctx)

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if err := s.store.Remove(); err != nil {
		return err
	}
	s.logger.Debug().Msg("Session closed")
	return nil
}

// Status summarises the loaded documents.
func (s *Session) Status() string {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap == nil || snap.index.Len() == 0 {
		return models.NoDocumentsStatus
	}
	return fmt.Sprintf(models.LoadedDocsTemplate, strings.Join(snap.index.Sources(), ", "), snap.index.Len())
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return StateEmpty
	}
	return StateIndexed
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Turn(nil), s.history...)
}

// Chunks returns the indexed chunks, nil before the first upload.
func (s *Session) Chunks() []models.Chunk {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap == nil {
		return nil
	}
	return snap.index.Chunks()
}
