package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/index"
	"document-qa/internal/models"
)

const DefaultCollectionName = "documents"

// errNoEmbedding is returned if chromem ever tries to embed text itself.
// Vectors always come from the configured embedder.
var errNoEmbedding = errors.New("chromemdb: embeddings must be supplied by the caller")

// VectorDBManager mirrors an index into an in-memory chromem collection and
// retrieves from it. Document IDs are index positions.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	chunks     []models.Chunk
	skipped    int
}

// NewVectorDBManager loads every usable vector of idx into a fresh collection.
// Empty and zero-norm vectors are skipped since they cannot be normalised.
func NewVectorDBManager(ctx context.Context, collectionName string, idx *index.Index) (*VectorDBManager, error) {
	db := chromem.NewDB()
	c, err := db.CreateCollection(collectionName, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %v", err)
	}

	m := &VectorDBManager{
		db:         db,
		collection: c,
		chunks:     idx.Chunks(),
	}

	docs := make([]chromem.Document, 0, idx.Len())
	for i, chunk := range m.chunks {
		vector := idx.Vector(i)
		if !usable(vector) {
			m.skipped++
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      strconv.Itoa(i),
			Content: chunk.Content,
			Metadata: map[string]string{
				"source_filename": chunk.SourceFilename,
				"sequence_index":  strconv.Itoa(chunk.SequenceIndex),
			},
			Embedding: vector,
		})
	}
	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("failed to add documents: %v", err)
		}
	}
	if m.skipped > 0 {
		log.Warn().Int("skipped", m.skipped).Msg("Skipped chunks with zero vectors")
	}
	log.Debug().Str("collection", collectionName).Int("documents", len(docs)).Msg("Loaded chromem collection")
	return m, nil
}

// NewRetriever adapts NewVectorDBManager to a retriever factory.
func NewRetriever(ctx context.Context, idx *index.Index) (index.Retriever, error) {
	return NewVectorDBManager(ctx, DefaultCollectionName, idx)
}

// Count returns the number of stored documents.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Len implements index.Retriever.
func (m *VectorDBManager) Len() int {
	return m.Count()
}

// Retrieve implements index.Retriever. Ordering, top_k and the similarity
// cut-off follow index.Finalize so both backends agree.
func (m *VectorDBManager) Retrieve(ctx context.Context, queryVector []float32, opts index.SearchOptions) ([]index.Result, error) {
	n := m.Count()
	if n == 0 || !usable(queryVector) {
		return nil, nil
	}
	// fetch everything so ties at the top_k boundary resolve the same way as brute force
	results, err := m.collection.QueryEmbedding(ctx, queryVector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	candidates := make([]index.Result, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil || pos < 0 || pos >= len(m.chunks) {
			log.Warn().Str("id", r.ID).Msg("Ignoring result with unknown id")
			continue
		}
		candidates = append(candidates, index.Result{
			Chunk:      m.chunks[pos],
			Similarity: float64(r.Similarity),
			Position:   pos,
		})
	}
	return index.Finalize(candidates, opts), nil
}

// DeleteCollection drops the collection. Callers still holding the manager
// keep their in-memory view until they let go of it.
func (m *VectorDBManager) DeleteCollection() error {
	if err := m.db.DeleteCollection(m.collection.Name); err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	return nil
}

func usable(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}
