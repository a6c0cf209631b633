package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-qa/internal/models"
)

const (
	DefaultBatchSize     = 32
	DefaultTopK          = 3
	DefaultMinSimilarity = 0.3
)

// Index pairs every chunk with its embedding vector. It is immutable once
// built: vectors[i] always belongs to chunks[i].
//
// Queries must be embedded with the same model that built the index. Vectors
// from different embedding spaces are not detected and produce meaningless scores.
type Index struct {
	chunks  []models.Chunk
	vectors [][]float32
}

// SearchOptions controls top-k selection and the similarity cut-off.
type SearchOptions struct {
	TopK          int
	MinSimilarity float64
}

// DefaultSearchOptions returns top_k=3, min_similarity=0.3.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{TopK: DefaultTopK, MinSimilarity: DefaultMinSimilarity}
}

// Result is a retrieved chunk with its cosine similarity to the query.
type Result struct {
	Chunk      models.Chunk `json:"chunk"`
	Similarity float64      `json:"similarity"`
	Position   int          `json:"-"`
}

// Retriever ranks stored chunks against an already embedded query.
type Retriever interface {
	Len() int
	Retrieve(ctx context.Context, queryVector []float32, opts SearchOptions) ([]Result, error)
}

// New assembles an index from parallel slices, copying both.
func New(chunks []models.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	idx := &Index{
		chunks:  make([]models.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(idx.chunks, chunks)
	for i, v := range vectors {
		idx.vectors[i] = append([]float32(nil), v...)
	}
	return idx, nil
}

// Build embeds chunk contents in batches of batchSize and returns the index.
// Results are concatenated in chunk order, so batching never affects the output.
func Build(ctx context.Context, chunks []models.Chunk, embedder embeddings.Embedder, batchSize int) (*Index, error) {
	if len(chunks) == 0 {
		return &Index{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		batch, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: batch %d-%d returned %d vectors for %d texts",
				models.ErrEmbeddingService, start, end, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		log.Debug().Int("from", start).Int("to", end).Msg("Embedded chunk batch")
	}

	return New(chunks, vectors)
}

// Len returns the number of indexed chunks. A nil index is empty.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.chunks)
}

// Chunks returns a copy of the indexed chunks in index order.
func (idx *Index) Chunks() []models.Chunk {
	if idx == nil {
		return nil
	}
	return append([]models.Chunk(nil), idx.chunks...)
}

// Vector returns a copy of the vector stored at position i.
func (idx *Index) Vector(i int) []float32 {
	return append([]float32(nil), idx.vectors[i]...)
}

// Sources returns the distinct source filenames in first-seen order.
func (idx *Index) Sources() []string {
	if idx == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range idx.chunks {
		if _, ok := seen[c.SourceFilename]; ok {
			continue
		}
		seen[c.SourceFilename] = struct{}{}
		out = append(out, c.SourceFilename)
	}
	return out
}

// Nearest scores every stored vector against queryVector by brute force.
func (idx *Index) Nearest(queryVector []float32, opts SearchOptions) []Result {
	if idx.Len() == 0 {
		return nil
	}
	scored := make([]Result, len(idx.chunks))
	for i := range idx.chunks {
		scored[i] = Result{
			Chunk:      idx.chunks[i],
			Similarity: CosineSimilarity(queryVector, idx.vectors[i]),
			Position:   i,
		}
	}
	return Finalize(scored, opts)
}

// Retrieve implements Retriever.
func (idx *Index) Retrieve(_ context.Context, queryVector []float32, opts SearchOptions) ([]Result, error) {
	return idx.Nearest(queryVector, opts), nil
}

// Search embeds query and returns at most TopK chunks whose similarity is
// strictly above MinSimilarity, most similar first. An empty retriever returns
// nothing without calling the embedder.
func Search(ctx context.Context, r Retriever, query string, embedder embeddings.Embedder, opts SearchOptions) ([]Result, error) {
	if r == nil || r.Len() == 0 {
		return nil, nil
	}
	queryVector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.Retrieve(ctx, queryVector, opts)
}

// Finalize orders candidates, keeps the TopK best and then drops those at or
// below MinSimilarity. Equal similarities are ordered by lower SequenceIndex,
// then SourceFilename, then index position.
func Finalize(candidates []Result, opts SearchOptions) []Result {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	sorted := append([]Result(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.SequenceIndex != b.Chunk.SequenceIndex {
			return a.Chunk.SequenceIndex < b.Chunk.SequenceIndex
		}
		if a.Chunk.SourceFilename != b.Chunk.SourceFilename {
			return a.Chunk.SourceFilename < b.Chunk.SourceFilename
		}
		return a.Position < b.Position
	})
	if len(sorted) > opts.TopK {
		sorted = sorted[:opts.TopK]
	}

	out := sorted[:0]
	for _, r := range sorted {
		if r.Similarity > opts.MinSimilarity {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Mismatched lengths and zero
// norms score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}
