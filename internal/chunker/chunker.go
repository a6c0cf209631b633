package chunker

import (
	"fmt"

	"document-qa/internal/models"
)

// Chunker cuts extracted text into fixed-size overlapping windows.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters once so per-document chunking cannot fail.
func New(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// ChunkDocument splits text and tags every window with its source filename
// and 0-based position.
func (c *Chunker) ChunkDocument(filename, text string) []models.Chunk {
	windows := split(text, c.size, c.overlap)
	chunks := make([]models.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = models.Chunk{
			SourceFilename: filename,
			SequenceIndex:  i,
			Content:        w,
		}
	}
	return chunks
}

// Split slides a window of size runes over text with stride size-overlap.
// The last window is the first one that reaches the end of text, so it may be short.
func Split(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split(text, size, overlap), nil
}

func split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	stride := size - overlap

	var chunks []string
	for start := 0; start < n; start += stride {
		end := min(start+size, n)
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %d", models.ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrConfiguration, size, overlap)
	}
	return nil
}
