package models

import "fmt"

// Chunk is a window of a source document's extracted text, the unit of retrieval.
type Chunk struct {
	SourceFilename string `json:"source_filename"`
	SequenceIndex  int    `json:"sequence_index"`
	Content        string `json:"content"`
}

// Part is the 1-based position used when citing the chunk.
func (c Chunk) Part() int {
	return c.SequenceIndex + 1
}

// Header renders the attribution line that precedes the chunk in an answer context.
func (c Chunk) Header() string {
	return fmt.Sprintf(ChunkHeaderTemplate, c.SourceFilename, c.Part())
}

// Turn is one exchange of the conversation history.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}
