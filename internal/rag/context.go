package rag

import (
	"strings"

	"document-qa/internal/index"
	"document-qa/internal/models"
)

// BuildContext renders retrieved chunks for the answer prompt, each preceded
// by its attribution header. No results yield models.NoRelevantDocuments.
func BuildContext(results []index.Result) string {
	if len(results) == 0 {
		return models.NoRelevantDocuments
	}
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.Chunk.Header())
		b.WriteString(r.Chunk.Content)
		b.WriteString("\n")
	}
	return b.String()
}
