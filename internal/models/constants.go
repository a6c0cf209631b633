package models

const (
	NoDocumentsLoaded   = "No documents loaded. Please upload some documents first."
	// NoRelevantDocuments stands in for the context when retrieval finds nothing.
	NoRelevantDocuments = "No relevant documents were found for your query."

	NoDocumentsStatus = "No documents loaded"
	ResetMessage      = "Chat and documents have been reset"
	NoFilesMessage    = "No files were uploaded."

	UploadSummaryTemplate   = "Files loaded successfully: %s. Processed %d text chunks."
	LoadedDocsTemplate      = "Loaded documents: %s (%d chunks)"
	ChunkHeaderTemplate     = "\n--- %s (Part %d) ---\n"
	GenerationErrorTemplate = "Error generating response: %v"
	SearchErrorTemplate     = "Error searching documents: %v"
)

var (
	SystemPrompt = `You are a precise documentation assistant. You answer only from the information you are given.`

	AnswerPromptTemplate = `Use only the following information to answer the user's question.
If the information is not sufficient, state clearly that you cannot answer based on the provided documents.
Do not invent information that is not present in the context.

Context:
%s

Question: %s
`
)
