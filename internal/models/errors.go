package models

import "errors"

var (
	// ErrNoFiles is returned when an upload carries nothing to index.
	ErrNoFiles = errors.New("no files to upload")
	// ErrExtractionSkipped marks a file that contributed no text. Never fatal.
	ErrExtractionSkipped = errors.New("extraction skipped")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrConfiguration reports invalid settings; it should surface at startup.
	ErrConfiguration     = errors.New("invalid configuration")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrGenerationService = errors.New("generation service error")
	ErrStorage           = errors.New("storage error")
	// ErrUploadSuperseded is returned by an upload that was overtaken by a reset.
	ErrUploadSuperseded = errors.New("upload superseded by reset")
)
