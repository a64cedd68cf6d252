package types

import "errors"

// Domain errors shared across packages
var (
	// Index lifecycle errors. Both require explicit re-initialization.
	ErrIndexNotInitialized = errors.New("index not initialized")
	ErrIndexCorrupted      = errors.New("index corrupted")

	// ErrEmbedderUnavailable marks an embedding failure that should disable
	// semantic search for the current call instead of failing it.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	ErrIndexingInProgress  = errors.New("indexing already in progress")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// Validation errors
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrInvalidRank    = errors.New("rank must be >= 1")
	ErrInvalidScore   = errors.New("score must be >= 0")
	ErrEmptyContent   = errors.New("content cannot be empty")
)
