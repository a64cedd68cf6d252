package storage

import (
	"context"
	"time"

	"github.com/dshills/codeintel/pkg/types"
)

// Storage persists chunk metadata and answers lexical queries for one index
// generation.
type Storage interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []*types.Chunk) error
	GetChunk(ctx context.Context, id string) (*ChunkRecord, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*ChunkRecord, error)
	InvalidateFile(ctx context.Context, filePath string) (int, error)
	ListValidChunks(ctx context.Context) ([]*ChunkRecord, error)
	ListFiles(ctx context.Context) ([]string, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	QuickCheck(ctx context.Context) error
	Checkpoint(ctx context.Context) error
	Close() error
}

// ChunkRecord is a stored chunk with its validity flag. Rows written before
// validity tracking have no flag and count as valid.
type ChunkRecord struct {
	*types.Chunk
	Valid     bool
	UpdatedAt time.Time
}

// SearchFilters narrows lexical results
type SearchFilters struct {
	Tiers      []types.Tier // Empty means all tiers
	OnlyValid  bool         // Skip invalidated chunks
	FilePrefix string       // Restrict to paths with this prefix
}

// TextResult represents a result from full-text search, best first
type TextResult struct {
	ChunkID   string
	BM25Score float64
}

// Status contains counts about the stored chunks
type Status struct {
	Files         int
	Chunks        int
	ValidChunks   int
	StaleChunks   int
	SchemaVersion string
	LastUpdated   time.Time
}
