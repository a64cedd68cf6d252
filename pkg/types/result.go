package types

// SearchMethod identifies which retrieval path produced a result
type SearchMethod string

const (
	MethodSemantic SearchMethod = "semantic"
	MethodLexical  SearchMethod = "lexical"
	MethodHybrid   SearchMethod = "hybrid"
)

// SearchResult pairs a chunk with its fused relevance
type SearchResult struct {
	Chunk  *Chunk
	Rank   int // Position in result set (1-based)
	Score  float64
	Method SearchMethod
	Stale  bool // Only set when stale chunks were explicitly requested
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Chunk == nil || sr.Chunk.ID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 {
		return ErrInvalidScore
	}

	if sr.Chunk.Content == "" {
		return ErrEmptyContent
	}

	return nil
}

// FileResult is a file-level search hit aggregated from its chunks
type FileResult struct {
	FilePath string
	Score    float64
	Chunks   int // Number of matching chunks that contributed
}
