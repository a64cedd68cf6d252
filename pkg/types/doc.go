// Package types provides shared type definitions for codeintel.
//
// # Core Types
//
// Concept is a structural unit (function, class, method, statement) found by
// the concept extractor before chunking:
//
//	concept := types.Concept{
//	    Kind:      types.ConceptFunction,
//	    Name:      "ParseFile",
//	    StartLine: 12,
//	    EndLine:   40,
//	}
//
// Chunk is the stored, retrievable unit. Its ID is derived from the file path,
// line range and content, so re-indexing unchanged text produces the same ID:
//
//	chunk := &types.Chunk{FilePath: path, StartLine: 12, EndLine: 40, Content: body}
//	chunk.ComputeContentHash()
//	chunk.ComputeID()
//
// SearchResult pairs a chunk with its fused score and the retrieval method that
// produced it. Entity and Relationship describe the transient graph built by
// multi-hop research; they are never persisted.
//
// # Errors
//
// ErrIndexNotInitialized and ErrIndexCorrupted mean the index directory must be
// re-created. ErrEmbedderUnavailable means semantic search is disabled for the
// call and lexical results are used instead.
package types
