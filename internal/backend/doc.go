// Package backend stores code chunks for hybrid retrieval.
//
// An index directory holds:
//
//	manifest.json        current generation, file names, embedder and dimension
//	meta-<gen>.db        SQLite chunk metadata, validity flags and FTS5 index
//	vectors-<gen>.hnsw   HNSW vector index (zstd, CRC32 trailer)
//	hashes/              file hash cache used by the indexer
//
// Chunks are append-only. Editing a file invalidates its old chunks, which
// stay in both indexes and are filtered from results until Compact rewrites
// the valid chunks into the next generation and swaps it in. Readers that
// started on the previous generation finish on it; its files are removed
// when the last one is done.
//
// If the embedder becomes unavailable the backend logs once and serves the
// rest of the session from the lexical index alone.
package backend
