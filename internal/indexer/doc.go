// Package indexer coordinates the indexing pipeline for a source tree.
//
// # Basic Usage
//
//	idx := indexer.New(backend, hashes, indexer.ConfigFrom(cfg), logger)
//
//	stats, err := idx.Index(ctx, "/path/to/project", indexer.ModeIncremental)
//
//	fmt.Printf("Indexed %d files in %v\n", stats.FilesIndexed, stats.Duration)
//
// # Indexing Pipeline
//
//  1. Discovery: walk the tree, drop hidden, vendored and excluded paths,
//     symlinks, empty, oversized and binary files
//  2. Removal: files indexed before but no longer present are invalidated
//     and forgotten
//  3. Change detection: SHA-256 of the content compared with the hash cache
//  4. Parse and chunk: concepts from the parser, chunks from the chunker
//  5. Store: the file's old chunks are invalidated, the new ones added
//
// # Modes
//
// ModeFull invalidates every stored file first and ignores the hash cache.
// ModeIncremental skips files whose hash is unchanged. ModeParallel behaves
// like ModeIncremental but parses and chunks on Config.Workers goroutines;
// their output is written by a single writer goroutine, so the store and the
// hash cache only ever see one writer.
//
// # Failures
//
// A file that fails is logged, counted in Statistics.FilesFailed and
// recorded in the hash cache against its content hash. Once the same
// content has failed Config.MaxFailures times the file is reported in
// Statistics.Skipped instead of being retried. Editing the file resets the
// count.
//
// Only one run may be active per Indexer; concurrent calls fail fast with
// types.ErrIndexingInProgress.
package indexer
