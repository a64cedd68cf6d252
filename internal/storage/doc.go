// Package storage provides SQLite-based persistence for chunk metadata and
// the lexical (FTS5) index of one index generation.
//
// # Database Schema
//
// Tables:
//   - chunks: chunk identity, location, content, tier and validity flag
//   - chunks_fts: FTS5 external-content index over code-aware tokens of the
//     chunk symbol and body
//   - schema_version: applied migrations (semantic versions)
//
// Chunks are never rewritten. Re-indexing a file marks its old chunks invalid
// (valid = 0); only compaction, which builds a fresh database from the valid
// rows, removes them physically. A row with a NULL validity flag counts as
// valid.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(ctx, filepath.Join(dir, "meta-1.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.UpsertChunks(ctx, chunks); err != nil {
//	    return err
//	}
//
//	results, err := db.SearchText(ctx, "parseConfig", 30, &storage.SearchFilters{})
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags "cgo_sqlite sqlite_fts5" switches to github.com/mattn/go-sqlite3.
package storage
