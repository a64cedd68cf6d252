package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/codeintel/internal/tokenize"
	"github.com/dshills/codeintel/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when the database fails its integrity check
	ErrCorrupt = errors.New("database integrity check failed")
)

// maxBatchParams keeps IN lists under SQLite's bound-parameter limit
const maxBatchParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for concurrent readers during writes
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath, now: time.Now}, nil
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Chunk operations

// UpsertChunks stores chunks in one transaction. Existing ids are kept and
// marked valid again.
func (s *SQLiteStorage) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, symbol, kind, file_path, start_line, end_line, language,
		                    content, content_hash, tier, symbol_tokens, tokens, valid,
		                    created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET valid = 1, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now().UnixNano()
	for _, c := range chunks {
		created := now
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.UnixNano()
		}
		_, err := stmt.ExecContext(ctx,
			c.ID, c.Symbol, string(c.Kind), c.FilePath, c.StartLine, c.EndLine, string(c.Language),
			c.Content, c.ContentHash[:], string(c.Tier),
			tokenize.Join(c.Symbol), tokenize.Join(c.Content),
			created, now)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

const chunkColumns = `id, symbol, kind, file_path, start_line, end_line, language, content,
	content_hash, tier, COALESCE(valid, 1), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*ChunkRecord, error) {
	var (
		c                types.Chunk
		kind, lang, tier string
		hash             []byte
		valid            int
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.Symbol, &kind, &c.FilePath, &c.StartLine, &c.EndLine, &lang,
		&c.Content, &hash, &tier, &valid, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Kind = types.ChunkKind(kind)
	c.Language = types.Language(lang)
	c.Tier = types.Tier(tier)
	copy(c.ContentHash[:], hash)
	c.CreatedAt = time.Unix(0, created).UTC()

	return &ChunkRecord{
		Chunk:     &c,
		Valid:     valid != 0,
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

// GetChunk retrieves one chunk by id
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	rec, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return rec, nil
}

// GetChunks retrieves chunks by id; unknown ids are absent from the map
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*ChunkRecord, error) {
	out := make(map[string]*ChunkRecord, len(ids))
	for start := 0; start < len(ids); start += maxBatchParams {
		batch := ids[start:min(start+maxBatchParams, len(ids))]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "SELECT " + chunkColumns + " FROM chunks WHERE id IN (" + placeholders(len(batch)) + ")"

		if err := s.queryChunks(ctx, query, args, func(rec *ChunkRecord) {
			out[rec.ID] = rec
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InvalidateFile marks every chunk of filePath stale and returns how many
// rows changed.
func (s *SQLiteStorage) InvalidateFile(ctx context.Context, filePath string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chunks SET valid = 0, updated_at = ? WHERE file_path = ? AND COALESCE(valid, 1) = 1",
		s.now().UnixNano(), filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s: %w", filePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListValidChunks returns all valid chunks in insertion order
func (s *SQLiteStorage) ListValidChunks(ctx context.Context) ([]*ChunkRecord, error) {
	var out []*ChunkRecord
	err := s.queryChunks(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE COALESCE(valid, 1) = 1 ORDER BY seq", nil,
		func(rec *ChunkRecord) { out = append(out, rec) })
	return out, err
}

// ListFiles returns the distinct paths that have valid chunks
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT file_path FROM chunks WHERE COALESCE(valid, 1) = 1 ORDER BY file_path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args []any, fn func(*ChunkRecord)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanChunk(rows)
		if err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		fn(rec)
	}
	return rows.Err()
}

// Search operations

// SearchText runs a BM25 ranked FTS5 query over the code-aware token columns
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.db, query, limit, filters)
}

// Status operations

// GetStatus counts files and chunks by validity
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	var lastUpdated sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT CASE WHEN COALESCE(valid, 1) = 1 THEN file_path END),
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN COALESCE(valid, 1) = 1 THEN 1 ELSE 0 END), 0),
		       MAX(updated_at)
		FROM chunks
	`).Scan(&status.Files, &status.Chunks, &status.ValidChunks, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	status.StaleChunks = status.Chunks - status.ValidChunks
	if lastUpdated.Valid {
		status.LastUpdated = time.Unix(0, lastUpdated.Int64).UTC()
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	return status, nil
}

// Database operations

// QuickCheck runs PRAGMA quick_check and reports ErrCorrupt on any problem
func (s *SQLiteStorage) QuickCheck(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(problems, "; "))
	}
	return nil
}

// Checkpoint folds the WAL back into the main database file
func (s *SQLiteStorage) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
