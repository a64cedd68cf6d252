package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dshills/codeintel/internal/tokenize"
)

// Column weights for bm25(): symbol names count more than body text
const (
	symbolWeight = 4.0
	bodyWeight   = 1.0
)

// searchText performs BM25 full-text search using FTS5. A query without any
// searchable token returns no results.
func searchText(ctx context.Context, db *sql.DB, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	match := buildMatchQuery(query)
	if match == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := fmt.Sprintf(`
		SELECT c.id, bm25(chunks_fts, %g, %g) AS score
		FROM chunks_fts
		INNER JOIN chunks c ON c.seq = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`, symbolWeight, bodyWeight)
	args := []any{match}

	sqlQuery, args = applyTextFilters(sqlQuery, args, filters)

	// bm25 is lower-is-better; seq keeps ties deterministic
	sqlQuery += " ORDER BY score ASC, c.seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, limit)
}

// applyTextFilters appends WHERE conditions for the given filters
func applyTextFilters(query string, args []any, filters *SearchFilters) (string, []any) {
	if filters == nil {
		return query, args
	}

	if filters.OnlyValid {
		query += " AND COALESCE(c.valid, 1) = 1"
	}
	if len(filters.Tiers) > 0 {
		query += " AND c.tier IN (" + placeholders(len(filters.Tiers)) + ")"
		for _, t := range filters.Tiers {
			args = append(args, string(t))
		}
	}
	if filters.FilePrefix != "" {
		query += " AND substr(c.file_path, 1, ?) = ?"
		args = append(args, len(filters.FilePrefix), filters.FilePrefix)
	}
	return query, args
}

func collectTextResults(rows *sql.Rows, limit int) ([]TextResult, error) {
	results := make([]TextResult, 0, min(limit, 64))
	for rows.Next() {
		var r TextResult
		if err := rows.Scan(&r.ChunkID, &r.BM25Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// buildMatchQuery turns free text into an FTS5 expression: the code-aware
// tokens of the query, each quoted as a literal, joined with OR. Quoting
// neutralizes FTS5 operators and special characters.
func buildMatchQuery(query string) string {
	tokens := tokenize.Unique(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
