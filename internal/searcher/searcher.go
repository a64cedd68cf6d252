package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/internal/storage"
	"github.com/dshills/codeintel/pkg/types"
)

const (
	DefaultLimit = 10
	MaxLimit     = 500

	// minFetch is the floor on candidates requested from each leg
	minFetch = 30
)

// FetchSize is the number of candidates each leg returns for a top-k query
func FetchSize(k int) int {
	return max(k*3, minFetch)
}

// Request contains parameters for a search operation
type Request struct {
	Query        string
	Limit        int
	VectorWeight float64 // 0 = lexical only, 1 = semantic only
	IncludeStale bool
	Tiers        []types.Tier // Empty means all tiers
}

// Response contains search results and metadata
type Response struct {
	Results       []types.SearchResult
	Duration      time.Duration
	CacheHit      bool
	Degraded      bool // Semantic leg was unavailable; lexical carried full weight
	VectorResults int
	TextResults   int
}

// Source is one consistent view of an index: a vector leg, a lexical leg and
// chunk metadata lookups.
type Source interface {
	// VectorSearch embeds query and returns nearest chunk ids, best first.
	// It returns an error wrapping types.ErrEmbedderUnavailable when no
	// query vector can be produced.
	VectorSearch(ctx context.Context, query string, limit int) ([]string, error)
	SearchText(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]storage.TextResult, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*storage.ChunkRecord, error)
}

// Searcher runs the two retrieval legs, fuses them and caches the results
type Searcher struct {
	cache  *ResultCache
	logger *slog.Logger
}

// New creates a Searcher with a result cache of cacheSize queries
func New(cacheSize int, logger *slog.Logger) *Searcher {
	return &Searcher{
		cache:  NewResultCache(cacheSize),
		logger: logging.OrDiscard(logger).With("component", "searcher"),
	}
}

// Cache exposes the result cache
func (s *Searcher) Cache() *ResultCache {
	return s.cache
}

// Search runs a hybrid query against src. seq is the index write sequence
// and scopes the result cache.
func (s *Searcher) Search(ctx context.Context, src Source, req Request, seq uint64) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if cached, ok := s.cache.Get(req, seq); ok {
		return &Response{Results: cached, CacheHit: true, Duration: time.Since(start)}, nil
	}

	fetch := FetchSize(req.Limit)
	filters := &storage.SearchFilters{Tiers: req.Tiers, OnlyValid: !req.IncludeStale}

	var (
		vectorIDs []string
		textIDs   []string
		degraded  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	if req.VectorWeight > 0 {
		g.Go(func() error {
			ids, err := src.VectorSearch(gctx, req.Query, fetch)
			if err != nil {
				if errors.Is(err, types.ErrEmbedderUnavailable) {
					s.logger.Debug("vector leg unavailable", "error", err)
					degraded = true
					return nil
				}
				return fmt.Errorf("vector search: %w", err)
			}
			vectorIDs = ids
			return nil
		})
	}
	g.Go(func() error {
		results, err := src.SearchText(gctx, req.Query, fetch, filters)
		if err != nil {
			return fmt.Errorf("text search: %w", err)
		}
		textIDs = make([]string, len(results))
		for i, r := range results {
			textIDs[i] = r.ChunkID
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w := req.VectorWeight
	if degraded {
		w = 0
		vectorIDs = nil
	}

	ranked := Fuse(vectorIDs, textIDs, w)
	results, err := s.resolve(ctx, src, req, ranked)
	if err != nil {
		return nil, err
	}

	if !degraded {
		s.cache.Add(req, seq, results)
	}

	return &Response{
		Results:       results,
		Duration:      time.Since(start),
		Degraded:      degraded,
		VectorResults: len(vectorIDs),
		TextResults:   len(textIDs),
	}, nil
}

// resolve loads metadata for fused candidates and applies the validity and
// tier filters. Ids without metadata are dropped.
func (s *Searcher) resolve(ctx context.Context, src Source, req Request, ranked []Ranked) ([]types.SearchResult, error) {
	if len(ranked) == 0 {
		return []types.SearchResult{}, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	records, err := src.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	var tiers map[types.Tier]bool
	if len(req.Tiers) > 0 {
		tiers = make(map[types.Tier]bool, len(req.Tiers))
		for _, t := range req.Tiers {
			tiers[t] = true
		}
	}

	results := make([]types.SearchResult, 0, req.Limit)
	for _, r := range ranked {
		rec, ok := records[r.ID]
		if !ok {
			continue
		}
		if !rec.Valid && !req.IncludeStale {
			continue
		}
		if tiers != nil && !tiers[rec.Tier] {
			continue
		}

		results = append(results, types.SearchResult{
			Chunk:  rec.Chunk,
			Rank:   len(results) + 1,
			Score:  r.Score,
			Method: r.Method(),
			Stale:  !rec.Valid,
		})
		if len(results) == req.Limit {
			break
		}
	}
	return results, nil
}

// validateRequest checks the query and fills defaults
func validateRequest(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrInvalidQuery)
	}
	if math.IsNaN(req.VectorWeight) || req.VectorWeight < 0 || req.VectorWeight > 1 {
		return fmt.Errorf("%w: vector weight %v outside [0, 1]", types.ErrInvalidQuery, req.VectorWeight)
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	return nil
}
