package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/dshills/codeintel/internal/backend"
	"github.com/dshills/codeintel/internal/config"
	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/pkg/types"
)

// Searcher runs one hybrid query
type Searcher interface {
	Search(ctx context.Context, query string, opts backend.SearchOptions) ([]types.SearchResult, error)
}

// EntityExtractor finds the symbols a chunk refers to
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, chunkID string, src []byte, lang types.Language) []types.Entity
}

// Options bounds one research call
type Options struct {
	MaxHops      int // 0 returns the initial search only
	PerHopLimit  int // Distinct entities followed per hop
	InitialLimit int // Results of the hop-0 search
	SmallK       int // Results per entity search
	MaxVisited   int // Cap on chunks in the result
	VectorWeight float64
	Concurrency  int // Parallel entity searches within a hop
}

// DefaultOptions returns the built-in research bounds
func DefaultOptions() Options {
	return Options{
		MaxHops:      2,
		PerHopLimit:  8,
		InitialLimit: 10,
		SmallK:       3,
		MaxVisited:   100,
		VectorWeight: 0.5,
		Concurrency:  4,
	}
}

// OptionsFrom derives research options from configuration
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		MaxHops:      cfg.Research.MaxHops,
		PerHopLimit:  cfg.Research.PerHopLimit,
		InitialLimit: cfg.DefaultLimit,
		SmallK:       cfg.Research.SmallK,
		MaxVisited:   cfg.Research.MaxVisited,
		VectorWeight: cfg.VectorWeight,
		Concurrency:  cfg.Research.Concurrency,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.MaxHops < 0 {
		o.MaxHops = 0
	}
	if o.PerHopLimit <= 0 {
		o.PerHopLimit = d.PerHopLimit
	}
	if o.InitialLimit <= 0 {
		o.InitialLimit = d.InitialLimit
	}
	if o.SmallK <= 0 {
		o.SmallK = d.SmallK
	}
	if o.MaxVisited <= 0 {
		o.MaxVisited = d.MaxVisited
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	o.VectorWeight = min(max(o.VectorWeight, 0), 1)
}

// Found is a chunk in the research result
type Found struct {
	Chunk *types.Chunk
	Score float64
	Hop   int    // Hop at which the chunk was first reached
	Via   string // Entity that led here; empty for hop 0
}

// Stats summarizes one research call
type Stats struct {
	EntitiesDiscovered int
	HopsExecuted       int
	ChunksVisited      int
	Searches           int
	Duration           time.Duration
}

// Result is the outcome of one research call
type Result struct {
	RequestID     string
	Question      string
	Chunks        []Found
	Relationships []types.Relationship
	Stats         Stats
}

// Engine expands a question across code relationships discovered at query
// time. Nothing it learns is persisted.
type Engine struct {
	search    Searcher
	extractor EntityExtractor
	logger    *slog.Logger
}

// New creates a research engine
func New(search Searcher, extractor EntityExtractor, logger *slog.Logger) *Engine {
	return &Engine{
		search:    search,
		extractor: extractor,
		logger:    logging.OrDiscard(logger).With("component", "research"),
	}
}

// lead is one entity to follow from the chunk it was found in
type lead struct {
	source Found
	entity types.Entity
}

// outcome is the result of following one lead
type outcome struct {
	results []types.SearchResult
	err     error
}

// Research answers question by an initial search followed by up to
// opts.MaxHops rounds of entity expansion.
func (e *Engine) Research(ctx context.Context, question string, opts Options) (*Result, error) {
	start := time.Now()
	opts.normalize()

	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", types.ErrInvalidQuery)
	}

	res := &Result{
		RequestID:     uuid.New().String(),
		Question:      question,
		Chunks:        make([]Found, 0, opts.InitialLimit),
		Relationships: make([]types.Relationship, 0),
	}
	logger := e.logger.With("request_id", res.RequestID)

	seeds, err := e.search.Search(ctx, question, backend.SearchOptions{
		Limit:        opts.InitialLimit,
		VectorWeight: opts.VectorWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("initial search: %w", err)
	}
	res.Stats.Searches++

	visited := make(map[string]bool, opts.MaxVisited)
	var frontier []int // Indexes into res.Chunks added by the last hop
	for _, r := range seeds {
		if len(visited) >= opts.MaxVisited {
			break
		}
		if r.Chunk == nil || visited[r.Chunk.ID] {
			continue
		}
		visited[r.Chunk.ID] = true
		res.Chunks = append(res.Chunks, Found{Chunk: r.Chunk, Score: r.Score})
		frontier = append(frontier, len(res.Chunks)-1)
	}

	var pool *ants.Pool
	if opts.MaxHops > 0 {
		pool, err = ants.NewPool(opts.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		defer pool.Release()
	}

	for hop := 1; hop <= opts.MaxHops; hop++ {
		if len(frontier) == 0 || len(visited) >= opts.MaxVisited {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		leads, discovered := e.leads(ctx, res.Chunks, frontier, opts.PerHopLimit)
		res.Stats.EntitiesDiscovered += discovered
		if len(leads) == 0 {
			break
		}
		res.Stats.HopsExecuted = hop

		outcomes, err := e.follow(ctx, pool, leads, opts)
		if err != nil {
			return nil, err
		}
		res.Stats.Searches += len(leads)

		frontier = frontier[:0]
		for i, l := range leads {
			o := outcomes[i]
			if o.err != nil {
				logger.Warn("entity search failed", "entity", l.entity.Name, "error", o.err)
			}

			edge := types.Relationship{
				SourceSymbol:  l.source.Chunk.Symbol,
				TargetSymbol:  l.entity.Name,
				Kind:          l.entity.Kind,
				SourceChunkID: l.source.Chunk.ID,
			}
			// The edge points at the first new chunk, else at the first
			// already visited one; it stays unresolved when neither exists.
			var firstNew, firstKnown string
			for _, r := range o.results {
				if r.Chunk == nil || r.Chunk.ID == l.source.Chunk.ID {
					continue
				}
				if visited[r.Chunk.ID] {
					if firstKnown == "" {
						firstKnown = r.Chunk.ID
					}
					continue
				}
				if len(visited) >= opts.MaxVisited {
					break
				}
				visited[r.Chunk.ID] = true
				res.Chunks = append(res.Chunks, Found{
					Chunk: r.Chunk,
					Score: r.Score,
					Hop:   hop,
					Via:   l.entity.Name,
				})
				frontier = append(frontier, len(res.Chunks)-1)
				if firstNew == "" {
					firstNew = r.Chunk.ID
				}
			}
			edge.TargetChunkID = firstNew
			if edge.TargetChunkID == "" {
				edge.TargetChunkID = firstKnown
			}
			res.Relationships = append(res.Relationships, edge)
		}

		logger.Debug("hop finished", "hop", hop, "leads", len(leads), "new_chunks", len(frontier), "visited", len(visited))
	}

	res.Stats.ChunksVisited = len(res.Chunks)
	res.Stats.Duration = time.Since(start)
	logger.Info("research finished",
		"hops", res.Stats.HopsExecuted,
		"chunks", res.Stats.ChunksVisited,
		"relationships", len(res.Relationships),
		"duration", res.Stats.Duration)
	return res, nil
}

// leads collects the distinct entities of the frontier chunks in order, up
// to limit. It also returns how many distinct entities were found in total.
func (e *Engine) leads(ctx context.Context, chunks []Found, frontier []int, limit int) ([]lead, int) {
	seen := make(map[string]bool)
	var out []lead
	for _, i := range frontier {
		f := chunks[i]
		for _, ent := range e.extractor.ExtractEntities(ctx, f.Chunk.ID, []byte(f.Chunk.Content), f.Chunk.Language) {
			// A chunk referring to its own symbol is not a lead
			if ent.Name == "" || ent.Name == f.Chunk.Symbol || seen[ent.Name] {
				continue
			}
			seen[ent.Name] = true
			if len(out) < limit {
				out = append(out, lead{source: f, entity: ent})
			}
		}
	}
	return out, len(seen)
}

// follow searches every lead on the pool. Outcomes are returned in lead
// order so the merge does not depend on scheduling.
func (e *Engine) follow(ctx context.Context, pool *ants.Pool, leads []lead, opts Options) ([]outcome, error) {
	outcomes := make([]outcome, len(leads))

	var wg sync.WaitGroup
	for i, l := range leads {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results, err := e.search.Search(ctx, l.entity.Name, backend.SearchOptions{
				Limit:        opts.SmallK,
				VectorWeight: opts.VectorWeight,
			})
			outcomes[i] = outcome{results: results, err: err}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit entity search: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if o.err != nil && (errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded)) {
			return nil, o.err
		}
	}
	return outcomes, nil
}
