// Package engine is the caller-facing API of codeintel. It wires
// configuration, the embedder, the hybrid index, the hash cache, the
// indexing coordinator and the research engine for one project root.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/codeintel/internal/backend"
	"github.com/dshills/codeintel/internal/config"
	"github.com/dshills/codeintel/internal/embedder"
	"github.com/dshills/codeintel/internal/hashcache"
	"github.com/dshills/codeintel/internal/indexer"
	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/internal/parser"
	"github.com/dshills/codeintel/internal/research"
	"github.com/dshills/codeintel/internal/searcher"
	"github.com/dshills/codeintel/pkg/types"
)

// Options configures an Engine
type Options struct {
	Root   string         // Project root; defaults to the working directory
	Config *config.Config // Defaults to config.DefaultConfig()
	Logger *slog.Logger

	// Embedder overrides the one built from Config.Embedding
	Embedder embedder.Embedder
}

// Engine serves one project's index. All methods are safe for concurrent
// use; at most one indexing run is active at a time.
type Engine struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	embedder embedder.Embedder
	parser   *parser.Parser

	mu       sync.RWMutex
	backend  *backend.Backend
	hashes   *hashcache.Cache
	indexer  *indexer.Indexer
	research *research.Engine
	openErr  error // Why the index could not be opened, if it exists
	closed   bool
}

// Open prepares an engine for opts.Root. An index that does not exist yet
// is not an error: it is created by the first Index call. A damaged index
// is reported by every operation until Reset.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg := config.DefaultConfig()
	if opts.Config != nil {
		c := *opts.Config
		cfg = &c
	}
	if !filepath.IsAbs(cfg.IndexDir) {
		cfg.IndexDir = filepath.Join(root, cfg.IndexDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrDiscard(opts.Logger)

	emb := opts.Embedder
	if emb == nil {
		emb, err = embedder.New(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
	}

	e := &Engine{
		root:     root,
		cfg:      cfg,
		logger:   logger,
		embedder: emb,
		parser:   parser.New(parser.WithLogger(logger)),
	}

	b, err := backend.Open(ctx, cfg.IndexDir, e.backendOptions())
	switch {
	case err == nil:
		if err := e.attach(b); err != nil {
			_ = b.Close()
			_ = emb.Close()
			return nil, err
		}
	case errors.Is(err, types.ErrIndexNotInitialized):
		logger.Debug("no index yet", "dir", cfg.IndexDir)
	case errors.Is(err, types.ErrIndexCorrupted):
		logger.Error("index is damaged; reset and re-index to recover", "dir", cfg.IndexDir, "error", err)
		e.openErr = err
	default:
		_ = emb.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) backendOptions() backend.Options {
	return backend.Options{
		Embedder:  e.embedder,
		CacheSize: searcher.DefaultCacheSize,
		Logger:    e.logger,
	}
}

// attach wires the components that depend on an open backend. Callers hold
// e.mu or own e exclusively.
func (e *Engine) attach(b *backend.Backend) error {
	hashes, err := hashcache.Open(backend.HashesDir(b.Dir()), e.logger)
	if err != nil {
		return fmt.Errorf("open hash cache: %w", err)
	}

	cfg := indexer.ConfigFrom(e.cfg)
	e.backend = b
	e.hashes = hashes
	e.indexer = indexer.New(b, hashes, cfg, e.logger)
	e.research = research.New(b, e.parser, e.logger)
	e.openErr = nil
	return nil
}

// Root returns the project root
func (e *Engine) Root() string {
	return e.root
}

// Config returns the configuration in use
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// ready returns the open backend or the reason there is none
func (e *Engine) ready() (*backend.Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.closed:
		return nil, backend.ErrClosed
	case e.openErr != nil:
		return nil, e.openErr
	case e.backend == nil:
		return nil, fmt.Errorf("%w: run index first (%s)", types.ErrIndexNotInitialized, e.cfg.IndexDir)
	}
	return e.backend, nil
}

// ensureIndex opens or creates the index for an indexing run
func (e *Engine) ensureIndex(ctx context.Context) (*indexer.Indexer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return nil, backend.ErrClosed
	case e.openErr != nil:
		return nil, e.openErr
	case e.indexer != nil:
		return e.indexer, nil
	}

	// A hash cache without its index would make every file look unchanged
	if err := os.RemoveAll(backend.HashesDir(e.cfg.IndexDir)); err != nil {
		return nil, fmt.Errorf("clear hash cache: %w", err)
	}
	b, err := backend.Create(ctx, e.cfg.IndexDir, e.backendOptions())
	if err != nil {
		return nil, err
	}
	if err := e.attach(b); err != nil {
		_ = b.Close()
		return nil, err
	}
	return e.indexer, nil
}

// Index brings the index up to date with the files under path, which
// defaults to the project root. The index is created on first use.
func (e *Engine) Index(ctx context.Context, path string, mode indexer.Mode) (*indexer.Statistics, error) {
	if path == "" {
		path = e.root
	}
	idx, err := e.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Index(ctx, path, mode)
}

// SearchRequest parameterizes Search. Nil pointers take configured defaults.
type SearchRequest struct {
	Query        string
	Limit        int
	VectorWeight *float64
	IncludeStale bool
	Tiers        []types.Tier
}

// Search runs a hybrid chunk search
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]types.SearchResult, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	return b.Search(ctx, req.Query, backend.SearchOptions{
		Limit:        e.limit(req.Limit),
		VectorWeight: e.weight(req.VectorWeight),
		IncludeStale: req.IncludeStale,
		Tiers:        req.Tiers,
	})
}

// SearchFiles ranks files by their best matching chunk
func (e *Engine) SearchFiles(ctx context.Context, query string, k int, vectorWeight *float64) ([]types.FileResult, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	return b.SearchFiles(ctx, query, e.limit(k), e.weight(vectorWeight))
}

// ResearchRequest parameterizes Research. Nil pointers take configured
// defaults.
type ResearchRequest struct {
	Question     string
	MaxHops      *int
	PerHopLimit  *int
	VectorWeight *float64
}

// Research runs multi-hop expansion for a question
func (e *Engine) Research(ctx context.Context, req ResearchRequest) (*research.Result, error) {
	if _, err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	r := e.research
	e.mu.RUnlock()
	if r == nil {
		// Reset between the check and here
		return nil, types.ErrIndexNotInitialized
	}

	opts := research.OptionsFrom(e.cfg)
	if req.MaxHops != nil {
		opts.MaxHops = *req.MaxHops
	}
	if req.PerHopLimit != nil {
		opts.PerHopLimit = *req.PerHopLimit
	}
	opts.VectorWeight = e.weight(req.VectorWeight)
	return r.Research(ctx, req.Question, opts)
}

// Status describes the index of the project
type Status struct {
	Root        string
	IndexDir    string
	Initialized bool
	Indexing    bool
	Stats       types.IndexStats
	HashedFiles int
}

// Status reports index statistics. A missing index is not an error.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st := &Status{Root: e.root, IndexDir: e.cfg.IndexDir}

	b, err := e.ready()
	if errors.Is(err, types.ErrIndexNotInitialized) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Initialized = true
	st.Stats = stats

	e.mu.RLock()
	defer e.mu.RUnlock()
	st.Indexing = e.indexer != nil && e.indexer.Running()
	if e.hashes != nil {
		if n, err := e.hashes.Len(); err == nil {
			st.HashedFiles = n
		}
	}
	return st, nil
}

// Compact rebuilds the index without stale chunks
func (e *Engine) Compact(ctx context.Context) (*backend.CompactResult, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	return b.Compact(ctx)
}

// Reset deletes the index directory so the next Index starts from scratch.
// It is the only way out of a damaged index.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return backend.ErrClosed
	}
	if e.indexer != nil && e.indexer.Running() {
		return types.ErrIndexingInProgress
	}

	err := e.closeIndex()
	if rmErr := os.RemoveAll(e.cfg.IndexDir); rmErr != nil {
		return fmt.Errorf("remove index: %w", rmErr)
	}
	e.openErr = nil
	e.logger.Info("index reset", "dir", e.cfg.IndexDir)
	return err
}

// closeIndex releases the backend and the hash cache. Callers hold e.mu.
func (e *Engine) closeIndex() error {
	var errs []error
	if e.backend != nil {
		errs = append(errs, e.backend.Close())
	}
	if e.hashes != nil {
		errs = append(errs, e.hashes.Close())
	}
	e.backend, e.hashes, e.indexer, e.research = nil, nil, nil, nil
	return errors.Join(errs...)
}

// Close flushes the index and releases every resource
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return errors.Join(e.closeIndex(), e.embedder.Close())
}

func (e *Engine) limit(k int) int {
	if k <= 0 {
		return e.cfg.DefaultLimit
	}
	return k
}

func (e *Engine) weight(w *float64) float64 {
	if w == nil {
		return e.cfg.VectorWeight
	}
	return *w
}
