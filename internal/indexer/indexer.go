package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeintel/internal/chunker"
	"github.com/dshills/codeintel/internal/config"
	"github.com/dshills/codeintel/internal/hashcache"
	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/internal/parser"
	"github.com/dshills/codeintel/pkg/types"
)

// DefaultMaxFailures is how many times the same content may fail before the
// file is skipped
const DefaultMaxFailures = 3

// Mode selects how a run decides what to index
type Mode string

const (
	// ModeFull invalidates every known file and re-indexes everything
	ModeFull Mode = "full"
	// ModeIncremental re-indexes only files whose content hash changed
	ModeIncremental Mode = "incremental"
	// ModeParallel is incremental with parsing and chunking spread over workers
	ModeParallel Mode = "parallel"
)

// ParseMode converts a user-supplied mode name. Empty means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	case ModeParallel:
		return ModeParallel, nil
	default:
		return "", fmt.Errorf("unknown index mode %q (want full, incremental or parallel)", s)
	}
}

// Store is the index the coordinator writes to
type Store interface {
	AddChunks(ctx context.Context, chunks []*types.Chunk) error
	InvalidateByFile(ctx context.Context, path string) (int, error)
	Files(ctx context.Context) ([]string, error)
	Flush(ctx context.Context) error
}

// Config contains configuration for the indexer
type Config struct {
	Workers           int // Parse workers in parallel mode (default: runtime.NumCPU())
	MaxFileSize       int64
	ExcludePatterns   []string
	IncludeVendor     bool
	IncludeExtensions []string
	MaxFailures       int
	Chunking          chunker.Options
	StdlibRoots       []string // Paths classified as stdlib tier
}

// ConfigFrom derives indexer settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workers:           cfg.Workers,
		MaxFileSize:       cfg.MaxFileSize,
		ExcludePatterns:   cfg.ExcludePatterns,
		IncludeVendor:     cfg.IncludeVendor,
		IncludeExtensions: cfg.IncludeExtensions,
		MaxFailures:       DefaultMaxFailures,
		Chunking: chunker.Options{
			MaxSize: cfg.MaxChunkSize,
			MinSize: cfg.MinChunkSize,
		},
		StdlibRoots: cfg.StdlibRoots,
	}
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	Mode           Mode
	FilesScanned   int
	FilesIndexed   int
	FilesUnchanged int
	FilesFailed    int
	FilesRemoved   int
	ChunksCreated  int
	ParseErrors    int
	Duration       time.Duration

	// Skipped lists files left alone after repeated failures
	Skipped       []string
	ErrorMessages []string
}

// Indexer coordinates the indexing pipeline: discover -> hash -> parse ->
// chunk -> store
type Indexer struct {
	store   Store
	hashes  *hashcache.Cache
	parser  *parser.Parser
	chunker *chunker.Chunker
	cfg     Config
	logger  *slog.Logger

	extraExt map[string]bool
	lock     IndexLock
}

// New creates a new Indexer writing to store and tracking file hashes in
// hashes.
func New(store Store, hashes *hashcache.Cache, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 1 << 20
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}

	extra := make(map[string]bool, len(cfg.IncludeExtensions))
	for _, ext := range cfg.IncludeExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extra[ext] = true
	}

	logger = logging.OrDiscard(logger)
	return &Indexer{
		store:    store,
		hashes:   hashes,
		parser:   parser.New(parser.WithLogger(logger)),
		chunker:  chunker.New(cfg.Chunking),
		cfg:      cfg,
		logger:   logger.With("component", "indexer"),
		extraExt: extra,
	}
}

// Running reports whether an indexing run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Index brings the index up to date with the files under root. Only one run
// may be active; a concurrent call fails with types.ErrIndexingInProgress.
func (idx *Indexer) Index(ctx context.Context, root string, mode Mode) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, types.ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := time.Now()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	files, err := idx.discoverFiles(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	stats := &Statistics{
		Mode:          mode,
		FilesScanned:  len(files),
		ErrorMessages: make([]string, 0),
	}
	idx.logger.Info("indexing started", "root", root, "mode", mode, "files", len(files))

	if mode == ModeFull {
		if err := idx.invalidateAll(ctx); err != nil {
			return nil, err
		}
	}
	if err := idx.removeMissing(ctx, root, files, stats); err != nil {
		return nil, err
	}

	switch mode {
	case ModeFull, ModeIncremental:
		err = idx.indexSequential(ctx, files, mode, stats)
	case ModeParallel:
		err = idx.indexParallel(ctx, files, mode, stats)
	default:
		return nil, fmt.Errorf("unknown index mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	if err := idx.store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush index: %w", err)
	}

	stats.Duration = time.Since(start)
	idx.logger.Info("indexing finished",
		"indexed", stats.FilesIndexed,
		"unchanged", stats.FilesUnchanged,
		"failed", stats.FilesFailed,
		"removed", stats.FilesRemoved,
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration)
	return stats, nil
}

// invalidateAll marks every stored chunk stale ahead of a full rebuild.
// Chunks whose content is unchanged become valid again when re-added.
func (idx *Indexer) invalidateAll(ctx context.Context) error {
	known, err := idx.store.Files(ctx)
	if err != nil {
		return fmt.Errorf("list indexed files: %w", err)
	}
	for _, p := range known {
		if _, err := idx.store.InvalidateByFile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// removeMissing invalidates and forgets files under root that were indexed
// before but are no longer discovered.
func (idx *Indexer) removeMissing(ctx context.Context, root string, files []string, stats *Statistics) error {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}

	stored, err := idx.store.Files(ctx)
	if err != nil {
		return fmt.Errorf("list indexed files: %w", err)
	}
	cached, err := idx.hashes.Paths()
	if err != nil {
		return fmt.Errorf("list cached files: %w", err)
	}

	prefix := root + string(filepath.Separator)
	gone := make(map[string]bool)
	for _, p := range append(stored, cached...) {
		if strings.HasPrefix(p, prefix) && !present[p] {
			gone[p] = true
		}
	}

	paths := make([]string, 0, len(gone))
	for p := range gone {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		n, err := idx.store.InvalidateByFile(ctx, p)
		if err != nil {
			return err
		}
		if err := idx.hashes.Delete(p); err != nil {
			return fmt.Errorf("forget %s: %w", p, err)
		}
		stats.FilesRemoved++
		idx.logger.Debug("file removed", "path", p, "invalidated", n)
	}
	return nil
}

// outcome is what preparing a file concluded
type outcome int

const (
	outcomeIndex outcome = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeFailed
)

// prepared is one file after hashing, parsing and chunking, ready for the
// writer
type prepared struct {
	path    string
	hash    string
	size    int64
	modTime time.Time
	outcome outcome
	chunks  []*types.Chunk
	parseOK bool
	err     error
}

// prepare reads, hashes, parses and chunks one file. It only reads the hash
// cache; all writes happen in commit.
func (idx *Indexer) prepare(ctx context.Context, path string, mode Mode) *prepared {
	p := &prepared{path: path, parseOK: true}

	content, err := os.ReadFile(path)
	if err != nil {
		p.outcome, p.err = outcomeFailed, fmt.Errorf("read: %w", err)
		return p
	}
	info, err := os.Stat(path)
	if err == nil {
		p.size, p.modTime = info.Size(), info.ModTime()
	}
	sum := sha256.Sum256(content)
	p.hash = hex.EncodeToString(sum[:])

	entry, ok, err := idx.hashes.Get(path)
	if err != nil {
		p.outcome, p.err = outcomeFailed, fmt.Errorf("hash cache: %w", err)
		return p
	}
	if ok && mode != ModeFull && entry.Unchanged(p.hash) {
		p.outcome = outcomeUnchanged
		return p
	}
	if ok && entry.FailuresFor(p.hash) >= idx.cfg.MaxFailures {
		p.outcome = outcomeSkipped
		return p
	}

	result := idx.parser.ParseFile(ctx, path, content)
	if result.HasErrors() {
		p.parseOK = false
		idx.logger.Debug("parse problems", "file", path, "error", result.Errors[0].Message)
	}

	p.chunks = idx.chunker.ChunkFile(chunker.File{
		Path:     path,
		Content:  content,
		Language: result.Language,
		Tier:     chunker.ClassifyTier(path, idx.cfg.StdlibRoots...),
	}, result.Concepts)

	for _, c := range p.chunks {
		if err := c.Validate(); err != nil {
			p.outcome, p.err = outcomeFailed, fmt.Errorf("chunk %d-%d: %w", c.StartLine, c.EndLine, err)
			return p
		}
	}
	return p
}

// commit writes a prepared file. Only the writer goroutine calls it. Per-file
// failures are recorded in stats; the returned error aborts the run.
func (idx *Indexer) commit(ctx context.Context, p *prepared, stats *Statistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch p.outcome {
	case outcomeUnchanged:
		stats.FilesUnchanged++
		return nil
	case outcomeSkipped:
		stats.Skipped = append(stats.Skipped, p.path)
		idx.logger.Debug("skipping repeatedly failing file", "file", p.path)
		return nil
	case outcomeFailed:
		return idx.recordFailure(p, p.err, stats)
	}

	if !p.parseOK {
		stats.ParseErrors++
	}

	if _, err := idx.store.InvalidateByFile(ctx, p.path); err != nil {
		return idx.recordFailure(p, err, stats)
	}
	if err := idx.store.AddChunks(ctx, p.chunks); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return idx.recordFailure(p, err, stats)
	}

	err := idx.hashes.Put(p.path, hashcache.Entry{
		Hash:    p.hash,
		Size:    p.size,
		ModTime: p.modTime,
	})
	if err != nil {
		return fmt.Errorf("update hash cache: %w", err)
	}

	stats.FilesIndexed++
	stats.ChunksCreated += len(p.chunks)
	return nil
}

func (idx *Indexer) recordFailure(p *prepared, cause error, stats *Statistics) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}

	stats.FilesFailed++
	stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", p.path, cause))

	failures, err := idx.hashes.RecordFailure(p.path, p.hash)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	idx.logger.Warn("failed to index file", "file", p.path, "failures", failures, "error", cause)
	return nil
}

// indexSequential prepares and commits files one at a time
func (idx *Indexer) indexSequential(ctx context.Context, files []string, mode Mode, stats *Statistics) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.commit(ctx, idx.prepare(ctx, f, mode), stats); err != nil {
			return err
		}
	}
	return nil
}

// indexParallel prepares files on a bounded set of workers and funnels the
// results to a single writer.
func (idx *Indexer) indexParallel(ctx context.Context, files []string, mode Mode, stats *Statistics) error {
	g, gctx := errgroup.WithContext(ctx)

	paths := make(chan string)
	results := make(chan *prepared, idx.cfg.Workers)

	g.Go(func() error {
		defer close(paths)
		for _, f := range files {
			select {
			case paths <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for range idx.cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for f := range paths {
				p := idx.prepare(gctx, f, mode)
				select {
				case results <- p:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		for p := range results {
			if err := idx.commit(gctx, p, stats); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
