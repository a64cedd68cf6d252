package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codeintel/internal/embedder"
	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/internal/searcher"
	"github.com/dshills/codeintel/internal/storage"
	"github.com/dshills/codeintel/internal/vectorindex"
	"github.com/dshills/codeintel/pkg/types"
)

const (
	// BatchSize is the number of chunk texts sent per embedding call
	BatchSize = 32

	// fileFetchFactor is how many chunks SearchFiles reads per requested file
	fileFetchFactor = 5
)

var (
	// ErrClosed is returned by operations on a closed backend
	ErrClosed = errors.New("backend closed")
	// ErrExists is returned by Create when the directory already holds an index
	ErrExists = errors.New("index already exists")
)

// Options configures a Backend
type Options struct {
	Embedder  embedder.Embedder // Required
	HNSW      vectorindex.Config
	CacheSize int // Search result cache entries
	Logger    *slog.Logger
}

// SearchOptions controls one search
type SearchOptions struct {
	Limit        int
	VectorWeight float64 // 0 = lexical only, 1 = semantic only
	IncludeStale bool
	Tiers        []types.Tier
}

// Backend is a hybrid chunk index in one directory: SQLite metadata with an
// FTS5 lexical index plus an HNSW vector index, versioned by generation.
//
// Any number of searches run concurrently. Writes (AddChunks,
// InvalidateByFile, Flush, Compact) are serialized.
type Backend struct {
	dir      string
	opts     Options
	embedder embedder.Embedder
	searcher *searcher.Searcher
	logger   *slog.Logger

	current  atomic.Pointer[generation]
	writeMu  sync.Mutex
	seq      atomic.Uint64 // Bumped by every write; scopes the result cache
	manifest *Manifest     // Guarded by writeMu

	degraded    atomic.Bool
	degradeOnce sync.Once
	closed      atomic.Bool
}

func newBackend(dir string, opts Options) (*Backend, error) {
	if opts.Embedder == nil {
		return nil, errors.New("backend requires an embedder")
	}
	logger := logging.OrDiscard(opts.Logger).With("component", "backend")
	return &Backend{
		dir:      dir,
		opts:     opts,
		embedder: opts.Embedder,
		searcher: searcher.New(opts.CacheSize, opts.Logger),
		logger:   logger,
	}, nil
}

// Create initializes an empty index in dir, creating the directory if
// needed. It fails with ErrExists when dir already has a manifest.
func Create(ctx context.Context, dir string, opts Options) (*Backend, error) {
	b, err := newBackend(dir, opts)
	if err != nil {
		return nil, err
	}
	if Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	const gen = 1
	removeOrphans(dir, 0, b.logger)

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(dir, metaFileName(gen)))
	if err != nil {
		return nil, fmt.Errorf("create metadata store: %w", err)
	}
	g := newGeneration(dir, gen, store, vectorindex.New(b.embedder.Dimension(), opts.HNSW), b.logger)
	if err := g.vectors.SaveFile(g.vecPath); err != nil {
		g.retire(true)
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	now := time.Now().UTC()
	m := &Manifest{
		Version:    manifestVersion,
		Generation: gen,
		MetaFile:   metaFileName(gen),
		VectorFile: vectorFileName(gen),
		Embedder:   embedder.Name(b.embedder),
		Dimension:  b.embedder.Dimension(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := writeManifest(dir, m); err != nil {
		g.retire(true)
		return nil, err
	}

	b.manifest = m
	b.current.Store(g)
	b.logger.Info("index created", "dir", dir, "embedder", m.Embedder, "dimension", m.Dimension)
	return b, nil
}

// Open loads the index in dir. A missing index is ErrIndexNotInitialized;
// damaged files or an embedder of a different dimension are
// ErrIndexCorrupted. Neither is repaired automatically.
func Open(ctx context.Context, dir string, opts Options) (*Backend, error) {
	b, err := newBackend(dir, opts)
	if err != nil {
		return nil, err
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if m.Dimension != b.embedder.Dimension() {
		return nil, fmt.Errorf("%w: index dimension %d, embedder %s produces %d",
			types.ErrIndexCorrupted, m.Dimension, embedder.Name(b.embedder), b.embedder.Dimension())
	}
	if name := embedder.Name(b.embedder); name != m.Embedder {
		b.logger.Warn("embedder differs from the one that built the index", "index", m.Embedder, "current", name)
	}

	g, err := openGeneration(ctx, dir, m, b.logger)
	if err != nil {
		return nil, err
	}
	removeOrphans(dir, m.Generation, b.logger)

	b.manifest = m
	b.current.Store(g)
	b.logger.Debug("index opened", "dir", dir, "generation", m.Generation, "vectors", g.vectors.Len())
	return b, nil
}

// Dir returns the index directory
func (b *Backend) Dir() string {
	return b.dir
}

// Embedder returns the embedder used for chunks and queries
func (b *Backend) Embedder() embedder.Embedder {
	return b.embedder
}

// Degraded reports whether semantic search has been disabled this session
func (b *Backend) Degraded() bool {
	return b.degraded.Load()
}

// acquire pins the current generation; callers must release it
func (b *Backend) acquire() (*generation, error) {
	for {
		if b.closed.Load() {
			return nil, ErrClosed
		}
		g := b.current.Load()
		if g.tryAcquire() {
			return g, nil
		}
	}
}

// markDegraded switches the session to lexical-only search
func (b *Backend) markDegraded(err error) {
	b.degraded.Store(true)
	b.degradeOnce.Do(func() {
		b.logger.Warn("embedder unavailable, semantic search disabled for this session", "error", err)
	})
}

// embed fills vectors for texts in BatchSize batches. It returns nil
// vectors, without error, once the embedder is unavailable.
func (b *Backend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if b.degraded.Load() || len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := min(start+BatchSize, len(texts))
		batch, err := b.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, types.ErrEmbedderUnavailable) {
				b.markDegraded(err)
				return nil, nil
			}
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// AddChunks stores chunks and their vectors. Chunks without an embedding
// are embedded first unless the vector index already has their id. When the
// embedder is unavailable the chunks are stored for lexical search only.
func (b *Backend) AddChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	g, err := b.acquire()
	if err != nil {
		return err
	}
	defer g.release()

	vecs := make([][]float32, len(chunks))
	var (
		pending []int
		texts   []string
	)
	for i, c := range chunks {
		switch {
		case c.Embedding != nil:
			vecs[i] = c.Embedding
		case !g.vectors.Contains(c.ID):
			pending = append(pending, i)
			texts = append(texts, c.Content)
		}
	}

	embedded, err := b.embed(ctx, texts)
	if err != nil {
		return err
	}
	for j, i := range pending {
		if embedded != nil {
			vecs[i] = embedded[j]
		}
	}

	if err := g.store.UpsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	// Bumped on return so a reader never sees the new sequence before the
	// vectors are in.
	defer b.seq.Add(1)

	var added int
	for i, c := range chunks {
		if vecs[i] == nil {
			continue
		}
		ok, err := g.vectors.Add(c.ID, vecs[i])
		if err != nil {
			return fmt.Errorf("add vector for %s: %w", c.ID, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		g.dirty.Store(true)
	}

	b.logger.Debug("chunks added", "chunks", len(chunks), "embedded", len(embedded), "vectors", added)
	return nil
}

// InvalidateByFile marks every chunk of path stale and returns how many
// chunks changed. Index structures are untouched until Compact.
func (b *Backend) InvalidateByFile(ctx context.Context, path string) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	g, err := b.acquire()
	if err != nil {
		return 0, err
	}
	defer g.release()

	n, err := g.store.InvalidateFile(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", path, err)
	}
	if n > 0 {
		b.seq.Add(1)
	}
	return n, nil
}

// Files returns the paths that still have valid chunks; a file whose chunks
// were all invalidated is not listed
func (b *Backend) Files(ctx context.Context) ([]string, error) {
	g, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer g.release()
	return g.store.ListFiles(ctx)
}

// Search runs a hybrid query and returns up to opts.Limit chunks
func (b *Backend) Search(ctx context.Context, query string, opts SearchOptions) ([]types.SearchResult, error) {
	resp, err := b.search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (b *Backend) search(ctx context.Context, query string, opts SearchOptions) (*searcher.Response, error) {
	// Load the sequence before pinning so results are never cached under a
	// sequence newer than the data they were computed from.
	seq := b.seq.Load()
	g, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer g.release()

	resp, err := b.searcher.Search(ctx, &view{b: b, g: g}, searcher.Request{
		Query:        query,
		Limit:        opts.Limit,
		VectorWeight: opts.VectorWeight,
		IncludeStale: opts.IncludeStale,
		Tiers:        opts.Tiers,
	}, seq)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("search", "query", query, "results", len(resp.Results),
		"cache_hit", resp.CacheHit, "degraded", resp.Degraded, "duration", resp.Duration)
	return resp, nil
}

// SearchFiles ranks files by their best matching chunk
func (b *Backend) SearchFiles(ctx context.Context, query string, k int, vectorWeight float64) ([]types.FileResult, error) {
	if k <= 0 {
		k = searcher.DefaultLimit
	}
	resp, err := b.search(ctx, query, SearchOptions{Limit: k * fileFetchFactor, VectorWeight: vectorWeight})
	if err != nil {
		return nil, err
	}
	return searcher.AggregateFiles(resp.Results, k), nil
}

// Stats recomputes aggregate counts for the current generation
func (b *Backend) Stats(ctx context.Context) (types.IndexStats, error) {
	g, err := b.acquire()
	if err != nil {
		return types.IndexStats{}, err
	}
	defer g.release()

	status, err := g.store.GetStatus(ctx)
	if err != nil {
		return types.IndexStats{}, fmt.Errorf("read status: %w", err)
	}

	return types.IndexStats{
		Files:       status.Files,
		Chunks:      status.Chunks,
		ValidChunks: status.ValidChunks,
		StaleChunks: status.StaleChunks,
		Vectors:     g.vectors.Len(),
		IndexBytes:  g.size(),
		LastUpdated: status.LastUpdated,
		Generation:  g.num,
		Embedder:    embedder.Name(b.embedder),
		Degraded:    b.degraded.Load(),
	}, nil
}

// Flush persists the vector index if it changed and checkpoints the WAL
func (b *Backend) Flush(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	g, err := b.acquire()
	if err != nil {
		return err
	}
	defer g.release()
	return b.flush(ctx, g)
}

func (b *Backend) flush(ctx context.Context, g *generation) error {
	if g.dirty.Swap(false) {
		if err := g.vectors.SaveFile(g.vecPath); err != nil {
			g.dirty.Store(true)
			return fmt.Errorf("save vectors: %w", err)
		}
	}
	if err := g.store.Checkpoint(ctx); err != nil {
		return err
	}

	b.manifest.UpdatedAt = time.Now().UTC()
	return writeManifest(b.dir, b.manifest)
}

// Close flushes and releases the index. Searches still in flight finish on
// their generation.
func (b *Backend) Close() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed.Swap(true) {
		return nil
	}
	g := b.current.Load()
	err := b.flush(context.Background(), g)
	g.retire(false)
	return err
}

// view adapts one pinned generation to searcher.Source
type view struct {
	b *Backend
	g *generation
}

func (v *view) VectorSearch(ctx context.Context, query string, limit int) ([]string, error) {
	if v.b.degraded.Load() {
		return nil, fmt.Errorf("%w: disabled for this session", types.ErrEmbedderUnavailable)
	}
	if v.g.vectors.Len() == 0 {
		return nil, nil
	}

	vecs, err := v.b.embedder.Embed(ctx, []string{query})
	if err != nil {
		if errors.Is(err, types.ErrEmbedderUnavailable) && ctx.Err() == nil {
			v.b.markDegraded(err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := v.g.vectors.Search(vecs[0], limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}

func (v *view) SearchText(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]storage.TextResult, error) {
	return v.g.store.SearchText(ctx, query, limit, filters)
}

func (v *view) GetChunks(ctx context.Context, ids []string) (map[string]*storage.ChunkRecord, error) {
	return v.g.store.GetChunks(ctx, ids)
}
