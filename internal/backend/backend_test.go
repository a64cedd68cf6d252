package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeintel/internal/embedder"
	"github.com/dshills/codeintel/internal/logging"
	"github.com/dshills/codeintel/pkg/types"
)

const testDim = 64

// flakyEmbedder wraps the local provider and can be switched to fail
type flakyEmbedder struct {
	*embedder.LocalProvider
	down  atomic.Bool
	calls atomic.Int32
}

func newFlakyEmbedder() *flakyEmbedder {
	return &flakyEmbedder{LocalProvider: embedder.NewLocalProvider(testDim)}
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, fmt.Errorf("%w: daemon not reachable", types.ErrEmbedderUnavailable)
	}
	return f.LocalProvider.Embed(ctx, texts)
}

func testOptions(e embedder.Embedder) Options {
	return Options{Embedder: e, Logger: logging.NewDiscard()}
}

func setupTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "index")
	b, err := Create(context.Background(), dir, testOptions(embedder.NewLocalProvider(testDim)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, dir
}

func testChunk(path string, start int, symbol, content string) *types.Chunk {
	c := &types.Chunk{
		Symbol:    symbol,
		Kind:      types.ChunkFunction,
		FilePath:  path,
		StartLine: start,
		EndLine:   start + 2,
		Language:  types.LangGo,
		Content:   content,
		Tier:      types.TierProject,
	}
	c.ComputeContentHash()
	c.ComputeID()
	return c
}

func sampleChunks() []*types.Chunk {
	return []*types.Chunk{
		testChunk("/src/config.go", 1, "loadConfig", "func loadConfig(path string) (*Config, error) { return parseConfigFile(path) }"),
		testChunk("/src/config.go", 10, "parseConfigFile", "func parseConfigFile(path string) (*Config, error) { data := readFile(path); return decode(data) }"),
		testChunk("/src/server.go", 1, "startServer", "func startServer(addr string) error { return http.ListenAndServe(addr, router()) }"),
		testChunk("/src/auth.go", 1, "checkToken", "func checkToken(token string) bool { return verifySignature(token) }"),
	}
}

func ids(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestCreateAndSearch(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	chunks := sampleChunks()

	require.NoError(t, b.AddChunks(ctx, chunks))

	results, err := b.Search(ctx, "parseConfigFile", SearchOptions{Limit: 5, VectorWeight: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "/src/config.go", results[0].Chunk.FilePath)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.False(t, r.Stale)
	}

	lexical, err := b.Search(ctx, "checkToken", SearchOptions{Limit: 5, VectorWeight: 0})
	require.NoError(t, err)
	require.NotEmpty(t, lexical)
	assert.Equal(t, chunks[3].ID, lexical[0].Chunk.ID)
	assert.Equal(t, types.MethodLexical, lexical[0].Method)

	semantic, err := b.Search(ctx, "checkToken verifySignature token", SearchOptions{Limit: 1, VectorWeight: 1})
	require.NoError(t, err)
	require.Len(t, semantic, 1)
	assert.Equal(t, chunks[3].ID, semantic[0].Chunk.ID)
	assert.Equal(t, types.MethodSemantic, semantic[0].Method)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 4, stats.ValidChunks)
	assert.Equal(t, 4, stats.Vectors)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, "local/local-hash", stats.Embedder)
	assert.Greater(t, stats.IndexBytes, int64(0))
	assert.False(t, stats.Degraded)
	assert.Zero(t, stats.StalenessRatio())
}

func TestAddChunksIdempotent(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AddChunks(ctx, sampleChunks()))
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 4, stats.Vectors)
}

func TestAddChunksBatches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	emb := newFlakyEmbedder()
	b, err := Create(context.Background(), dir, testOptions(emb))
	require.NoError(t, err)
	defer b.Close()

	var chunks []*types.Chunk
	for i := 0; i < 70; i++ {
		chunks = append(chunks, testChunk("/src/gen.go", i*3+1, fmt.Sprintf("fn%d", i), fmt.Sprintf("func fn%d() int { return %d }", i, i)))
	}
	require.NoError(t, b.AddChunks(context.Background(), chunks))
	assert.Equal(t, int32(3), emb.calls.Load(), "70 chunks embed in batches of 32")

	// Already indexed ids are not embedded again
	require.NoError(t, b.AddChunks(context.Background(), chunks[:5]))
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestAddChunksWithEmbedding(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()

	c := testChunk("/src/a.go", 1, "a", "func a() {}")
	c.Embedding = make([]float32, testDim)
	c.Embedding[0] = 1
	require.NoError(t, b.AddChunks(ctx, []*types.Chunk{c}))

	bad := testChunk("/src/b.go", 1, "b", "func b() {}")
	bad.Embedding = []float32{1, 2}
	assert.Error(t, b.AddChunks(ctx, []*types.Chunk{bad}))
}

func TestInvalidateByFile(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))

	// Warm the result cache; the invalidation must not be hidden by it
	before, err := b.Search(ctx, "parseConfigFile loadConfig", SearchOptions{Limit: 10, VectorWeight: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, before)

	n, err := b.InvalidateByFile(ctx, "/src/config.go")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.InvalidateByFile(ctx, "/src/config.go")
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := b.Search(ctx, "parseConfigFile loadConfig", SearchOptions{Limit: 10, VectorWeight: 0.5})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "/src/config.go", r.Chunk.FilePath)
	}

	withStale, err := b.Search(ctx, "parseConfigFile loadConfig", SearchOptions{Limit: 10, VectorWeight: 0.5, IncludeStale: true})
	require.NoError(t, err)
	var stale int
	for _, r := range withStale {
		if r.Stale {
			stale++
			assert.Equal(t, "/src/config.go", r.Chunk.FilePath)
		}
	}
	assert.Equal(t, 2, stale)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.StaleChunks)
	assert.Equal(t, 4, stats.Vectors, "vectors stay until compaction")
	assert.InDelta(t, 0.5, stats.StalenessRatio(), 1e-9)
	assert.True(t, stats.NeedsCompaction())
}

func TestFilesListsValidOnly(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))

	files, err := b.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/auth.go", "/src/config.go", "/src/server.go"}, files)

	_, err = b.InvalidateByFile(ctx, "/src/config.go")
	require.NoError(t, err)

	files, err = b.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/auth.go", "/src/server.go"}, files)
}

func TestReaddRevalidates(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	chunks := sampleChunks()
	require.NoError(t, b.AddChunks(ctx, chunks))

	_, err := b.InvalidateByFile(ctx, "/src/auth.go")
	require.NoError(t, err)
	require.NoError(t, b.AddChunks(ctx, chunks[3:]))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.StaleChunks)
}

func TestCompact(t *testing.T) {
	b, dir := setupTestBackend(t)
	ctx := context.Background()
	chunks := sampleChunks()
	require.NoError(t, b.AddChunks(ctx, chunks))
	require.NoError(t, b.Flush(ctx))

	_, err := b.InvalidateByFile(ctx, "/src/config.go")
	require.NoError(t, err)

	res, err := b.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, 2, res.Removed)
	assert.Zero(t, res.Reembedded)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Generation)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 2, stats.ValidChunks)
	assert.Zero(t, stats.StaleChunks)
	assert.Zero(t, stats.StalenessRatio())
	assert.Equal(t, 2, stats.Vectors)

	// Stale chunks are gone even when asked for
	results, err := b.Search(ctx, "parseConfigFile", SearchOptions{Limit: 10, VectorWeight: 0.5, IncludeStale: true})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "/src/config.go", r.Chunk.FilePath)
	}

	// Old generation files are deleted, new ones exist
	assert.NoFileExists(t, filepath.Join(dir, "meta-1.db"))
	assert.NoFileExists(t, filepath.Join(dir, "vectors-1.hnsw"))
	assert.FileExists(t, filepath.Join(dir, "meta-2.db"))
	assert.FileExists(t, filepath.Join(dir, "vectors-2.hnsw"))

	// The compacted index reopens
	require.NoError(t, b.Close())
	reopened, err := Open(ctx, dir, testOptions(embedder.NewLocalProvider(testDim)))
	require.NoError(t, err)
	defer reopened.Close()

	stats, err = reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Generation)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 2, stats.Vectors)
}

func TestCompactReembedsMissingVectors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	emb := newFlakyEmbedder()
	b, err := Create(context.Background(), dir, testOptions(emb))
	require.NoError(t, err)
	ctx := context.Background()

	emb.down.Store(true)
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))
	require.NoError(t, b.Close())

	// A new session with a working embedder fills the gaps on compaction
	emb.down.Store(false)
	b, err = Open(ctx, dir, testOptions(emb))
	require.NoError(t, err)
	defer b.Close()

	res, err := b.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Reembedded)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Vectors)
}

func TestCompactConcurrentReads(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()

	var chunks []*types.Chunk
	for i := 0; i < 200; i++ {
		chunks = append(chunks, testChunk(fmt.Sprintf("/src/f%d.go", i%20), i*3+1,
			fmt.Sprintf("handler%d", i), fmt.Sprintf("func handler%d(req Request) Response { return serve(req, %d) }", i, i)))
	}
	require.NoError(t, b.AddChunks(ctx, chunks))
	for i := 0; i < 10; i++ {
		_, err := b.InvalidateByFile(ctx, fmt.Sprintf("/src/f%d.go", i))
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var searches atomic.Int32
	errs := make(chan error, 8)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				if i >= 10 {
					select {
					case <-stop:
						return
					default:
					}
				}
				q := fmt.Sprintf("handler%d serve request", (w*37+i)%200)
				if _, err := b.Search(ctx, q, SearchOptions{Limit: 5, VectorWeight: 0.5}); err != nil {
					errs <- err
					return
				}
				searches.Add(1)
			}
		}(w)
	}

	for i := 0; i < 3; i++ {
		_, err := b.Compact(ctx)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Positive(t, searches.Load())

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stats.Generation)
	assert.Equal(t, 100, stats.Chunks)
	assert.Zero(t, stats.StaleChunks)
}

func TestDegradedMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	emb := newFlakyEmbedder()
	b, err := Create(context.Background(), dir, testOptions(emb))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.AddChunks(ctx, sampleChunks()[:2]))
	emb.down.Store(true)

	// Writes fall back to metadata only
	require.NoError(t, b.AddChunks(ctx, sampleChunks()[2:]))
	assert.True(t, b.Degraded())

	// Searches answer from the lexical leg, even when fully semantic
	results, err := b.Search(ctx, "checkToken", SearchOptions{Limit: 3, VectorWeight: 1})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "checkToken", results[0].Chunk.Symbol)
	assert.Equal(t, types.MethodLexical, results[0].Method)

	// The session stays degraded without calling the embedder again
	calls := emb.calls.Load()
	_, err = b.Search(ctx, "startServer", SearchOptions{Limit: 3, VectorWeight: 0.5})
	require.NoError(t, err)
	assert.Equal(t, calls, emb.calls.Load())

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 2, stats.Vectors)
}

func TestSearchCacheInvalidatedByWrites(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddChunks(ctx, sampleChunks()[:1]))

	first, err := b.Search(ctx, "shutdownServer", SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, first)

	c := testChunk("/src/server.go", 20, "shutdownServer", "func shutdownServer(s *Server) error { return s.Close() }")
	require.NoError(t, b.AddChunks(ctx, []*types.Chunk{c}))

	second, err := b.Search(ctx, "shutdownServer", SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(second))
}

func TestSearchFiles(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))

	files, err := b.SearchFiles(ctx, "parseConfigFile loadConfig", 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "/src/config.go", files[0].FilePath)
	assert.Equal(t, 2, files[0].Chunks)
	assert.LessOrEqual(t, len(files), 2)

	_, err = b.SearchFiles(ctx, "", 2, 0)
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

func TestFlushAndReopen(t *testing.T) {
	b, dir := setupTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddChunks(ctx, sampleChunks()))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "second close is a no-op")

	_, err := b.Search(ctx, "x", SearchOptions{})
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(ctx, dir, testOptions(embedder.NewLocalProvider(testDim)))
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 4, stats.Vectors)

	results, err := reopened.Search(ctx, "startServer", SearchOptions{Limit: 1, VectorWeight: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "startServer", results[0].Chunk.Symbol)
}

func TestCreateExisting(t *testing.T) {
	_, dir := setupTestBackend(t)
	_, err := Create(context.Background(), dir, testOptions(embedder.NewLocalProvider(testDim)))
	assert.ErrorIs(t, err, ErrExists)
}

func TestOpenNotInitialized(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(embedder.NewLocalProvider(testDim))

	_, err := Open(ctx, filepath.Join(t.TempDir(), "missing"), opts)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	_, err = Open(ctx, t.TempDir(), opts)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	_, err = Open(ctx, t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestOpenCorrupted(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		damage  func(t *testing.T, dir string)
		options func() Options
	}{
		{
			name: "garbage manifest",
			damage: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("{not json"), 0o644))
			},
		},
		{
			name: "manifest for unknown generation",
			damage: func(t *testing.T, dir string) {
				m, err := readManifest(dir)
				require.NoError(t, err)
				m.Generation = 9
				m.MetaFile = metaFileName(9)
				m.VectorFile = vectorFileName(9)
				require.NoError(t, writeManifest(dir, m))
			},
		},
		{
			name: "missing metadata file",
			damage: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, metaFileName(1))))
			},
		},
		{
			name: "vector checksum mismatch",
			damage: func(t *testing.T, dir string) {
				p := filepath.Join(dir, vectorFileName(1))
				data, err := os.ReadFile(p)
				require.NoError(t, err)
				data[len(data)/2] ^= 0xff
				require.NoError(t, os.WriteFile(p, data, 0o644))
			},
		},
		{
			name: "metadata is not a database",
			damage: func(t *testing.T, dir string) {
				p := filepath.Join(dir, metaFileName(1))
				require.NoError(t, os.WriteFile(p, []byte("this is definitely not an sqlite database file, just text padding it out"), 0o644))
				_ = os.Remove(p + "-wal")
				_ = os.Remove(p + "-shm")
			},
		},
		{
			name:   "embedder dimension mismatch",
			damage: func(t *testing.T, dir string) {},
			options: func() Options {
				return testOptions(embedder.NewLocalProvider(testDim * 2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "index")
			b, err := Create(ctx, dir, testOptions(embedder.NewLocalProvider(testDim)))
			require.NoError(t, err)
			require.NoError(t, b.AddChunks(ctx, sampleChunks()))
			require.NoError(t, b.Close())

			tt.damage(t, dir)

			opts := testOptions(embedder.NewLocalProvider(testDim))
			if tt.options != nil {
				opts = tt.options()
			}
			_, err = Open(ctx, dir, opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrIndexCorrupted)
			assert.False(t, errors.Is(err, types.ErrIndexNotInitialized))
		})
	}
}

func TestOpenRemovesOrphans(t *testing.T) {
	first, dir := setupTestBackend(t)
	require.NoError(t, first.Close())
	orphan := filepath.Join(dir, "vectors-7.hnsw.tmp-123")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))

	b, err := Open(context.Background(), dir, testOptions(embedder.NewLocalProvider(testDim)))
	require.NoError(t, err)
	defer b.Close()

	assert.NoFileExists(t, orphan)
	assert.FileExists(t, filepath.Join(dir, vectorFileName(1)))
}

func TestSearchWaitsForNothingOnEmptyIndex(t *testing.T) {
	b, _ := setupTestBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results, err := b.Search(ctx, "anything", SearchOptions{Limit: 5, VectorWeight: 0.5})
	require.NoError(t, err)
	assert.Empty(t, results)
}
