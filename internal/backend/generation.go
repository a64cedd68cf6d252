package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dshills/codeintel/internal/storage"
	"github.com/dshills/codeintel/internal/vectorindex"
	"github.com/dshills/codeintel/pkg/types"
)

// generation is one immutable pair of index files. Readers pin it with
// acquire/release; the backend holds one base reference until the
// generation is retired, and the last release closes it.
type generation struct {
	num      uint64
	store    *storage.SQLiteStorage
	vectors  *vectorindex.Index
	metaPath string
	vecPath  string

	refs   atomic.Int64
	remove atomic.Bool // Delete files when the last reference goes
	dirty  atomic.Bool // Vectors added since the last save
	done   sync.Once
	logger *slog.Logger
}

func newGeneration(dir string, num uint64, store *storage.SQLiteStorage, vectors *vectorindex.Index, logger *slog.Logger) *generation {
	g := &generation{
		num:      num,
		store:    store,
		vectors:  vectors,
		metaPath: filepath.Join(dir, metaFileName(num)),
		vecPath:  filepath.Join(dir, vectorFileName(num)),
		logger:   logger,
	}
	g.refs.Store(1)
	return g
}

// tryAcquire pins g unless it has already been torn down
func (g *generation) tryAcquire() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (g *generation) release() {
	if g.refs.Add(-1) == 0 {
		g.teardown()
	}
}

// retire drops the base reference. With deleteFiles the generation's files
// are removed once no reader holds it.
func (g *generation) retire(deleteFiles bool) {
	g.remove.Store(deleteFiles)
	g.release()
}

func (g *generation) teardown() {
	g.done.Do(func() {
		if err := g.store.Close(); err != nil {
			g.logger.Warn("close metadata store", "generation", g.num, "error", err)
		}
		if !g.remove.Load() {
			return
		}
		for _, p := range generationFiles(g.metaPath, g.vecPath) {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				g.logger.Warn("remove retired file", "path", p, "error", err)
			}
		}
		g.logger.Debug("generation retired", "generation", g.num)
	})
}

// size sums the generation's on-disk bytes, including the SQLite WAL
func (g *generation) size() int64 {
	var total int64
	for _, p := range generationFiles(g.metaPath, g.vecPath) {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func generationFiles(metaPath, vecPath string) []string {
	return []string{metaPath, metaPath + "-wal", metaPath + "-shm", vecPath}
}

// openGeneration opens the files named by m, mapping every failure to
// ErrIndexCorrupted.
func openGeneration(ctx context.Context, dir string, m *Manifest, logger *slog.Logger) (*generation, error) {
	metaPath := filepath.Join(dir, m.MetaFile)
	vecPath := filepath.Join(dir, m.VectorFile)

	for _, p := range []string{metaPath, vecPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrIndexCorrupted, filepath.Base(p), err)
		}
	}

	vectors, err := vectorindex.LoadFile(vecPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrIndexCorrupted, m.VectorFile, err)
	}
	if vectors.Dimension() != m.Dimension {
		return nil, fmt.Errorf("%w: vector file has dimension %d, manifest %d",
			types.ErrIndexCorrupted, vectors.Dimension(), m.Dimension)
	}

	store, err := storage.NewSQLiteStorage(ctx, metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrIndexCorrupted, m.MetaFile, err)
	}
	if err := store.QuickCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %s: %v", types.ErrIndexCorrupted, m.MetaFile, err)
	}

	return newGeneration(dir, m.Generation, store, vectors, logger), nil
}

var generationFilePattern = regexp.MustCompile(`^(?:meta|vectors)-(\d+)\.(?:db|hnsw)`)

// removeOrphans deletes generation files other than keep, left behind by an
// interrupted compaction.
func removeOrphans(dir string, keep uint64, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		m := generationFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		gen, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil || gen == keep {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			logger.Warn("remove orphaned generation file", "path", p, "error", err)
			continue
		}
		logger.Info("removed orphaned generation file", "path", p)
	}
}
