package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dshills/codeintel/internal/storage"
	"github.com/dshills/codeintel/internal/vectorindex"
	"github.com/dshills/codeintel/pkg/types"
)

// CompactResult describes one compaction
type CompactResult struct {
	Generation uint64
	Kept       int // Valid chunks carried over
	Removed    int // Stale chunks dropped
	Reembedded int // Chunks that had no vector and were embedded
	Duration   time.Duration
}

// Compact rebuilds the index from valid chunks only, as generation g+1.
// Searches running on generation g finish there; g's files are deleted once
// the last of them releases it.
func (b *Backend) Compact(ctx context.Context) (*CompactResult, error) {
	start := time.Now()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	old, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer old.release()

	status, err := old.store.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	records, err := old.store.ListValidChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list valid chunks: %w", err)
	}

	num := old.num + 1
	removeOrphans(b.dir, old.num, b.logger)

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(b.dir, metaFileName(num)))
	if err != nil {
		return nil, fmt.Errorf("create metadata store: %w", err)
	}
	next := newGeneration(b.dir, num, store, vectorindex.New(old.vectors.Dimension(), old.vectors.Config()), b.logger)

	reembedded, err := b.rebuild(ctx, old, next, records)
	if err != nil {
		next.retire(true)
		return nil, err
	}

	m := *b.manifest
	m.Generation = num
	m.MetaFile = metaFileName(num)
	m.VectorFile = vectorFileName(num)
	m.UpdatedAt = time.Now().UTC()
	if err := writeManifest(b.dir, &m); err != nil {
		next.retire(true)
		return nil, err
	}

	b.manifest = &m
	b.current.Store(next)
	b.seq.Add(1)
	b.searcher.Cache().Purge()
	old.retire(true)

	res := &CompactResult{
		Generation: num,
		Kept:       len(records),
		Removed:    status.Chunks - len(records),
		Reembedded: reembedded,
		Duration:   time.Since(start),
	}
	b.logger.Info("index compacted", "generation", num, "kept", res.Kept, "removed", res.Removed, "duration", res.Duration)
	return res, nil
}

// rebuild copies records and their vectors into next and writes next's
// files. Vectors come from old where present and are embedded otherwise.
func (b *Backend) rebuild(ctx context.Context, old, next *generation, records []*storage.ChunkRecord) (int, error) {
	chunks := make([]*types.Chunk, len(records))
	vecs := make([][]float32, len(records))
	var (
		missing []int
		texts   []string
	)
	for i, r := range records {
		chunks[i] = r.Chunk
		if v, ok := old.vectors.Vector(r.ID); ok {
			vecs[i] = v
		} else {
			missing = append(missing, i)
			texts = append(texts, r.Content)
		}
	}

	embedded, err := b.embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for j, i := range missing {
		if embedded != nil {
			vecs[i] = embedded[j]
		}
	}

	if err := next.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("copy chunks: %w", err)
	}
	for i, c := range chunks {
		if vecs[i] == nil {
			continue
		}
		if _, err := next.vectors.Add(c.ID, vecs[i]); err != nil {
			return 0, fmt.Errorf("add vector for %s: %w", c.ID, err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}

	if err := next.store.Checkpoint(ctx); err != nil {
		return 0, err
	}
	if err := next.vectors.SaveFile(next.vecPath); err != nil {
		return 0, fmt.Errorf("save vectors: %w", err)
	}
	return len(embedded), nil
}
