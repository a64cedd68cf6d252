package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codeintel/pkg/types"
)

// DefaultCacheSize is the number of embeddings kept by NewCache(0)
const DefaultCacheSize = 10000

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of a cached vector so callers cannot mutate the cache
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector; LRU eviction happens automatically at capacity
func (c *Cache) Set(hash string, v []float32) {
	c.cache.Add(hash, v)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// CachedEmbedder serves repeated texts from an LRU cache and only sends
// misses to the wrapped embedder.
type CachedEmbedder struct {
	Embedder
	cache *Cache
}

// Cached wraps e with an LRU cache of the given size
func Cached(e Embedder, size int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: e, cache: NewCache(size)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		hashes[i] = ComputeHash(text)
		if v, ok := c.cache.Get(hashes[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.Embedder.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vectors), len(missing))
	}

	for j, i := range missingIdx {
		out[i] = vectors[j]
		stored := make([]float32, len(vectors[j]))
		copy(stored, vectors[j])
		c.cache.Set(hashes[i], stored)
	}
	return out, nil
}

// CacheSize returns the number of cached embeddings
func (c *CachedEmbedder) CacheSize() int {
	return c.cache.Size()
}

// TimeoutEmbedder bounds every Embed call. A call that runs out of time
// reports the embedder as unavailable; cancellation by the caller is
// returned unchanged.
type TimeoutEmbedder struct {
	Embedder
	timeout time.Duration
}

// WithTimeout wraps e so each Embed call runs under timeout. A non-positive
// timeout returns e unchanged.
func WithTimeout(e Embedder, timeout time.Duration) Embedder {
	if timeout <= 0 {
		return e
	}
	return &TimeoutEmbedder{Embedder: e, timeout: timeout}
}

func (t *TimeoutEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vectors, err := t.Embedder.Embed(callCtx, texts)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: timed out after %s", types.ErrEmbedderUnavailable, t.timeout)
	}
	return vectors, err
}

// SerializedEmbedder funnels all calls through one handle
type SerializedEmbedder struct {
	Embedder
	mu sync.Mutex
}

// Serialized wraps e so at most one Embed call runs at a time
func Serialized(e Embedder) *SerializedEmbedder {
	return &SerializedEmbedder{Embedder: e}
}

func (s *SerializedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Embedder.Embed(ctx, texts)
}
