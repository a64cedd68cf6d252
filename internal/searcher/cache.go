package searcher

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codeintel/pkg/types"
)

// DefaultCacheSize is the number of query results kept
const DefaultCacheSize = 1000

type cacheKey [32]byte

// ResultCache holds recent search results keyed by query, options and the
// index write sequence. A write bumps the sequence, so stale entries are
// never hit and age out of the LRU.
type ResultCache struct {
	cache *lru.Cache[cacheKey, []types.SearchResult]
}

// NewResultCache creates a cache holding up to size queries
func NewResultCache(size int) *ResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []types.SearchResult](size)
	if err != nil {
		// Only fails for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &ResultCache{cache: cache}
}

// Get returns a copy of the cached results
func (c *ResultCache) Get(req Request, seq uint64) ([]types.SearchResult, bool) {
	results, ok := c.cache.Get(computeQueryHash(req, seq))
	if !ok {
		return nil, false
	}
	return copyResults(results), true
}

// Add stores a copy of results
func (c *ResultCache) Add(req Request, seq uint64, results []types.SearchResult) {
	c.cache.Add(computeQueryHash(req, seq), copyResults(results))
}

// Len returns the number of cached queries
func (c *ResultCache) Len() int {
	return c.cache.Len()
}

// Purge drops every entry
func (c *ResultCache) Purge() {
	c.cache.Purge()
}

// copyResults copies the result slice and chunk structs. Chunk content is an
// immutable string and embeddings are never handed out from the cache.
func copyResults(src []types.SearchResult) []types.SearchResult {
	dst := make([]types.SearchResult, len(src))
	for i, r := range src {
		dst[i] = r
		if r.Chunk != nil {
			c := *r.Chunk
			c.Embedding = nil
			dst[i].Chunk = &c
		}
	}
	return dst
}

func computeQueryHash(req Request, seq uint64) cacheKey {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")

	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], uint64(req.Limit))
	data.Write(num[:])
	binary.LittleEndian.PutUint64(num[:], math.Float64bits(clampWeight(req.VectorWeight)))
	data.Write(num[:])
	binary.LittleEndian.PutUint64(num[:], seq)
	data.Write(num[:])
	if req.IncludeStale {
		data.WriteString("|stale")
	}

	tiers := make([]string, len(req.Tiers))
	for i, t := range req.Tiers {
		tiers[i] = string(t)
	}
	sort.Strings(tiers)
	data.WriteString("|tiers:")
	data.WriteString(strings.Join(tiers, ","))

	return sha256.Sum256([]byte(data.String()))
}
