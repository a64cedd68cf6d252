package vectorindex

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorrupt is returned when a serialized index fails validation
	ErrCorrupt = errors.New("vector index corrupted")
)

// maxLevels caps the layer count of any node
const maxLevels = 16

// Config holds the HNSW build and search parameters
type Config struct {
	M              int   // Max neighbours per node above layer 0 (2*M at layer 0)
	EfConstruction int   // Candidate list size while inserting
	EfSearch       int   // Minimum candidate list size while searching
	Seed           int64 // Level generator seed; fixed for reproducible graphs
}

// DefaultConfig returns M=16, efConstruction=200, efSearch=64
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 64, Seed: 42}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.M < 2 {
		c.M = d.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	return c
}

// Hit is one nearest-neighbour result
type Hit struct {
	ID         string
	Similarity float64 // Cosine similarity in [-1, 1]
}

type node struct {
	id        string
	vec       []uint16  // Half-precision unit vector
	neighbors [][]int32 // Per layer, 0..level
}

func (n *node) level() int {
	return len(n.neighbors) - 1
}

// Index is an in-memory HNSW graph over cosine distance. Entries are only
// ever added; replacing the index is how stale entries disappear.
type Index struct {
	mu       sync.RWMutex
	dim      int
	cfg      Config
	nodes    []*node
	byID     map[string]int32
	entry    int32
	maxLevel int
	levelMul float64
	rng      *rand.Rand
}

// New creates an empty index for vectors of the given dimension
func New(dim int, cfg Config) *Index {
	cfg = cfg.normalized()
	return &Index{
		dim:      dim,
		cfg:      cfg,
		byID:     make(map[string]int32),
		entry:    -1,
		levelMul: 1 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Dimension returns the vector dimension
func (x *Index) Dimension() int {
	return x.dim
}

// Config returns the build parameters
func (x *Index) Config() Config {
	return x.cfg
}

// Len returns the number of stored vectors
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.nodes)
}

// Contains reports whether id has a vector
func (x *Index) Contains(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byID[id]
	return ok
}

// IDs returns all stored ids in insertion order
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, len(x.nodes))
	for i, n := range x.nodes {
		ids[i] = n.id
	}
	return ids
}

// Vector returns the stored (dequantized) vector for id
func (x *Index) Vector(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i, ok := x.byID[id]
	if !ok {
		return nil, false
	}
	return decodeHalf(x.nodes[i].vec), true
}

// Add inserts vec under id. An id already present keeps its existing vector
// and Add reports false.
func (x *Index) Add(id string, vec []float32) (bool, error) {
	if len(vec) != x.dim {
		return false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dim)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.byID[id]; ok {
		return false, nil
	}

	n := &node{id: id, vec: encodeHalf(unit(vec))}
	level := x.randomLevel()
	n.neighbors = make([][]int32, level+1)

	idx := int32(len(x.nodes))
	x.nodes = append(x.nodes, n)
	x.byID[id] = idx

	if x.entry < 0 {
		x.entry = idx
		x.maxLevel = level
		return true, nil
	}

	q := decodeHalf(n.vec)
	cur := x.entry
	curDist := x.distance(q, cur)
	for l := x.maxLevel; l > level; l-- {
		cur, curDist = x.greedy(q, cur, curDist, l)
	}

	for l := min(level, x.maxLevel); l >= 0; l-- {
		candidates := x.searchLayer(q, []int32{cur}, x.cfg.EfConstruction, l)
		selected := closest(candidates, x.maxNeighbors(l))

		n.neighbors[l] = make([]int32, len(selected))
		for i, c := range selected {
			n.neighbors[l][i] = c.idx
			x.link(c.idx, idx, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
	}

	if level > x.maxLevel {
		x.maxLevel = level
		x.entry = idx
	}
	return true, nil
}

// Search returns up to k nearest neighbours of query, most similar first.
// Small indexes are scanned exactly.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.nodes) == 0 {
		return nil, nil
	}

	q := unit(query)
	ef := max(x.cfg.EfSearch, k)

	var found []candidate
	if len(x.nodes) <= ef {
		found = make([]candidate, len(x.nodes))
		for i := range x.nodes {
			found[i] = candidate{idx: int32(i), dist: x.distance(q, int32(i))}
		}
		sortCandidates(found)
	} else {
		cur := x.entry
		curDist := x.distance(q, cur)
		for l := x.maxLevel; l > 0; l-- {
			cur, curDist = x.greedy(q, cur, curDist, l)
		}
		found = x.searchLayer(q, []int32{cur}, ef, 0)
	}

	if len(found) > k {
		found = found[:k]
	}
	hits := make([]Hit, len(found))
	for i, c := range found {
		hits[i] = Hit{ID: x.nodes[c.idx].id, Similarity: 1 - c.dist}
	}
	return hits, nil
}

func (x *Index) randomLevel() int {
	r := x.rng.Float64()
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	return min(int(-math.Log(r)*x.levelMul), maxLevels-1)
}

func (x *Index) maxNeighbors(level int) int {
	if level == 0 {
		return 2 * x.cfg.M
	}
	return x.cfg.M
}

// link adds a back edge from -> to, pruning from's list to its closest
// neighbours when it overflows.
func (x *Index) link(from, to int32, level int) {
	n := x.nodes[from]
	if level > n.level() {
		return
	}
	n.neighbors[level] = append(n.neighbors[level], to)

	limit := x.maxNeighbors(level)
	if len(n.neighbors[level]) <= limit {
		return
	}

	base := decodeHalf(n.vec)
	cands := make([]candidate, len(n.neighbors[level]))
	for i, nb := range n.neighbors[level] {
		cands[i] = candidate{idx: nb, dist: x.distance(base, nb)}
	}
	sortCandidates(cands)

	kept := n.neighbors[level][:0]
	for _, c := range cands[:limit] {
		kept = append(kept, c.idx)
	}
	n.neighbors[level] = kept
}

// greedy walks one layer towards q until no neighbour is closer
func (x *Index) greedy(q []float32, cur int32, curDist float64, level int) (int32, float64) {
	for changed := true; changed; {
		changed = false
		n := x.nodes[cur]
		if level > n.level() {
			break
		}
		for _, nb := range n.neighbors[level] {
			if d := x.distance(q, nb); d < curDist {
				cur, curDist, changed = nb, d, true
			}
		}
	}
	return cur, curDist
}

// searchLayer is the HNSW beam search; it returns up to ef candidates sorted
// by ascending distance.
func (x *Index) searchLayer(q []float32, entries []int32, ef int, level int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	near := &minHeap{}
	far := &maxHeap{}

	for _, e := range entries {
		visited[e] = struct{}{}
		c := candidate{idx: e, dist: x.distance(q, e)}
		heap.Push(near, c)
		heap.Push(far, c)
	}

	for near.Len() > 0 {
		c := heap.Pop(near).(candidate)
		if far.Len() >= ef && c.dist > (*far)[0].dist {
			break
		}

		n := x.nodes[c.idx]
		if level > n.level() {
			continue
		}
		for _, nb := range n.neighbors[level] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}

			d := x.distance(q, nb)
			if far.Len() < ef || d < (*far)[0].dist {
				cand := candidate{idx: nb, dist: d}
				heap.Push(near, cand)
				heap.Push(far, cand)
				if far.Len() > ef {
					heap.Pop(far)
				}
			}
		}
	}

	out := make([]candidate, far.Len())
	copy(out, *far)
	sortCandidates(out)
	return out
}

// distance is the cosine distance between unit vector q and node i
func (x *Index) distance(q []float32, i int32) float64 {
	vec := x.nodes[i].vec
	var dot float32
	for j, h := range vec {
		dot += q[j] * fromHalf(h)
	}
	return 1 - float64(dot)
}

// unit returns a unit-length copy of v; zero vectors stay zero
func unit(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

type candidate struct {
	idx  int32
	dist float64
}

// sortCandidates orders by distance, then insertion order
func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist < c[j].dist
		}
		return c[i].idx < c[j].idx
	})
}

func closest(c []candidate, n int) []candidate {
	if len(c) > n {
		return c[:n]
	}
	return c
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(v any)        { *h = append(*h, v.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(v any)        { *h = append(*h, v.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}
