package searcher

import (
	"sort"

	"github.com/dshills/codeintel/pkg/types"
)

// RRFConstant is the k in 1/(k + rank)
const RRFConstant = 60

// Ranked is one fused candidate. Ranks are 1-based; 0 means the leg did not
// return the chunk.
type Ranked struct {
	ID          string
	Score       float64
	VectorRank  int
	LexicalRank int
}

// Method reports which legs contributed to the candidate
func (r Ranked) Method() types.SearchMethod {
	switch {
	case r.VectorRank > 0 && r.LexicalRank > 0:
		return types.MethodHybrid
	case r.VectorRank > 0:
		return types.MethodSemantic
	default:
		return types.MethodLexical
	}
}

// Fuse merges two ranked id lists with weighted Reciprocal Rank Fusion:
//
//	score(d) = w/(K + rank_vec(d)) + (1-w)/(K + rank_lex(d))
//
// A leg that did not return d contributes 0. Candidates scoring 0 are
// dropped, so w=0 reproduces the lexical order and w=1 the vector order.
// Ties break on lexical rank, then id.
func Fuse(vectorIDs, lexicalIDs []string, w float64) []Ranked {
	w = clampWeight(w)

	byID := make(map[string]*Ranked, len(vectorIDs)+len(lexicalIDs))
	order := make([]*Ranked, 0, len(vectorIDs)+len(lexicalIDs))
	get := func(id string) *Ranked {
		r, ok := byID[id]
		if !ok {
			r = &Ranked{ID: id}
			byID[id] = r
			order = append(order, r)
		}
		return r
	}

	for i, id := range vectorIDs {
		if r := get(id); r.VectorRank == 0 {
			r.VectorRank = i + 1
			r.Score += w / float64(RRFConstant+i+1)
		}
	}
	for i, id := range lexicalIDs {
		if r := get(id); r.LexicalRank == 0 {
			r.LexicalRank = i + 1
			r.Score += (1 - w) / float64(RRFConstant+i+1)
		}
	}

	out := make([]Ranked, 0, len(order))
	for _, r := range order {
		if r.Score > 0 {
			out = append(out, *r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := lexicalOrder(a), lexicalOrder(b); la != lb {
			return la < lb
		}
		return a.ID < b.ID
	})
	return out
}

// lexicalOrder sorts chunks without a lexical rank after those with one
func lexicalOrder(r Ranked) int {
	if r.LexicalRank == 0 {
		return int(^uint(0) >> 1)
	}
	return r.LexicalRank
}

func clampWeight(w float64) float64 {
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

// AggregateFiles groups chunk results by file, scoring each file by its best
// chunk, and returns the top k files. Ties break on path.
func AggregateFiles(results []types.SearchResult, k int) []types.FileResult {
	byPath := make(map[string]*types.FileResult)
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		f, ok := byPath[r.Chunk.FilePath]
		if !ok {
			f = &types.FileResult{FilePath: r.Chunk.FilePath}
			byPath[r.Chunk.FilePath] = f
		}
		f.Chunks++
		if r.Score > f.Score {
			f.Score = r.Score
		}
	}

	files := make([]types.FileResult, 0, len(byPath))
	for _, f := range byPath {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Score != files[j].Score {
			return files[i].Score > files[j].Score
		}
		return files[i].FilePath < files[j].FilePath
	})

	if k > 0 && len(files) > k {
		files = files[:k]
	}
	return files
}
