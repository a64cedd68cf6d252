package vectorindex

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func bruteForce(vectors [][]float32, q []float32, k int) []string {
	type scored struct {
		id  string
		sim float64
	}
	qu := unit(q)
	all := make([]scored, len(vectors))
	for i, v := range vectors {
		vu := unit(v)
		var dot float64
		for j := range vu {
			dot += float64(vu[j]) * float64(qu[j])
		}
		all[i] = scored{id: fmt.Sprintf("v%d", i), sim: dot}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	ids := make([]string, k)
	for i := range ids {
		ids[i] = all[i].id
	}
	return ids
}

func buildIndex(t *testing.T, vectors [][]float32, cfg Config) *Index {
	t.Helper()
	idx := New(len(vectors[0]), cfg)
	for i, v := range vectors {
		added, err := idx.Add(fmt.Sprintf("v%d", i), v)
		require.NoError(t, err)
		require.True(t, added)
	}
	return idx
}

func TestHalfConversion(t *testing.T) {
	tests := []float32{0, 1, -1, 0.5, 0.1, -0.333, 65504, 1e-5, 6e-8}
	for _, f := range tests {
		t.Run(fmt.Sprint(f), func(t *testing.T) {
			got := fromHalf(toHalf(f))
			tol := math.Max(math.Abs(float64(f))*1e-3, 6e-8)
			assert.InDelta(t, f, got, tol)
		})
	}

	assert.True(t, math.IsInf(float64(fromHalf(toHalf(1e6))), 1))
	assert.True(t, math.IsNaN(float64(fromHalf(toHalf(float32(math.NaN()))))))
	assert.Equal(t, float32(0), fromHalf(toHalf(1e-10)))
}

func TestHalfTable(t *testing.T) {
	tests := map[uint16]float32{
		0x0000: 0,
		0x3c00: 1,
		0xbc00: -1,
		0x3800: 0.5,
		0x7bff: 65504,
		0x0400: 6.1035156e-05, // smallest normal
		0x0001: 5.9604645e-08, // smallest subnormal
	}
	for h, want := range tests {
		assert.Equal(t, want, fromHalf(h), "h=%#04x", h)
		assert.Equal(t, h, toHalf(want), "f=%v", want)
	}
	assert.Equal(t, uint16(0x8000), toHalf(float32(math.Copysign(0, -1))))
}

func TestIndexAddAndSearchExact(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{1, 1, 0},
	}
	idx := buildIndex(t, vectors, DefaultConfig())

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, 3, idx.Dimension())
	assert.True(t, idx.Contains("v0"))
	assert.False(t, idx.Contains("v9"))
	assert.Equal(t, []string{"v0", "v1", "v2", "v3"}, idx.IDs())

	hits, err := idx.Search([]float32{2, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "v0", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-3)
	assert.Equal(t, "v3", hits[1].ID)
	assert.InDelta(t, math.Sqrt2/2, hits[1].Similarity, 1e-3)
}

func TestIndexExistingIDKept(t *testing.T) {
	idx := New(2, DefaultConfig())
	added, err := idx.Add("a", []float32{1, 0})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = idx.Add("a", []float32{0, 1})
	require.NoError(t, err)
	assert.False(t, added)

	v, ok := idx.Vector("a")
	require.True(t, ok)
	assert.InDelta(t, 1.0, v[0], 1e-3)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexDimensionMismatch(t *testing.T) {
	idx := New(3, DefaultConfig())
	_, err := idx.Add("a", []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndexEmptyAndZero(t *testing.T) {
	idx := New(2, DefaultConfig())
	hits, err := idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = idx.Add("zero", []float32{0, 0})
	require.NoError(t, err)
	hits, err = idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0, hits[0].Similarity, 1e-9)

	hits, err = idx.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexRecall(t *testing.T) {
	if testing.Short() {
		t.Skip("recall test builds a large graph")
	}

	const (
		n   = 2000
		dim = 32
		k   = 10
	)
	vectors := randomVectors(n, dim, 1)
	idx := buildIndex(t, vectors, Config{M: 16, EfConstruction: 200, EfSearch: 100})
	queries := randomVectors(50, dim, 2)

	var hit, total int
	for _, q := range queries {
		want := bruteForce(vectors, q, k)
		got, err := idx.Search(q, k)
		require.NoError(t, err)

		found := make(map[string]bool, len(got))
		for _, h := range got {
			found[h.ID] = true
		}
		for _, id := range want {
			if found[id] {
				hit++
			}
			total++
		}
	}

	recall := float64(hit) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d", k)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vectors := randomVectors(300, 16, 3)
	idx := buildIndex(t, vectors, Config{M: 8, EfConstruction: 64, EfSearch: 16})

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Dimension(), loaded.Dimension())
	assert.Equal(t, idx.Config().M, loaded.Config().M)
	assert.Equal(t, idx.IDs(), loaded.IDs())

	for _, q := range randomVectors(5, 16, 4) {
		want, err := idx.Search(q, 5)
		require.NoError(t, err)
		got, err := loaded.Search(q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Loaded index accepts new vectors
	added, err := loaded.Add("extra", vectors[0])
	require.NoError(t, err)
	assert.True(t, added)
}

func TestSaveLoadEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(8, DefaultConfig()).Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, 8, loaded.Dimension())
}

func TestLoadCorruption(t *testing.T) {
	idx := buildIndex(t, randomVectors(20, 4, 5), DefaultConfig())
	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped payload byte", func(b []byte) []byte { b[len(b)/2] ^= 0xff; return b }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"future version", func(b []byte) []byte { b[4] = 9; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
		{"too short", func(b []byte) []byte { return b[:5] }},
		{"bad checksum", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, err := Load(bytes.NewReader(data))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestSaveFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors-1.hnsw")

	idx := buildIndex(t, randomVectors(10, 4, 6), DefaultConfig())
	require.NoError(t, idx.SaveFile(path))
	require.NoError(t, idx.SaveFile(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Len())

	_, err = LoadFile(filepath.Join(dir, "missing.hnsw"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
