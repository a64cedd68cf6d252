package hashcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeintel/internal/logging"
)

func setupTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenInMemory(logging.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := setupTestCache(t)

	_, ok, err := c.Get("/src/a.go")
	require.NoError(t, err)
	assert.False(t, ok)

	mod := time.Unix(1700000000, 123)
	require.NoError(t, c.Put("/src/a.go", Entry{Hash: "abc", Size: 42, ModTime: mod}))

	e, ok, err := c.Get("/src/a.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", e.Hash)
	assert.Equal(t, int64(42), e.Size)
	assert.True(t, mod.Equal(e.ModTime))
	assert.False(t, e.IndexedAt.IsZero())
	assert.True(t, e.Unchanged("abc"))
	assert.False(t, e.Unchanged("def"))
}

func TestEmptyEntryNeverUnchanged(t *testing.T) {
	assert.False(t, Entry{}.Unchanged(""))
}

func TestRecordFailure(t *testing.T) {
	c := setupTestCache(t)

	for want := 1; want <= 3; want++ {
		n, err := c.RecordFailure("/src/bad.go", "h1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	e, ok, err := c.Get("/src/bad.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, e.FailuresFor("h1"))
	assert.Equal(t, 0, e.FailuresFor("h2"))
	assert.False(t, e.Unchanged("h1"), "a failing file is not considered indexed")

	// New content restarts the count
	n, err := c.RecordFailure("/src/bad.go", "h2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Success clears failure history
	require.NoError(t, c.Put("/src/bad.go", Entry{Hash: "h2"}))
	e, _, err = c.Get("/src/bad.go")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Failures)
	assert.Empty(t, e.FailedHash)
}

func TestRecordFailureKeepsIndexedHash(t *testing.T) {
	c := setupTestCache(t)
	require.NoError(t, c.Put("/src/a.go", Entry{Hash: "good"}))

	_, err := c.RecordFailure("/src/a.go", "broken")
	require.NoError(t, err)

	e, _, err := c.Get("/src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "good", e.Hash)
	assert.Equal(t, 1, e.FailuresFor("broken"))
}

func TestDeleteAndPaths(t *testing.T) {
	c := setupTestCache(t)
	for _, p := range []string{"/src/b.go", "/src/a.go", "/src/c.go"} {
		require.NoError(t, c.Put(p, Entry{Hash: p}))
	}

	paths, err := c.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/a.go", "/src/b.go", "/src/c.go"}, paths)

	require.NoError(t, c.Delete("/src/b.go"))
	require.NoError(t, c.Delete("/src/missing.go"))

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hashes")

	c, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put("/src/a.go", Entry{Hash: "abc"}))
	require.NoError(t, c.Close())

	c, err = Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	e, ok, err := c.Get("/src/a.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", e.Hash)
}

func TestEntryCodec(t *testing.T) {
	tests := []Entry{
		{},
		{Hash: "abc", Size: 1 << 40, ModTime: time.Unix(0, 5), IndexedAt: time.Unix(1, 0)},
		{FailedHash: "zzz", Failures: 3},
	}
	for _, want := range tests {
		got, err := unmarshalEntry(marshalEntry(want))
		require.NoError(t, err)
		assert.Equal(t, want.Hash, got.Hash)
		assert.Equal(t, want.Size, got.Size)
		assert.True(t, want.ModTime.Equal(got.ModTime))
		assert.True(t, want.IndexedAt.Equal(got.IndexedAt))
		assert.Equal(t, want.FailedHash, got.FailedHash)
		assert.Equal(t, want.Failures, got.Failures)
	}

	_, err := unmarshalEntry([]byte{0xff})
	assert.Error(t, err)
}
