package embedder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeintel/pkg/types"
)

// countingEmbedder records how many texts reach it and can block or sleep
type countingEmbedder struct {
	*LocalProvider
	texts    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newCounting(delay time.Duration) *countingEmbedder {
	return &countingEmbedder{LocalProvider: NewLocalProvider(16), delay: delay}
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	c.texts.Add(int32(len(texts)))
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.LocalProvider.Embed(ctx, texts)
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")

	v, ok := c.Get("c")
	require.True(t, ok)
	v[0] = 99
	again, _ := c.Get("c")
	assert.Equal(t, float32(3), again[0], "returned slices are copies")

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(0)
	cached := Cached(inner, 100)

	first, err := cached.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.texts.Load())

	second, err := cached.Embed(ctx, []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.texts.Load(), "only gamma is a miss")

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, 3, cached.CacheSize())
	assert.Equal(t, 16, cached.Dimension())
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("slow provider is unavailable", func(t *testing.T) {
		e := WithTimeout(newCounting(time.Second), 20*time.Millisecond)
		_, err := e.Embed(ctx, []string{"a"})
		assert.ErrorIs(t, err, types.ErrEmbedderUnavailable)
	})

	t.Run("caller cancellation passes through", func(t *testing.T) {
		e := WithTimeout(newCounting(time.Second), time.Minute)
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := e.Embed(cctx, []string{"a"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, types.ErrEmbedderUnavailable)
	})

	t.Run("fast provider unaffected", func(t *testing.T) {
		e := WithTimeout(newCounting(0), time.Second)
		vecs, err := e.Embed(ctx, []string{"a"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
	})

	t.Run("zero timeout returns the embedder", func(t *testing.T) {
		inner := newCounting(0)
		assert.Same(t, inner, WithTimeout(inner, 0))
	})
}

func TestSerialized(t *testing.T) {
	inner := newCounting(5 * time.Millisecond)
	e := Serialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), []string{"text"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.peak.Load())
	assert.Equal(t, int32(8), inner.texts.Load())
}
