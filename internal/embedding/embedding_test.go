package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHash(128)
	a, err := h.Embed(context.Background(), "the sky is blue")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "the sky is blue")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashEmbedder_FixedDimension(t *testing.T) {
	h := NewHash(64)
	for _, text := range []string{"", "one", "a much longer sentence with many distinct words in it"} {
		v, err := h.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, v, 64)
	}
}

func TestHashEmbedder_Normalized(t *testing.T) {
	h := NewHash(256)
	v, err := h.Embed(context.Background(), "grass is green and the sky is blue")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashEmbedder_SimilarTextScoresHigher(t *testing.T) {
	h := NewHash(256)
	ctx := context.Background()
	query, _ := h.Embed(ctx, "What color is the sky?")
	sky, _ := h.Embed(ctx, "The sky is blue.")
	grass, _ := h.Embed(ctx, "Grass is green.")

	assert.Greater(t, dot(query, sky), dot(query, grass))
}

func TestHashEmbedder_BatchPreservesOrder(t *testing.T) {
	h := NewHash(128)
	texts := []string{"alpha", "beta", "gamma"}
	batch, err := h.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, _ := h.Embed(context.Background(), text)
		assert.Equal(t, single, batch[i], "batch vector %d must match single embed", i)
	}
}

// countingEmbedder counts provider calls to observe cache behaviour.
type countingEmbedder struct {
	*HashEmbedder
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("provider down")
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCached_HitSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHash(64)}
	c := NewCached(inner, time.Minute)

	first, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCached_BatchForwardsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHash(64)}
	c := NewCached(inner, time.Minute)

	_, err := c.Embed(context.Background(), "cached")
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, inner.calls) // one Embed, one batch for the single miss
}

func TestCached_FullyCachedBatchSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHash(64)}
	c := NewCached(inner, time.Minute)

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	callsAfterFill := inner.calls

	_, err = c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, callsAfterFill, inner.calls)
}

func TestCached_ProviderFailureCachesNothing(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHash(64), fail: true}
	c := NewCached(inner, time.Minute)

	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)

	inner.fail = false
	_, err = c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
