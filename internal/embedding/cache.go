package embedding

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"voxrag/internal/domain"
)

// Cached wraps an Embedder with a TTL cache keyed by exact text. Repeated
// queries (the common case in a conversation) skip the provider round-trip.
type Cached struct {
	inner domain.Embedder
	cache *gocache.Cache
}

func NewCached(inner domain.Embedder, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) ModelID() string { return c.inner.ModelID() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(text, vec)
	return vec, nil
}

// EmbedBatch serves hits from the cache and forwards only the misses, then
// reassembles the output in input order. A provider failure caches nothing.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.SetDefault(missTexts[j], v)
	}
	return out, nil
}
