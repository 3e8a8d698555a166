package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize bounds the embedding cache. At 1024 dimensions,
// 4 bytes each, 1000 entries is about 4MB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache so repeated texts
// (query rewrites, shared boilerplate chunks) skip the provider round trip.
type CachedEmbedder struct {
	inner Embedder
	model string
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner. The model name participates in the cache
// key so a model switch never serves stale vectors.
func NewCachedEmbedder(inner Embedder, model string, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{
		inner: inner,
		model: model,
		cache: cache,
	}
}

// cacheKey hashes model and text together. SHA256 keeps keys a fixed length
// regardless of chunk size.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Embed implements Embedder. Each text is cached individually; only misses
// reach the inner embedder, and they travel as one call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string, params Params) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			// Copy so downstream in-place normalization cannot poison
			// the cached vector.
			out := make([]float32, len(vec))
			copy(out, vec)
			results[i] = out
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
		c.misses.Add(1)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts, params)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = fresh[j]
		stored := make([]float32, len(fresh[j]))
		copy(stored, fresh[j])
		c.cache.Add(c.cacheKey(texts[idx]), stored)
	}

	return results, nil
}

// Dim implements Embedder.
func (c *CachedEmbedder) Dim() int {
	return c.inner.Dim()
}

// Shutdown implements Embedder.
func (c *CachedEmbedder) Shutdown() error {
	return c.inner.Shutdown()
}

// Stats reports cache hit and miss counts since construction.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Inner exposes the wrapped embedder for callers that need
// implementation-specific features.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
