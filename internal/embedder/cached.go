package embedder

import (
	"context"
	"log/slog"

	"github.com/policyassist/rag/internal/cache"
)

// CachedEmbedder wraps an Embedder with a cache keyed by (model, text).
// Repeated requests for the same text under the same model hit the cache;
// only misses reach the underlying provider.
//
// Provider errors propagate to the caller. Cache errors never do: a failed
// read is treated as a miss, and a failed write is logged and dropped since
// the embedding was already computed successfully.
type CachedEmbedder struct {
	provider Embedder
	cache    cache.Cache
	logger   *slog.Logger
}

// NewCachedEmbedder creates a caching gateway in front of provider.
func NewCachedEmbedder(provider Embedder, c cache.Cache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		provider: provider,
		cache:    c,
		logger:   logger,
	}
}

// Embed returns the cached vector for text when present, otherwise delegates
// to the provider and populates the cache.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key(e.provider.ModelName(), text)

	vec, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "error", err)
	} else if ok {
		return vec, nil
	}

	vec, err = e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, key, vec); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

// EmbedBatch applies the per-item cache check to each input, batches the
// provider call for the misses only, and reassembles results in the original
// input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	model := e.provider.ModelName()
	results := make([][]float32, len(texts))

	// Positions in texts that missed the cache, in input order.
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		vec, ok, err := e.cache.Get(ctx, cache.Key(model, text))
		if err != nil {
			e.logger.Warn("embedding cache read failed", "index", i, "error", err)
		} else if ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := e.provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = computed[j]
		if err := e.cache.Set(ctx, cache.Key(model, texts[idx]), computed[j]); err != nil {
			e.logger.Warn("embedding cache write failed", "index", idx, "error", err)
		}
	}

	return results, nil
}

// Dimension returns the underlying provider's embedding dimensionality.
func (e *CachedEmbedder) Dimension() int {
	return e.provider.Dimension()
}

// ModelName returns the underlying provider's model name.
func (e *CachedEmbedder) ModelName() string {
	return e.provider.ModelName()
}

// Ensure CachedEmbedder implements Embedder interface.
var _ Embedder = (*CachedEmbedder)(nil)
