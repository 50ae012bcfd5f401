// Package cache provides embedding vector caches keyed by (model, text).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache defines the interface for embedding vector storage backends.
//
// Implementations must be safe for concurrent use. Writes for the same key
// are idempotent (every writer computed the same vector), so last-write-wins
// is acceptable and no locking beyond the backend's own atomicity is needed.
type Cache interface {
	// Get returns the cached vector for key, and whether it was present.
	Get(ctx context.Context, key string) ([]float32, bool, error)

	// Set stores a vector under key. Eviction policy (TTL, capacity) is the
	// backend's concern.
	Set(ctx context.Context, key string, vector []float32) error
}

// Key derives the cache key for an embedding request. The model name is part
// of the key so a vector embedded by one model is never returned for another.
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is an in-process Cache backed by a map. It has no eviction and
// is intended for tests and single-node deployments with bounded corpora.
type MemoryCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vectors: make(map[string][]float32)}
}

// Get returns the cached vector for key.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vec, ok := c.vectors[key]
	if !ok {
		return nil, false, nil
	}
	// Return a copy so callers cannot mutate the cached vector.
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true, nil
}

// Set stores a vector under key.
func (c *MemoryCache) Set(_ context.Context, key string, vector []float32) error {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	c.vectors[key] = stored
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Ensure MemoryCache implements Cache interface.
var _ Cache = (*MemoryCache)(nil)
