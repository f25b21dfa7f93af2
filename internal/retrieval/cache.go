package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// EmbeddingCache stores chapter vectors. Implementations must be safe for concurrent use.
// A miss is (nil, false, nil).
type EmbeddingCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool, error)
	SetVector(ctx context.Context, key string, vec []float32) error
}

// CacheKey derives the cache key for content embedded by model.
func CacheKey(model, content string) string {
	sum := sha256.Sum256([]byte(content))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

// MemoryCache is an unbounded in-process EmbeddingCache. The catalog is fixed,
// so the key space is bounded by chapters times embedding models.
type MemoryCache struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vecs: make(map[string][]float32)}
}

func (c *MemoryCache) GetVector(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	v, ok := c.vecs[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) SetVector(_ context.Context, key string, vec []float32) error {
	v := make([]float32, len(vec))
	copy(v, vec)
	c.mu.Lock()
	c.vecs[key] = v
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vecs)
}
