package embedding

import (
	"context"
	"sync"
)

// memCache is an in-process, lock-striped-free cache: readers take a read
// lock, writers a short write lock per call. Identical keys
// always yield identical vectors for the process lifetime.
type memCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemCache builds the default single-process cache, used when no Redis
// address is configured.
func NewMemCache() Cache {
	return &memCache{vectors: make(map[string][]float32)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.vectors[key]
	return vec, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[key] = vec
	return nil
}
