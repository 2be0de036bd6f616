// Package embedding implements the normalize-then-cache embedding
// service: derive a canonical cache key, consult the cache, and only call
// the external model on a miss. The cache is pluggable — in-process for a
// single node, Redis for multi-process deployments.
package embedding

import (
	"context"
	"log/slog"

	"github.com/nodalflow/voxplane/internal/textnorm"
)

// Provider is the narrow external embedding-model contract. Real deployments wrap
// github.com/sashabaranov/go-openai's embeddings endpoint; tests supply a
// stub.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Cache is the narrow cache contract Manager depends on. cache.go supplies
// an in-process implementation; cache_redis.go supplies a
// github.com/redis/go-redis/v9-backed one for multi-process
// deployments.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Manager is the embedding service's public surface. It is constructed
// once by the composition root and passed down by injection; one instance
// serves the whole process.
type Manager struct {
	provider Provider
	cache    Cache
	maps     textnorm.ExpansionMaps
	// expandSymbols turns on symbol/punctuation/number-to-word expansion
	// when deriving cache keys.
	expandSymbols bool
	logger        *slog.Logger
}

// New constructs a Manager. logger defaults to slog.Default() when nil.
func New(provider Provider, cache Cache, maps textnorm.ExpansionMaps, expandSymbols bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{provider: provider, cache: cache, maps: maps, expandSymbols: expandSymbols, logger: logger}
}

// Embed resolves a vector for text:
//  1. normalizeForCache derives a gist cache key (disfluency-stripped,
//     optionally symbol-expanded); otherwise the exact text is both key
//     and input (used for source code).
//  2. cache hit returns the stored vector.
//  3. cache miss calls the provider once, stores, and returns.
//  4. a failed provider call returns an empty vector and a nil error —
//     callers' similarity checks treat empty as "no match", so a single
//     upstream outage can't fail an enqueue or snapshot insert.
func (m *Manager) Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	key := text
	if normalizeForCache {
		key = textnorm.Gist(text)
		if m.expandSymbols {
			key = m.maps.Expand(key)
		}
	}

	if m.cache != nil {
		if vec, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			return vec, nil
		}
	}

	vec, err := m.provider.Embed(ctx, key)
	if err != nil {
		m.logger.Warn("embedding: provider call failed, degrading to empty vector", "error", err)
		return []float32{}, nil
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, vec); err != nil {
			m.logger.Warn("embedding: cache write failed", "error", err)
		}
	}
	return vec, nil
}

// Dimension exposes the configured model's vector width.
func (m *Manager) Dimension() int { return m.provider.Dimension() }
