package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache is the multi-process embedding cache backing store:
// json-encoded vectors keyed under a prefix, redis.Nil treated as a cache
// miss rather than an error.
type redisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache dials addr and returns a Cache backed by Redis. A zero
// ttl means entries never expire; expiry is an operational knob, not a
// correctness requirement, since a key's vector is stable for the
// lifetime of the configured model.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("embedding: redis cache ping: %w", err)
	}
	return &redisCache{client: client, prefix: "voxplane:embed:", ttl: ttl}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("embedding: redis get: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(val, &vec); err != nil {
		return nil, false, fmt.Errorf("embedding: decode cached vector: %w", err)
	}
	return vec, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("embedding: encode vector: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("embedding: redis set: %w", err)
	}
	return nil
}
