// Package vectorindex provides a Qdrant-backed accelerator index for
// snapshot similarity lookups. Qdrant point ids must be UUIDs, so each
// snapshot id_hash maps to a deterministic UUID with the original hash
// kept in the point payload.
package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const payloadIDField = "id_hash"

// Index implements snapshot.VectorIndex over a Qdrant collection using
// dot-product distance, so reported scores match the in-process scan's
// dot-product scoring once scaled to 0-100.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// New dials addr (e.g. "http://localhost:6334", gRPC port) and ensures the
// collection exists with the configured dimensionality. An api_key query
// parameter on addr is honored.
func New(addr, collection string, dimension int) (*Index, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorindex: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be positive")
	}

	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse addr: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: invalid port in addr: %w", err)
		}
	}

	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create client: %w", err)
	}

	idx := &Index{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("vectorindex: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dimension),
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection: %w", err)
	}
	return nil
}

// pointID derives the stable Qdrant UUID for a snapshot id_hash.
func pointID(idHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(idHash)).String()
}

// Upsert stores the question embedding for idHash.
func (x *Index) Upsert(ctx context.Context, idHash string, vector []float32) error {
	if len(vector) != x.dimension {
		return fmt.Errorf("vectorindex: vector dimension %d, want %d", len(vector), x.dimension)
	}
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID(idHash)),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: qdrant.NewValueMap(map[string]any{payloadIDField: idHash}),
		}},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %s: %w", idHash, err)
	}
	return nil
}

// Search returns the top-k id_hashes with scores scaled to 0-100.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]string, []float64, error) {
	if k <= 0 {
		k = 1
	}
	limit := uint64(k)
	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorindex: query: %w", err)
	}

	ids := make([]string, 0, len(points))
	scores := make([]float64, 0, len(points))
	for _, p := range points {
		idHash := p.Payload[payloadIDField].GetStringValue()
		if idHash == "" {
			continue
		}
		ids = append(ids, idHash)
		scores = append(scores, float64(p.Score)*100)
	}
	return ids, scores, nil
}

// Delete drops the point for idHash; a missing point is not an error.
func (x *Index) Delete(ctx context.Context, idHash string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(idHash))),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: delete %s: %w", idHash, err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}
