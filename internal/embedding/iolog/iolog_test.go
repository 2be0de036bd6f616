package iolog

import (
	"context"
	"testing"
	"time"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r % 7)
	}
	return vec, nil
}

func TestAppendSyncComputesEmbeddings(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{})

	row := voxmodels.NewIOLogRow(time.Now(), "agent router go to math", "what is 2 plus 2", "4", "The answer is 4.")
	if err := logger.Append(context.Background(), row); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows := store.All()
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if len(rows[0].InputEmbedding) == 0 || len(rows[0].OutputFinalEmbedding) == 0 {
		t.Fatal("expected both embeddings to be computed synchronously")
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := voxmodels.NewIOLogRow(base.Add(time.Duration(i)*time.Hour), "misc", "q", "raw", "final")
		if err := logger.Append(context.Background(), row); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent := logger.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	if !recent[0].Timestamp.After(recent[1].Timestamp) {
		t.Fatalf("expected newest-first ordering")
	}
}

func TestStatsByInputType(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{})

	for _, it := range []string{"agent router go to math", "agent router go to math", "agent router go to weather"} {
		row := voxmodels.NewIOLogRow(time.Now(), it, "q", "raw", "final")
		if err := logger.Append(context.Background(), row); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats := logger.StatsByInputType()
	if stats["agent router go to math"] != 2 {
		t.Fatalf("expected 2 math rows, got %d", stats["agent router go to math"])
	}
	if stats["agent router go to weather"] != 1 {
		t.Fatalf("expected 1 weather row, got %d", stats["agent router go to weather"])
	}
}

func TestAgentRouterInteractionsFiltersByPrefix(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{})

	rows := []string{"agent router go to math", "user_login", "agent router go to weather"}
	for _, it := range rows {
		row := voxmodels.NewIOLogRow(time.Now(), it, "q", "raw", "final")
		if err := logger.Append(context.Background(), row); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	filtered := logger.AgentRouterInteractions(0)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 agent router rows, got %d", len(filtered))
	}
}

func TestKNNRanksBySimilarity(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{})

	for _, q := range []string{"what is 2 plus 2", "what is the weather today", "what is 2 plus 2 exactly"} {
		row := voxmodels.NewIOLogRow(time.Now(), "misc", q, "raw", "final")
		if err := logger.Append(context.Background(), row); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	results, err := logger.KNN(context.Background(), "what is 2 plus 2", 2)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestAsyncAppendEventuallyPersists(t *testing.T) {
	store := NewMemStore()
	logger := New(store, stubEmbedder{}, WithAsync(func(err error) {
		t.Errorf("unexpected background failure: %v", err)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go logger.Run(ctx)

	row := voxmodels.NewIOLogRow(time.Now(), "agent router go to math", "q", "raw", "final")
	if err := logger.Append(context.Background(), row); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(store.All()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(store.All()) != 1 {
		t.Fatalf("expected async append to eventually persist one row")
	}
}
