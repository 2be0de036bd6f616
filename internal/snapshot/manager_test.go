package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// stubEmbedder returns a deterministic unit vector per distinct text so
// tests can reason about similarity without a real embedding model.
type stubEmbedder struct {
	dim int
}

func (e stubEmbedder) Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error) {
	vec := make([]float32, e.dim)
	if text == "" {
		return vec, nil
	}
	var h int
	for _, r := range text {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	vec[h%e.dim] = 1
	return vec, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	fixedNow := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr, err := New(Config{RootDir: filepath.Join(t.TempDir(), "solutions")}, stubEmbedder{dim: 8}, func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr
}

func TestInsertThenGetByID(t *testing.T) {
	mgr := newTestManager(t)
	snap := &voxmodels.SolutionSnapshot{
		Question:       "what is 2 plus 2",
		Answer:         "4",
		RoutingCommand: "agent router go to math",
	}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if snap.IDHash == "" {
		t.Fatal("expected id_hash to be assigned")
	}
	if len(snap.Embeddings.Question) == 0 {
		t.Fatal("expected question embedding to be filled")
	}

	got, ok := mgr.GetByID(snap.IDHash)
	if !ok {
		t.Fatal("expected snapshot to be found")
	}
	if got.Answer != "4" {
		t.Fatalf("expected answer 4, got %s", got.Answer)
	}
}

func TestBestMatchHonorsThreshold(t *testing.T) {
	mgr := newTestManager(t)
	snap := &voxmodels.SolutionSnapshot{Question: "what is 2 plus 2", Answer: "4", RoutingCommand: "math"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	match, score, ok, err := mgr.BestMatch(context.Background(), "what is 2 plus 2", 50)
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if !ok {
		t.Fatal("expected exact-text query to match above threshold")
	}
	if score != 100 {
		t.Fatalf("expected identical text to score 100, got %v", score)
	}
	if match.IDHash != snap.IDHash {
		t.Fatalf("expected match on inserted snapshot")
	}

	_, _, ok, err = mgr.BestMatch(context.Background(), "completely unrelated question text", 50)
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if ok {
		t.Fatal("expected dissimilar query to not match")
	}
}

func TestAddSynonymousQuestionIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	snap := &voxmodels.SolutionSnapshot{Question: "what time is it", Answer: "noon", RoutingCommand: "time"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := mgr.AddSynonymousQuestion(snap.IDHash, "what is the time", 95); err != nil {
		t.Fatalf("AddSynonymousQuestion: %v", err)
	}
	if err := mgr.AddSynonymousQuestion(snap.IDHash, "what is the time", 95); err != nil {
		t.Fatalf("AddSynonymousQuestion (dup): %v", err)
	}

	got, _ := mgr.GetByID(snap.IDHash)
	if len(got.SynonymousQuestions) != 1 {
		t.Fatalf("expected one synonym entry, got %d", len(got.SynonymousQuestions))
	}

	// Inserting the snapshot's own canonical question is a no-op too.
	if err := mgr.AddSynonymousQuestion(snap.IDHash, "what time is it", 100); err != nil {
		t.Fatalf("AddSynonymousQuestion (self): %v", err)
	}
	got, _ = mgr.GetByID(snap.IDHash)
	if len(got.SynonymousQuestions) != 1 {
		t.Fatalf("expected self-question to not be recorded as a synonym, got %d entries", len(got.SynonymousQuestions))
	}
}

func TestUpdateRuntimeStatsFirstRunThenSubsequent(t *testing.T) {
	mgr := newTestManager(t)
	snap := &voxmodels.SolutionSnapshot{Question: "how many days until christmas", Answer: "soon", RoutingCommand: "date"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := mgr.UpdateRuntimeStats(context.Background(), snap.IDHash, 100); err != nil {
		t.Fatalf("UpdateRuntimeStats (first): %v", err)
	}
	got, _ := mgr.GetByID(snap.IDHash)
	if got.Stats.FirstRunMs != 100 || got.Stats.RunCount != 0 {
		t.Fatalf("expected first-run recorded without bumping run_count, got %+v", got.Stats)
	}

	if err := mgr.UpdateRuntimeStats(context.Background(), snap.IDHash, 20); err != nil {
		t.Fatalf("UpdateRuntimeStats (second): %v", err)
	}
	got, _ = mgr.GetByID(snap.IDHash)
	if got.Stats.RunCount != 1 || got.Stats.TotalMs != 20 || got.Stats.MeanRunMs != 20 {
		t.Fatalf("unexpected stats after second run: %+v", got.Stats)
	}
	wantSaved := got.Stats.FirstRunMs*got.Stats.RunCount - got.Stats.TotalMs
	if got.Stats.TimeSavedMs != wantSaved {
		t.Fatalf("expected time_saved_ms=%d, got %d", wantSaved, got.Stats.TimeSavedMs)
	}

	if err := mgr.UpdateRuntimeStats(context.Background(), snap.IDHash, 40); err != nil {
		t.Fatalf("UpdateRuntimeStats (third): %v", err)
	}
	got, _ = mgr.GetByID(snap.IDHash)
	if got.Stats.MeanRunMs*got.Stats.RunCount != got.Stats.TotalMs {
		t.Fatalf("invariant mean*count==total violated: %+v", got.Stats)
	}
}

func TestRejectSimilarityPreventsReconsideration(t *testing.T) {
	mgr := newTestManager(t)
	snap := &voxmodels.SolutionSnapshot{Question: "whats the capital of france", Answer: "paris", RoutingCommand: "trivia"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mgr.RejectSimilarity(snap.IDHash, "whats the capital of spain"); err != nil {
		t.Fatalf("RejectSimilarity: %v", err)
	}
	got, _ := mgr.GetByID(snap.IDHash)
	if !got.IsKnownNegative("whats the capital of spain") {
		t.Fatal("expected rejected question to be recorded as a known negative")
	}
}

// fakeIndex is a scripted VectorIndex for exercising the accelerator path.
type fakeIndex struct {
	upserted map[string][]float32
	deleted  []string
	ids      []string
	scores   []float64
	searchErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{upserted: make(map[string][]float32)}
}

func (f *fakeIndex) Upsert(ctx context.Context, idHash string, vector []float32) error {
	f.upserted[idHash] = vector
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int) ([]string, []float64, error) {
	return f.ids, f.scores, f.searchErr
}

func (f *fakeIndex) Delete(ctx context.Context, idHash string) error {
	f.deleted = append(f.deleted, idHash)
	return nil
}

func TestVectorIndexAcceleratesSimilarTo(t *testing.T) {
	idx := newFakeIndex()
	fixedNow := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr, err := New(Config{RootDir: filepath.Join(t.TempDir(), "solutions")}, stubEmbedder{dim: 8}, func() time.Time { return fixedNow }, WithVectorIndex(idx))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := &voxmodels.SolutionSnapshot{Question: "what is 2 plus 2", Answer: "4", RoutingCommand: "math"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := idx.upserted[snap.IDHash]; !ok {
		t.Fatal("expected insert to upsert into the vector index")
	}

	idx.ids = []string{snap.IDHash}
	idx.scores = []float64{97.5}
	matches, err := mgr.SimilarTo(context.Background(), "what is two plus two", 1)
	if err != nil {
		t.Fatalf("SimilarTo: %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 97.5 {
		t.Fatalf("expected index-provided match, got %+v", matches)
	}

	// Index failure falls back to the authoritative scan.
	idx.searchErr = context.DeadlineExceeded
	matches, err = mgr.SimilarTo(context.Background(), "what is 2 plus 2", 1)
	if err != nil {
		t.Fatalf("SimilarTo (fallback): %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 100 {
		t.Fatalf("expected scan fallback to find the snapshot, got %+v", matches)
	}
}

func TestDeleteRemovesSnapshotAndIndexEntry(t *testing.T) {
	idx := newFakeIndex()
	fixedNow := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr, err := New(Config{RootDir: filepath.Join(t.TempDir(), "solutions")}, stubEmbedder{dim: 8}, func() time.Time { return fixedNow }, WithVectorIndex(idx))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := &voxmodels.SolutionSnapshot{Question: "delete me", Answer: "ok", RoutingCommand: "math"}
	if err := mgr.Insert(context.Background(), snap); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mgr.Delete(context.Background(), snap.IDHash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := mgr.GetByID(snap.IDHash); ok {
		t.Fatal("expected snapshot to be gone after delete")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != snap.IDHash {
		t.Fatalf("expected index delete for %s, got %v", snap.IDHash, idx.deleted)
	}

	if err := mgr.Delete(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error for unknown id_hash")
	}
}

func TestCorruptedSynonymMapDegradesToEmpty(t *testing.T) {
	data := []byte(`{"id_hash":"abc","question":"q","answer":"a","routing_command":"math","synonymous_questions":"this is not a list","stats":{},"embeddings":{}}`)
	snap, ok := decodeSnapshot(data)
	if !ok {
		t.Fatal("expected tolerant decode to recover the snapshot")
	}
	if snap.IDHash != "abc" || snap.Answer != "a" {
		t.Fatalf("unexpected recovered snapshot: %+v", snap)
	}
	if len(snap.SynonymousQuestions) != 0 {
		t.Fatalf("expected corrupted synonym map to degrade to empty, got %v", snap.SynonymousQuestions)
	}

	if _, ok := decodeSnapshot([]byte(`not json at all`)); ok {
		t.Fatal("expected unrecoverable garbage to fail decode")
	}
}
