package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nodalflow/voxplane/internal/textnorm"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Embedder is the embedding contract consumed when filling snapshot
// vectors and embedding similarity queries.
type Embedder interface {
	Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error)
}

// Manager is the snapshot store's public surface: GetByID, SimilarTo,
// BestMatch, Insert, Delete, AddSynonymousQuestion (and its gist/negative
// counterparts), and UpdateRuntimeStats. It satisfies queue.SnapshotStore.
type Manager struct {
	store    *fileStore
	embedder Embedder
	index    VectorIndex
	now      func() time.Time
}

// VectorIndex is an optional accelerator over the flat-file store: an
// external ANN index consulted first by SimilarTo so large snapshot sets
// avoid a full in-process scan. The flat-file store stays the source of
// truth; any index failure falls back to the scan. Scores are on the same
// 0-100 scale the scan produces.
type VectorIndex interface {
	Upsert(ctx context.Context, idHash string, vector []float32) error
	Search(ctx context.Context, vector []float32, k int) (ids []string, scores []float64, err error)
	Delete(ctx context.Context, idHash string) error
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithVectorIndex enables the accelerator index.
func WithVectorIndex(idx VectorIndex) Option {
	return func(m *Manager) { m.index = idx }
}

// Config carries Manager's construction-time settings.
type Config struct {
	RootDir       string
	WorldWritable bool
}

// New constructs a Manager, loading any existing snapshots under
// cfg.RootDir. now defaults to time.Now when nil.
func New(cfg Config, embedder Embedder, now func() time.Time, opts ...Option) (*Manager, error) {
	store, err := newFileStore(cfg.RootDir, cfg.WorldWritable)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	m := &Manager{store: store, embedder: embedder, now: now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetByID is a direct file-backed lookup by id_hash.
func (m *Manager) GetByID(idHash string) (*voxmodels.SolutionSnapshot, bool) {
	return m.store.get(idHash)
}

// Match pairs a snapshot with its similarity score (0-100).
type Match struct {
	Snapshot *voxmodels.SolutionSnapshot
	Score    float64
}

// SimilarTo embeds the query and ranks every persisted snapshot by
// dot-product similarity on the question embedding, returning the top-k.
// A snapshot that lists the canonical query among its known negatives is
// never returned.
func (m *Manager) SimilarTo(ctx context.Context, questionText string, k int) ([]Match, error) {
	query, err := m.embedder.Embed(ctx, questionText, true)
	if err != nil {
		return nil, fmt.Errorf("snapshot: embed query: %w", err)
	}
	canon := textnorm.Canonical(questionText)

	if m.index != nil {
		if matches, ok := m.searchIndex(ctx, query, k); ok {
			kept := matches[:0]
			for _, mt := range matches {
				if !mt.Snapshot.IsKnownNegative(canon) {
					kept = append(kept, mt)
				}
			}
			return kept, nil
		}
	}

	all := m.store.all()
	scored := make([]Match, 0, len(all))
	for _, snap := range all {
		if snap.IsKnownNegative(canon) {
			continue
		}
		score := dotProductSimilarity(query, snap.Embeddings.Question)
		scored = append(scored, Match{Snapshot: snap, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// searchIndex resolves accelerator hits back to persisted snapshots. Any
// failure, or an id the index knows but the store doesn't, reports not-ok
// so the caller runs the authoritative scan instead.
func (m *Manager) searchIndex(ctx context.Context, query []float32, k int) ([]Match, bool) {
	ids, scores, err := m.index.Search(ctx, query, k)
	if err != nil || len(ids) != len(scores) {
		return nil, false
	}
	matches := make([]Match, 0, len(ids))
	for i, id := range ids {
		snap, ok := m.store.get(id)
		if !ok {
			return nil, false
		}
		matches = append(matches, Match{Snapshot: snap, Score: scores[i]})
	}
	return matches, true
}

// BestMatch returns the top-1 similarity result, and only if it clears
// threshold. Satisfies queue.SnapshotStore.
func (m *Manager) BestMatch(ctx context.Context, questionText string, threshold float64) (*voxmodels.SolutionSnapshot, float64, bool, error) {
	matches, err := m.SimilarTo(ctx, questionText, 1)
	if err != nil {
		return nil, 0, false, err
	}
	if len(matches) == 0 || matches[0].Score < threshold {
		return nil, 0, false, nil
	}
	return matches[0].Snapshot, matches[0].Score, true, nil
}

// Insert normalizes the question,
// computes any missing embeddings (question/gist/summary/thoughts
// normalized for cache, code left unnormalized since it is source text),
// and persists atomically under a disambiguated filename.
func (m *Manager) Insert(ctx context.Context, snap *voxmodels.SolutionSnapshot) error {
	snap.Question = textnorm.Canonical(snap.Question)
	if snap.QuestionGist == "" {
		snap.QuestionGist = textnorm.Gist(snap.Question)
	}

	if err := m.fillEmbeddings(ctx, snap); err != nil {
		return err
	}

	now := m.now()
	if snap.IDHash == "" {
		snap.IDHash = voxmodels.GenerateIDHash(now)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	filename := m.store.filenameFor(snap.Question)
	if err := m.store.put(snap, filename); err != nil {
		return err
	}
	if m.index != nil && len(snap.Embeddings.Question) > 0 {
		// Index failures don't fail the insert: the scan path still finds
		// the snapshot.
		_ = m.index.Upsert(ctx, snap.IDHash, snap.Embeddings.Question)
	}
	return nil
}

// Delete removes a persisted snapshot, its file, and its accelerator-index
// entry.
func (m *Manager) Delete(ctx context.Context, idHash string) error {
	if err := m.store.remove(idHash); err != nil {
		return err
	}
	if m.index != nil {
		_ = m.index.Delete(ctx, idHash)
	}
	return nil
}

// fillEmbeddings computes an embedding for each non-empty text field that
// doesn't already carry one.
func (m *Manager) fillEmbeddings(ctx context.Context, snap *voxmodels.SolutionSnapshot) error {
	fields := []struct {
		text      string
		normalize bool
		dst       *[]float32
	}{
		{snap.Question, true, &snap.Embeddings.Question},
		{snap.QuestionGist, true, &snap.Embeddings.QuestionGist},
		{snap.SolutionSummary, true, &snap.Embeddings.SolutionSummary},
		{snap.Thoughts, true, &snap.Embeddings.Thoughts},
		{codeText(snap.Code), false, &snap.Embeddings.Code},
	}
	for _, f := range fields {
		if f.text == "" || len(*f.dst) != 0 {
			continue
		}
		vec, err := m.embedder.Embed(ctx, f.text, f.normalize)
		if err != nil {
			return fmt.Errorf("snapshot: embed field: %w", err)
		}
		*f.dst = vec
	}
	return nil
}

func codeText(lines []voxmodels.CodeLine) string {
	if len(lines) == 0 {
		return ""
	}
	out := make([]byte, 0, 64*len(lines))
	for _, l := range lines {
		out = append(out, l.Text...)
		out = append(out, '\n')
	}
	return string(out)
}

// AddSynonymousQuestion inserts (text, score) into the snapshot's
// ordered synonym map. Duplicate insertions, the snapshot's own canonical
// question included, are no-ops.
func (m *Manager) AddSynonymousQuestion(idHash, text string, score float64) error {
	snap, ok := m.store.get(idHash)
	if !ok {
		return fmt.Errorf("snapshot: %s not found", idHash)
	}
	text = textnorm.Canonical(text)
	if snap.HasSynonym(text) {
		return nil
	}
	snap.SynonymousQuestions = append(snap.SynonymousQuestions, voxmodels.SynonymEntry{Text: text, Score: score})
	snap.UpdatedAt = m.now()
	filename, _ := m.store.filenameOf(idHash)
	return m.store.put(snap, filename)
}

// AddSynonymousGist is the gist-side equivalent of AddSynonymousQuestion.
func (m *Manager) AddSynonymousGist(idHash, gist string, score float64) error {
	snap, ok := m.store.get(idHash)
	if !ok {
		return fmt.Errorf("snapshot: %s not found", idHash)
	}
	gist = textnorm.Gist(gist)
	if snap.HasGistSynonym(gist) {
		return nil
	}
	snap.SynonymousGists = append(snap.SynonymousGists, voxmodels.SynonymEntry{Text: gist, Score: score})
	snap.UpdatedAt = m.now()
	filename, _ := m.store.filenameOf(idHash)
	return m.store.put(snap, filename)
}

// RejectSimilarity records text as a known negative so future SimilarTo
// calls never reconsider it a positive match for this snapshot — the
// supplemented non_synonymous_questions behavior.
func (m *Manager) RejectSimilarity(idHash, text string) error {
	snap, ok := m.store.get(idHash)
	if !ok {
		return fmt.Errorf("snapshot: %s not found", idHash)
	}
	text = textnorm.Canonical(text)
	if snap.IsKnownNegative(text) {
		return nil
	}
	snap.NonSynonymousQuestions = append(snap.NonSynonymousQuestions, text)
	snap.UpdatedAt = m.now()
	filename, _ := m.store.filenameOf(idHash)
	return m.store.put(snap, filename)
}

// UpdateRuntimeStats records one measured run. The first is recorded as
// FirstRunMs with RunCount left at 0;
// subsequent runs update count/total/mean/last and TimeSavedMs =
// FirstRunMs*RunCount - TotalMs. Satisfies queue.SnapshotStore.
func (m *Manager) UpdateRuntimeStats(ctx context.Context, idHash string, elapsedMs int64) error {
	snap, ok := m.store.get(idHash)
	if !ok {
		return fmt.Errorf("snapshot: %s not found", idHash)
	}

	stats := &snap.Stats
	if stats.FirstRunMs == 0 && stats.RunCount == 0 {
		stats.FirstRunMs = elapsedMs
		stats.LastRunMs = elapsedMs
	} else {
		stats.RunCount++
		stats.TotalMs += elapsedMs
		stats.LastRunMs = elapsedMs
		stats.MeanRunMs = stats.TotalMs / stats.RunCount
		stats.TimeSavedMs = stats.FirstRunMs*stats.RunCount - stats.TotalMs
	}
	snap.UpdatedAt = m.now()
	filename, _ := m.store.filenameOf(idHash)
	return m.store.put(snap, filename)
}
