// Package iolog implements the append-only interaction log: one row per
// user interaction, embedded for later similarity search, appended either
// inline or from a background worker.
package iolog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Embedder is the narrow embedding contract the log computes row
// embeddings through.
type Embedder interface {
	Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error)
}

// Store persists rows; MemStore is the default in-process implementation,
// a pgx/v5-backed store is the durable alternative.
type Store interface {
	Append(row voxmodels.IOLogRow) error
	All() []voxmodels.IOLogRow
}

// MemStore is an in-process, append-only row list.
type MemStore struct {
	mu   sync.RWMutex
	rows []voxmodels.IOLogRow
}

// NewMemStore builds an empty in-process store.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Append(row voxmodels.IOLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

// All returns every row, oldest-first — append order is insertion order, no
// mutation after insert.
func (s *MemStore) All() []voxmodels.IOLogRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]voxmodels.IOLogRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Logger is the embedding service's public interaction-log surface: Append plus
// the four query operations.
type Logger struct {
	store    Store
	embedder Embedder
	async    bool

	// queue is the background worker's work channel (buffered, 256 rows)
	// when async mode is enabled.
	queue  chan voxmodels.IOLogRow
	done   chan struct{}
	onFail func(error)
}

// Option configures a Logger at construction.
type Option func(*Logger)

// WithAsync enables the background-worker append mode. onFail, if
// non-nil, observes background-worker failures; those are logged and
// dropped, never surfaced to the request path.
func WithAsync(onFail func(error)) Option {
	return func(l *Logger) {
		l.async = true
		l.onFail = onFail
	}
}

// New constructs a Logger over store/embedder. Call Run in a goroutine
// when async mode is enabled; synchronous mode needs no background loop.
func New(store Store, embedder Embedder, opts ...Option) *Logger {
	l := &Logger{store: store, embedder: embedder, queue: make(chan voxmodels.IOLogRow, 256), done: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the async background worker until ctx is cancelled. It is a
// no-op in synchronous mode.
func (l *Logger) Run(ctx context.Context) {
	if !l.async {
		return
	}
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-l.queue:
			l.computeAndAppend(row)
		}
	}
}

func (l *Logger) computeAndAppend(row voxmodels.IOLogRow) {
	ctx := context.Background()
	if len(row.InputEmbedding) == 0 {
		vec, err := l.embedder.Embed(ctx, row.Input, true)
		if err != nil {
			l.fail(err)
			return
		}
		row.InputEmbedding = vec
	}
	if len(row.OutputFinalEmbedding) == 0 {
		vec, err := l.embedder.Embed(ctx, row.OutputFinal, true)
		if err != nil {
			l.fail(err)
			return
		}
		row.OutputFinalEmbedding = vec
	}
	if err := l.store.Append(row); err != nil {
		l.fail(err)
	}
}

func (l *Logger) fail(err error) {
	if l.onFail != nil {
		l.onFail(err)
	}
}

// Append records one interaction row: synchronous mode computes both
// embeddings inline before appending; async mode enqueues and returns
// immediately, with background-worker failures logged and never raised.
func (l *Logger) Append(ctx context.Context, row voxmodels.IOLogRow) error {
	if l.async {
		select {
		case l.queue <- row:
		default:
			// Queue saturated: compute inline rather than blocking the
			// caller or dropping silently.
			l.computeAndAppend(row)
		}
		return nil
	}

	inEmb, err := l.embedder.Embed(ctx, row.Input, true)
	if err != nil {
		return err
	}
	row.InputEmbedding = inEmb

	outEmb, err := l.embedder.Embed(ctx, row.OutputFinal, true)
	if err != nil {
		return err
	}
	row.OutputFinalEmbedding = outEmb

	return l.store.Append(row)
}

// scoredRow pairs a row with its similarity score for KNN ranking.
type scoredRow struct {
	row   voxmodels.IOLogRow
	score float64
}

// KNN embeds the query and returns the k rows ranked highest by
// dot-product similarity on the input embedding.
func (l *Logger) KNN(ctx context.Context, queryText string, k int) ([]voxmodels.IOLogRow, error) {
	query, err := l.embedder.Embed(ctx, queryText, true)
	if err != nil {
		return nil, err
	}

	rows := l.store.All()
	scored := make([]scoredRow, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, scoredRow{row: row, score: dotProduct(query, row.InputEmbedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	out := make([]voxmodels.IOLogRow, len(scored))
	for i, s := range scored {
		out[i] = s.row
	}
	return out, nil
}

func dotProduct(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Recent returns rows newest-first, bounded to maxRows.
func (l *Logger) Recent(maxRows int) []voxmodels.IOLogRow {
	rows := l.store.All()
	out := make([]voxmodels.IOLogRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if maxRows > 0 && len(out) > maxRows {
		out = out[:maxRows]
	}
	return out
}

// StatsByInputType counts rows per input_type tag.
func (l *Logger) StatsByInputType() map[string]int {
	counts := make(map[string]int)
	for _, row := range l.store.All() {
		counts[row.InputType]++
	}
	return counts
}

// AgentRouterInteractions returns rows whose input_type carries the
// "agent router" prefix (e.g. "agent router go to math"), newest-first,
// bounded to maxRows.
func (l *Logger) AgentRouterInteractions(maxRows int) []voxmodels.IOLogRow {
	const prefix = "agent router"
	var filtered []voxmodels.IOLogRow
	for _, row := range l.store.All() {
		if strings.HasPrefix(row.InputType, prefix) {
			filtered = append(filtered, row)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })
	if maxRows > 0 && len(filtered) > maxRows {
		filtered = filtered[:maxRows]
	}
	return filtered
}
