// Package snapshot stores persisted, embedding-annotated records of
// previously answered questions, used by the queue scheduler to
// short-circuit repeat questions. Snapshots live as flat JSON files
// written atomically via write-then-rename; similarity is a dot-product
// scan over the question embeddings.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nodalflow/voxplane/internal/textnorm"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// fileStore is the flat-file source of truth: one JSON file per snapshot
// under rootDir, plus an in-memory index rebuilt at startup so similarity
// scans don't hit disk per query.
type fileStore struct {
	rootDir       string
	worldWritable bool

	// dirMu serializes filename generation + atomic create. A single root
	// directory here, so one mutex suffices; multiple directories would
	// each get their own.
	dirMu sync.Mutex

	indexMu  sync.RWMutex
	byID     map[string]*voxmodels.SolutionSnapshot
	fileByID map[string]string
}

func newFileStore(rootDir string, worldWritable bool) (*fileStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create root dir %s: %w", rootDir, err)
	}
	fs := &fileStore{
		rootDir:       rootDir,
		worldWritable: worldWritable,
		byID:          make(map[string]*voxmodels.SolutionSnapshot),
		fileByID:      make(map[string]string),
	}
	if err := fs.loadAll(); err != nil {
		return nil, err
	}
	return fs, nil
}

// loadAll reads every *.json file under rootDir into the in-memory index.
// A snapshot whose synonym maps fail to decode degrades to an empty map
// rather than failing the whole load.
func (fs *fileStore) loadAll() error {
	entries, err := os.ReadDir(fs.rootDir)
	if err != nil {
		return fmt.Errorf("snapshot: read root dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(fs.rootDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		snap, ok := decodeSnapshot(data)
		if !ok {
			// Corrupted beyond recovery: skip rather than aborting startup.
			continue
		}
		fs.byID[snap.IDHash] = snap
		fs.fileByID[snap.IDHash] = entry.Name()
	}
	return nil
}

// decodeSnapshot unmarshals a snapshot file. When the strict pass fails,
// a tolerant pass drops the synonym maps and retries, so a corrupted
// synonym map degrades to an empty one instead of losing the snapshot.
func decodeSnapshot(data []byte) (*voxmodels.SolutionSnapshot, bool) {
	var snap voxmodels.SolutionSnapshot
	if err := json.Unmarshal(data, &snap); err == nil {
		return &snap, true
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	delete(raw, "synonymous_questions")
	delete(raw, "synonymous_gists")
	delete(raw, "non_synonymous_questions")
	clean, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	snap = voxmodels.SolutionSnapshot{}
	if err := json.Unmarshal(clean, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// filenameFor builds "{slug}-{n}.json" from the question, starting n at the
// count of existing files sharing the slug and stepping past any name
// already on disk so the name stays unique.
func (fs *fileStore) filenameFor(question string) string {
	slug := strings.ReplaceAll(textnorm.Canonical(truncate(question, 64)), " ", "-")
	if slug == "" {
		slug = "untitled"
	}
	matches, _ := filepath.Glob(filepath.Join(fs.rootDir, slug+"-*.json"))
	for n := len(matches); ; n++ {
		name := fmt.Sprintf("%s-%d.json", slug, n)
		if _, err := os.Stat(filepath.Join(fs.rootDir, name)); err != nil {
			return name
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// put writes snap to disk atomically (temp file + rename in the same
// directory) and refreshes the in-memory index.
func (fs *fileStore) put(snap *voxmodels.SolutionSnapshot, filename string) error {
	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	finalPath := filepath.Join(fs.rootDir, filename)
	tmp, err := os.CreateTemp(fs.rootDir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}

	mode := os.FileMode(0o644)
	if fs.worldWritable {
		mode = 0o666
	}
	_ = os.Chmod(finalPath, mode)

	fs.indexMu.Lock()
	fs.byID[snap.IDHash] = snap
	fs.fileByID[snap.IDHash] = filename
	fs.indexMu.Unlock()
	return nil
}

func (fs *fileStore) get(idHash string) (*voxmodels.SolutionSnapshot, bool) {
	fs.indexMu.RLock()
	defer fs.indexMu.RUnlock()
	s, ok := fs.byID[idHash]
	return s, ok
}

// filenameOf returns the on-disk filename a persisted snapshot was written
// under, so mutation operations (synonym/stats updates) rewrite the same
// file instead of minting a new one.
func (fs *fileStore) filenameOf(idHash string) (string, bool) {
	fs.indexMu.RLock()
	defer fs.indexMu.RUnlock()
	name, ok := fs.fileByID[idHash]
	return name, ok
}

// remove deletes the snapshot's file and drops it from the index.
func (fs *fileStore) remove(idHash string) error {
	fs.indexMu.Lock()
	filename, ok := fs.fileByID[idHash]
	if ok {
		delete(fs.byID, idHash)
		delete(fs.fileByID, idHash)
	}
	fs.indexMu.Unlock()
	if !ok {
		return fmt.Errorf("snapshot: %s not found", idHash)
	}

	fs.dirMu.Lock()
	defer fs.dirMu.Unlock()
	if err := os.Remove(filepath.Join(fs.rootDir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: remove %s: %w", filename, err)
	}
	return nil
}

// all returns every snapshot, newest-first by CreatedAt.
func (fs *fileStore) all() []*voxmodels.SolutionSnapshot {
	fs.indexMu.RLock()
	defer fs.indexMu.RUnlock()
	out := make([]*voxmodels.SolutionSnapshot, 0, len(fs.byID))
	for _, s := range fs.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
