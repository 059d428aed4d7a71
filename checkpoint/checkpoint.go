// Package checkpoint persists per-source completion state so an interrupted
// run can resume without re-ingesting finished sources.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress is the durable checkpoint record.
type Progress struct {
	RunID               string    `json:"run_id"`
	ProcessedSources    []string  `json:"processed_sources"`
	FailedSources       []string  `json:"failed_sources"`
	TotalItemsProcessed int64     `json:"total_items_processed"`
	CreatedAt           time.Time `json:"created_at"`
	LastUpdated         time.Time `json:"last_updated"`
}

// Done reports whether name reached a terminal state in a previous run.
func (p Progress) Done(name string) bool {
	return contains(p.ProcessedSources, name) || contains(p.FailedSources, name)
}

// Completed reports whether name finished successfully.
func (p Progress) Completed(name string) bool { return contains(p.ProcessedSources, name) }

// Failed reports whether name was marked failed.
func (p Progress) Failed(name string) bool { return contains(p.FailedSources, name) }

func contains(sorted []string, name string) bool {
	i := sort.SearchStrings(sorted, name)
	return i < len(sorted) && sorted[i] == name
}

// FileStore keeps the checkpoint as a JSON file, rewritten whole after every
// mutation. A write completes before the mutating call returns.
type FileStore struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	runID     string
	processed map[string]struct{}
	failed    map[string]struct{}
	total     int64
	created   time.Time
	updated   time.Time
}

// Open loads the checkpoint at path. A missing file yields a fresh checkpoint
// with a new run id; an unreadable or corrupt file is an error.
func Open(path string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		now:       time.Now,
		processed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.reset()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	s.runID = p.RunID
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	for _, name := range p.ProcessedSources {
		s.processed[name] = struct{}{}
	}
	for _, name := range p.FailedSources {
		// A name in both sets keeps its success.
		if _, ok := s.processed[name]; !ok {
			s.failed[name] = struct{}{}
		}
	}
	s.total = p.TotalItemsProcessed
	s.created = p.CreatedAt
	s.updated = p.LastUpdated
	return s, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string { return s.path }

// Snapshot returns a copy of the current state.
func (s *FileStore) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// MarkCompleted records name as processed, clearing any failed mark.
func (s *FileStore) MarkCompleted(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, name)
	s.processed[name] = struct{}{}
	return s.persistLocked()
}

// MarkFailed records name as failed.
func (s *FileStore) MarkFailed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, name)
	s.failed[name] = struct{}{}
	return s.persistLocked()
}

// IncrementProcessed adds n to the lifetime items counter.
func (s *FileStore) IncrementProcessed(n int64) error {
	if n < 0 {
		return fmt.Errorf("increment must be non-negative, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += n
	return s.persistLocked()
}

// Clear returns the named sources to pending. It reports how many were
// actually cleared.
func (s *FileStore) Clear(names ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	for _, name := range names {
		_, p := s.processed[name]
		_, f := s.failed[name]
		if p || f {
			cleared++
		}
		delete(s.processed, name)
		delete(s.failed, name)
	}
	if cleared == 0 {
		return 0, nil
	}
	return cleared, s.persistLocked()
}

// ClearFailed returns every failed source to pending.
func (s *FileStore) ClearFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := len(s.failed)
	if cleared == 0 {
		return 0, nil
	}
	s.failed = make(map[string]struct{})
	return cleared, s.persistLocked()
}

// ClearAll discards the checkpoint and starts a new run id.
func (s *FileStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return s.persistLocked()
}

func (s *FileStore) reset() {
	s.runID = uuid.NewString()
	s.processed = make(map[string]struct{})
	s.failed = make(map[string]struct{})
	s.total = 0
	s.created = s.now().UTC()
	s.updated = time.Time{}
}

func (s *FileStore) snapshotLocked() Progress {
	return Progress{
		RunID:               s.runID,
		ProcessedSources:    sortedKeys(s.processed),
		FailedSources:       sortedKeys(s.failed),
		TotalItemsProcessed: s.total,
		CreatedAt:           s.created,
		LastUpdated:         s.updated,
	}
}

func (s *FileStore) persistLocked() error {
	s.updated = s.now().UTC()
	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path so readers see either the old or the new
// contents, never a torn write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
