// Package offsets persists the per-file byte-offset map used by the Tailer
// (C2 in the spec) so incremental reads survive process restart.
package offsets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store is a JSON object mapping absolute file path -> byte offset. Safe
// for concurrent use; the Tailer records offsets, and Retention GC deletes
// stale entries and saves the store.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]int64
}

// Load reads path into a new Store. A missing or corrupt file yields an
// empty mapping rather than an error, matching §4.2's load-failure policy.
func Load(path string) *Store {
	s := &Store{path: path, data: make(map[string]int64)}
	b, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return s
	}
	s.data = m
	return s
}

// Get returns the saved offset for path, or 0 if unknown.
func (s *Store) Get(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[path]
}

// Set records the offset for path without persisting; call Save to flush.
func (s *Store) Set(path string, off int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = off
}

// Delete removes path's entry, used by Retention GC to prune offsets whose
// files no longer exist (§4.6 step 7).
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, path)
}

// Paths returns a snapshot of every tracked path.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	return out
}

// Save whole-file atomic-rewrites the mapping: write to a temp file in the
// same directory, then rename over the target, so a concurrent reader never
// observes a partially-written offsets file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".offsets-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
