// Package eventstore implements the append-only NDJSON Event log (C4 in the
// spec): one JSON object per line, daily partition copies, and a GC rewrite
// path used by Retention. Grounded on the teacher's internal/audit.Logger,
// which uses the same mutex + O_APPEND + json.Encoder technique for a
// single append-only file.
package eventstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"kerngrid/internal/types"
)

// Store is the Event Store: a single NDJSON file plus daily partitions
// under a sibling "anomalies" directory. Appends are serialized by mu;
// Retention GC takes the same lock for the whole rewrite so readers never
// observe partially-rewritten content (they re-open the file per read, so
// they see either the pre- or post-GC content, never a torn mix).
type Store struct {
	mu          sync.Mutex
	path        string
	partitionDir string
}

// New returns a Store backed by path (e.g. "data/anomalies.ndjson"); daily
// partitions are written under path's directory + "/anomalies".
func New(path string) *Store {
	return &Store{
		path:         path,
		partitionDir: filepath.Join(filepath.Dir(path), "anomalies"),
	}
}

// Path returns the main event-log file path.
func (s *Store) Path() string { return s.path }

// Append writes evt as one JSON line to the main log and to its daily
// partition file. Both writes happen under the same lock so GC never races
// a partial append.
func (s *Store) Append(evt types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := appendLine(s.path, evt); err != nil {
		return err
	}

	if err := os.MkdirAll(s.partitionDir, 0o755); err != nil {
		return err
	}
	date := partitionDate(evt.DetectedAt)
	partPath := filepath.Join(s.partitionDir, date+".ndjson")
	return appendLine(partPath, evt)
}

func appendLine(path string, evt types.Event) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(evt)
}

// partitionDate extracts YYYY-MM-DD from an ISO-8601 UTC detected_at,
// falling back to today's UTC date if unparseable.
func partitionDate(detectedAt string) string {
	t, err := time.Parse(time.RFC3339, detectedAt)
	if err != nil {
		return time.Now().UTC().Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02")
}

// Iterate streams every parseable Event in the main log, calling fn for
// each. Lines that fail to unmarshal are silently skipped (torn-write
// tolerance, §4.4). The file is (re)opened fresh on every call — callers
// never rely on a size snapshotted before a possible GC rewrite.
func (s *Store) Iterate(fn func(types.Event) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt types.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	return sc.Err()
}

// All collects every parseable event via Iterate; convenience for callers
// that want the whole slice (Stats, Query API).
func (s *Store) All() ([]types.Event, error) {
	var out []types.Event
	err := s.Iterate(func(e types.Event) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Rewrite atomically replaces the main log's contents with events, in the
// given order, used by Retention GC after it has decided what to keep.
// Callers must already hold whatever exclusivity they need against
// concurrent GC; Rewrite itself also takes the Store's append lock so a
// concurrent Append can't interleave with the temp-file swap.
func (s *Store) Rewrite(events []types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".anomalies-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	if err := w.Flush(); err != nil {
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

// PartitionFiles lists every day-partition file path paired with the date
// parsed from its filename, used by Retention GC to prune old partitions.
func (s *Store) PartitionFiles() (map[string]string, error) {
	entries, err := os.ReadDir(s.partitionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		date := strings.TrimSuffix(name, ".ndjson")
		out[date] = filepath.Join(s.partitionDir, name)
	}
	return out, nil
}

// RemovePartition deletes a single day-partition file by path.
func (s *Store) RemovePartition(path string) error {
	return os.Remove(path)
}

// SortByDetectedAt stable-sorts events ascending by parsed detected_at,
// treating unparseable timestamps as epoch 0 (oldest), per §4.6 step 4.
func SortByDetectedAt(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return epochOf(events[i].DetectedAt) < epochOf(events[j].DetectedAt)
	})
}

func epochOf(detectedAt string) int64 {
	t, err := time.Parse(time.RFC3339, detectedAt)
	if err != nil {
		return 0
	}
	return t.Unix()
}
