package retention

import (
	"path/filepath"
	"testing"
	"time"

	"kerngrid/internal/eventstore"
	"kerngrid/internal/offsets"
	"kerngrid/internal/types"
)

func newEvent(id, detectedAt string) types.Event {
	return types.Event{
		SchemaVersion: types.SchemaVersion,
		ID:            id,
		Type:          types.TypeOOM,
		Severity:      types.SeverityMajor,
		Message:       "msg",
		SourceFile:    "/var/log/kern.log",
		LineNumber:    1,
		DetectedAt:    detectedAt,
		HostID:        "host-a",
	}
}

// TestGC_RetainsLastN is scenario S4: retention_max_events=3, five events
// with strictly increasing detected_at; after GC exactly the last three
// remain.
func TestGC_RetainsLastN(t *testing.T) {
	dir := t.TempDir()
	store := eventstore.New(filepath.Join(dir, "anomalies.ndjson"))
	off := offsets.Load(filepath.Join(dir, "offsets.json"))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute).UTC().Format(time.RFC3339)
		if err := store.Append(newEvent(string(rune('a'+i)), ts)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	gc := New(store, off)
	if err := gc.Run(Params{RetentionDays: 30, RetentionMaxEvents: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	wantIDs := map[string]bool{"c": true, "d": true, "e": true}
	for _, e := range all {
		if !wantIDs[e.ID] {
			t.Errorf("unexpected retained id %s, want one of the last three", e.ID)
		}
	}
}

func TestGC_PrunesByAge(t *testing.T) {
	dir := t.TempDir()
	store := eventstore.New(filepath.Join(dir, "anomalies.ndjson"))
	off := offsets.Load(filepath.Join(dir, "offsets.json"))

	oldTS := time.Now().Add(-40 * 24 * time.Hour).UTC().Format(time.RFC3339)
	recentTS := time.Now().UTC().Format(time.RFC3339)
	if err := store.Append(newEvent("old", oldTS)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(newEvent("recent", recentTS)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	gc := New(store, off)
	if err := gc.Run(Params{RetentionDays: 30, RetentionMaxEvents: 1000}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].ID != "recent" {
		t.Fatalf("got %v, want only the recent event retained", all)
	}
}

func TestGC_NoConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	store := eventstore.New(filepath.Join(dir, "anomalies.ndjson"))
	off := offsets.Load(filepath.Join(dir, "offsets.json"))
	gc := New(store, off)
	gc.running = true // simulate a pass already in flight
	if err := gc.Run(Params{RetentionDays: 30, RetentionMaxEvents: 1000}); err != nil {
		t.Fatalf("Run should no-op, not error, when already running: %v", err)
	}
}

func TestGC_PrunesStaleOffsets(t *testing.T) {
	dir := t.TempDir()
	store := eventstore.New(filepath.Join(dir, "anomalies.ndjson"))
	off := offsets.Load(filepath.Join(dir, "offsets.json"))
	off.Set(filepath.Join(dir, "does-not-exist.log"), 100)

	gc := New(store, off)
	if err := gc.Run(Params{RetentionDays: 30, RetentionMaxEvents: 1000}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(off.Paths()) != 0 {
		t.Errorf("got paths %v, want stale offset pruned", off.Paths())
	}
}
