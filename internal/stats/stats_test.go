package stats

import (
	"path/filepath"
	"testing"
	"time"

	"kerngrid/internal/eventstore"
	"kerngrid/internal/types"
)

func newEvent(host string, typ types.AnomalyType, detectedAt string) types.Event {
	return types.Event{
		SchemaVersion: types.SchemaVersion,
		ID:            string(typ) + detectedAt,
		Type:          typ,
		Severity:      types.SeverityFor(typ),
		Message:       "msg",
		SourceFile:    "/var/log/kern.log",
		LineNumber:    1,
		DetectedAt:    detectedAt,
		HostID:        host,
	}
}

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in    string
		ok    bool
		hours float64
	}{
		{"", false, 0},
		{"PT6H", true, 6},
		{"24h", true, 24},
		{"garbage", false, 0},
	}
	for _, c := range cases {
		d, ok := ParseWindow(c.in)
		if ok != c.ok {
			t.Errorf("ParseWindow(%q) ok = %v, want %v", c.in, ok, c.ok)
			continue
		}
		if ok && d != time.Duration(c.hours)*time.Hour {
			t.Errorf("ParseWindow(%q) = %v, want %v hours", c.in, d, c.hours)
		}
	}
}

func TestComputeZeroFillsSeverities(t *testing.T) {
	store := eventstore.New(filepath.Join(t.TempDir(), "anomalies.ndjson"))
	e := New(store, nil)
	sum, err := e.Compute("", "")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for _, sev := range []string{"critical", "major", "minor"} {
		if _, ok := sum.BySeverity[sev]; !ok {
			t.Errorf("missing zero-filled severity %s", sev)
		}
	}
	if sum.Total != 0 {
		t.Errorf("got total %d, want 0", sum.Total)
	}
}

func TestComputeCountsAndFiltersByHost(t *testing.T) {
	store := eventstore.New(filepath.Join(t.TempDir(), "anomalies.ndjson"))
	now := time.Now().UTC().Format(time.RFC3339)
	mustAppend(t, store, newEvent("host-a", types.TypeOOM, now))
	mustAppend(t, store, newEvent("host-b", types.TypeKernelPanic, now))

	e := New(store, nil)
	sum, err := e.Compute("", "host-a")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.Total != 1 {
		t.Fatalf("got total %d, want 1", sum.Total)
	}
	if sum.ByHost["host-a"] != 1 {
		t.Errorf("got by_host %v, want host-a:1", sum.ByHost)
	}
}

func TestComputeWindowExcludesOldEvents(t *testing.T) {
	store := eventstore.New(filepath.Join(t.TempDir(), "anomalies.ndjson"))
	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)
	mustAppend(t, store, newEvent("host-a", types.TypeOOM, old))
	mustAppend(t, store, newEvent("host-a", types.TypeOops, recent))

	e := New(store, nil)
	sum, err := e.Compute("24h", "")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.Total != 1 {
		t.Fatalf("got total %d, want 1 (window excludes the old event)", sum.Total)
	}
}

func mustAppend(t *testing.T, store *eventstore.Store, evt types.Event) {
	t.Helper()
	if err := store.Append(evt); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
