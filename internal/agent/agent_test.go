package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"kerngrid/internal/classify"
	"kerngrid/internal/offsets"
	"kerngrid/internal/tailer"
	"kerngrid/internal/types"
)

func newTestAgent(t *testing.T, serverURL, offsetPath string) (*Agent, *offsets.Store) {
	t.Helper()
	engine, err := classify.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	store := offsets.Load(offsetPath)
	tl := tailer.New(engine, store, "test-host")
	return New(serverURL, "", "test-host", "", tl), store
}

func writeLogFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	if err := os.WriteFile(path, []byte("Out of memory: Killed process 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testCfg(logPath string, commitAfterAck bool) types.Configuration {
	return types.Configuration{
		Detection: types.DetectionConfig{
			LogPaths:         []string{logPath},
			EnabledDetectors: []string{"oom"},
			SearchMode:       "mixed",
		},
		Agent: types.AgentConfig{CommitAfterAck: commitAfterAck},
	}
}

// TestCommitAfterAck_SavesOffsetOnlyOnSuccessfulReport verifies that when
// agent.commit_after_ack is true, a failed POST leaves the on-disk offset
// store untouched (so a restarted agent re-scans the unacked lines), while a
// successful POST commits it.
func TestCommitAfterAck_SavesOffsetOnlyOnSuccessfulReport(t *testing.T) {
	logPath := writeLogFile(t)
	offsetPath := filepath.Join(t.TempDir(), "offsets.json")

	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","received":1,"processed":1}`))
	}))
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL, offsetPath)
	cfg := testCfg(logPath, true)

	events := a.scanOnce(cfg)
	if len(events) != 1 {
		t.Fatalf("scanOnce: got %d events, want 1", len(events))
	}

	// Simulate Run's strict-delivery branch: report fails, so no save.
	if err := a.report(context.Background(), events); err == nil {
		t.Fatalf("expected report to fail against the 500 handler")
	}
	if got := offsets.Load(offsetPath).Get(logPath); got != 0 {
		t.Fatalf("offset persisted after a failed report: got %d, want 0", got)
	}

	// Now the same batch acks successfully; Run would call SaveOffsets.
	fail = false
	if err := a.report(context.Background(), events); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := a.tailer.SaveOffsets(); err != nil {
		t.Fatalf("SaveOffsets: %v", err)
	}
	if got := offsets.Load(offsetPath).Get(logPath); got == 0 {
		t.Fatalf("offset not persisted after a successful report")
	}
}

// TestCommitAfterAck_False_SavesEagerly verifies the default (eager-commit)
// behavior: Run persists offsets right after the scan regardless of report
// outcome, matching agent.py's original at-most-once semantics.
func TestCommitAfterAck_False_SavesEagerly(t *testing.T) {
	logPath := writeLogFile(t)
	offsetPath := filepath.Join(t.TempDir(), "offsets.json")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, _ := newTestAgent(t, srv.URL, offsetPath)
	cfg := testCfg(logPath, false)

	events := a.scanOnce(cfg)
	if len(events) != 1 {
		t.Fatalf("scanOnce: got %d events, want 1", len(events))
	}
	_ = a.report(context.Background(), events) // fails; eager commit saves anyway
	if err := a.tailer.SaveOffsets(); err != nil {
		t.Fatalf("SaveOffsets: %v", err)
	}
	if got := offsets.Load(offsetPath).Get(logPath); got == 0 {
		t.Fatalf("eager commit should have persisted the offset despite the failed report")
	}
}
