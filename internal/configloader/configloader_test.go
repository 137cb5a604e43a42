package configloader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Detection.ScanIntervalSec != want.Detection.ScanIntervalSec || cfg.Security.IngestToken != want.Security.IngestToken {
		t.Fatalf("Load on missing file = %+v, want default %+v", cfg, want)
	}
}

func TestLoadMergesPartialDocumentOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"detection":{"scan_interval_sec":120}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.ScanIntervalSec != 120 {
		t.Fatalf("scan_interval_sec = %d, want 120", cfg.Detection.ScanIntervalSec)
	}
	if cfg.Detection.RetentionDays != Default().Detection.RetentionDays {
		t.Fatalf("retention_days = %d, want default %d", cfg.Detection.RetentionDays, Default().Detection.RetentionDays)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Security.IngestToken = "secret"
	cfg.Alerts.Emails = []string{"ops@example.com"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Security.IngestToken != "secret" || len(got.Alerts.Emails) != 1 || got.Alerts.Emails[0] != "ops@example.com" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSaveWritesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("saved config is not valid JSON: %v", err)
	}
}
