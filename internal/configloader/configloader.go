// Package configloader reads and writes the whole-document Configuration
// (§3/§6): a single JSON file, read-through with sane defaults on a
// missing file, mutated only by atomic whole-document rewrite. Grounded
// on _examples/original_source/config.py's ensure_dirs/read_config/
// write_config, extended per SPEC_FULL.md §2 and §5 with the agent.* and
// report.* blocks the Python prototype never had.
package configloader

import (
	"encoding/json"
	"os"
	"path/filepath"

	"kerngrid/internal/types"
)

// Default returns the built-in default Configuration, matching
// config.py's ensure_dirs seed document plus SPEC_FULL.md's additions.
func Default() types.Configuration {
	return types.Configuration{
		SchemaVersion: types.SchemaVersion,
		Detection: types.DetectionConfig{
			LogPaths:              []string{"/var/log"},
			ScanIntervalSec:       60,
			RetentionDays:         30,
			RetentionMaxEvents:    50000,
			EnabledDetectors:      []string{"oom", "kernel_panic", "unexpected_reboot", "fs_error", "oops", "deadlock"},
			SearchMode:            "mixed",
			LocalDetectionEnabled: true,
		},
		Alerts: types.AlertsConfig{
			Enabled:        false,
			Emails:         nil,
			NotifyCritical: true,
			SilentMinutes:  30,
		},
		UI: types.UIConfig{
			AutoRefreshSec: 30,
			PageSize:       20,
			TimeFormat:     "24h",
		},
		Security: types.SecurityConfig{
			IngestToken:   "",
			SSEMaxClients: 100,
		},
		Report: types.ReportConfig{},
		Agent:  types.AgentConfig{CommitAfterAck: false},
	}
}

// Load reads the Configuration document at path, returning Default() if
// the file does not exist.
func Load(path string) (types.Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return types.Configuration{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return types.Configuration{}, err
	}
	return cfg, nil
}

// Save atomically rewrites the whole Configuration document to path
// (temp file + rename), matching every other atomic-write writer in this
// module.
func Save(path string, cfg types.Configuration) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
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
	return os.Rename(tmpName, path)
}
