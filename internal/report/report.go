// Package report surfaces the externally-generated analysis artifact
// (SPEC_FULL.md §5): a GET that fetches markdown (remote HTTP, then local
// file, then placeholder) and a POST that invokes the external generator
// with a bounded timeout, never generating the report itself. Grounded on
// _examples/original_source/ai_provider.py (remote-then-local-file
// fallback for suggestions(), subprocess timeout for generate()) and the
// teacher's internal/explain/llm.go (http.Client{Timeout}) /
// internal/action/executor.go (exec.Command) patterns.
package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"kerngrid/internal/types"
)

// fetchTimeout matches §5's remote-fetch budget for the report surfacer.
const fetchTimeout = 10 * time.Second

// generateTimeout matches §5's external-generator subprocess budget.
const generateTimeout = 60 * time.Second

// Report is the GET /api/v1/report response shape.
type Report struct {
	Title     string `json:"title"`
	Markdown  string `json:"markdown"`
	UpdatedAt string `json:"updated_at"`
}

// GenerateResult is the POST /api/v1/report/generate response shape.
type GenerateResult struct {
	Generated  bool   `json:"generated"`
	ReturnCode int    `json:"returncode"`
	ReportPath string `json:"report_path"`
	UpdatedAt  string `json:"updated_at"`
}

// Surfacer fetches or invokes the external report artifact.
type Surfacer struct {
	client *http.Client
	cfg    types.ReportConfig
}

// New returns a Surfacer configured per cfg.
func New(cfg types.ReportConfig) *Surfacer {
	return &Surfacer{
		client: &http.Client{Timeout: fetchTimeout},
		cfg:    cfg,
	}
}

// Fetch implements GET /api/v1/report: remote URL first, then local file,
// then a placeholder explaining neither source is available.
func (s *Surfacer) Fetch(ctx context.Context) Report {
	now := time.Now().UTC().Format(time.RFC3339)

	if s.cfg.RemoteURL != "" {
		if md, err := s.fetchRemote(ctx); err == nil {
			return Report{Title: "kernel anomaly report", Markdown: md, UpdatedAt: now}
		}
	}
	if s.cfg.LocalPath != "" {
		if b, err := os.ReadFile(s.cfg.LocalPath); err == nil {
			return Report{Title: "kernel anomaly report", Markdown: string(b), UpdatedAt: now}
		}
	}
	return Report{
		Title:     "kernel anomaly report",
		Markdown:  "_no report available: neither report.remote_url nor report.local_path produced content_",
		UpdatedAt: now,
	}
}

func (s *Surfacer) fetchRemote(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.RemoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("remote report fetch: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Generate implements POST /api/v1/report/generate: runs the configured
// external command with a bounded timeout and surfaces its outcome. It
// never produces report content itself — the generator (out of scope per
// spec.md's Non-goals) does.
func (s *Surfacer) Generate(ctx context.Context) GenerateResult {
	now := time.Now().UTC().Format(time.RFC3339)
	if strings.TrimSpace(s.cfg.GenerateCmd) == "" {
		return GenerateResult{Generated: false, ReturnCode: -1, UpdatedAt: now}
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	fields := strings.Fields(s.cfg.GenerateCmd)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	err := cmd.Run()

	rc := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			rc = -1
		}
	}

	return GenerateResult{
		Generated:  err == nil,
		ReturnCode: rc,
		ReportPath: s.cfg.LocalPath,
		UpdatedAt:  now,
	}
}
