// Package alertdebounce implements the Alert Debouncer (C7):
// fingerprint-keyed silent-window suppression with critical-severity
// bypass, dispatching via SMTP. Decision logic grounded on
// _examples/original_source/ingest_manager.py's _handle_alert/_send_email;
// structure (a holder type with an Execute-shaped entry point) grounded on
// the teacher's internal/action/broker.go. Dispatch runs synchronously
// inside Evaluate, bounded by a 10s send timeout.
package alertdebounce

import (
	"encoding/json"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"kerngrid/internal/metrics"
	"kerngrid/internal/types"
)

// State is the fingerprint -> last-sent-epoch map (§3's Alert state),
// persisted as a whole JSON document.
type State struct {
	mu   sync.Mutex
	path string
	data map[string]int64
}

// LoadState reads path into a State; a missing/corrupt file yields an
// empty map.
func LoadState(path string) *State {
	s := &State{path: path, data: make(map[string]int64)}
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

func (s *State) get(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *State) setAndSave(key string, epoch int64) error {
	s.mu.Lock()
	s.data[key] = epoch
	b, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".alert_state-*.tmp")
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

// Debouncer evaluates and dispatches alerts per §4.7.
type Debouncer struct {
	state *State
}

// New returns a Debouncer backed by state.
func New(state *State) *Debouncer {
	return &Debouncer{state: state}
}

// Params snapshot the alerts.*/smtp.* config relevant to one decision.
type Params struct {
	Enabled        bool
	Emails         []string
	NotifyCritical bool
	SilentMinutes  int
	SMTP           types.SMTPConfig
}

// Evaluate applies the decision logic of §4.7 to evt and, if it decides to
// send, dispatches via SMTP and persists the new last-sent timestamp on
// success. Failures are logged and alert state is left untouched, so the
// next qualifying event retries (§4.7, §7).
func (d *Debouncer) Evaluate(evt types.Event, params Params) {
	if !params.Enabled || len(params.Emails) == 0 {
		return
	}
	to := params.Emails[0]

	key := types.Fingerprint(evt.Severity, evt.Type, evt.Message)
	now := time.Now().Unix()
	silent := int64(params.SilentMinutes) * 60

	critical := evt.Severity == types.SeverityCritical && params.NotifyCritical
	if !critical {
		if last, ok := d.state.get(key); ok && now-last < silent {
			return // suppressed
		}
	}

	subject := fmt.Sprintf("[%s] %s", evt.Severity, evt.Type)
	body := fmt.Sprintf(
		"Type: %s\nSeverity: %s\nDetected At: %s\nHost: %s\nSource: %s:%d\n\nMessage:\n%s\n",
		evt.Type, evt.Severity, evt.DetectedAt, evt.HostID, evt.SourceFile, evt.LineNumber, evt.Message,
	)

	if err := dispatch(params.SMTP, to, subject, body); err != nil {
		log.Printf("[ALERT] dispatch failed for %s: %v", key, err)
		return
	}
	metrics.AlertsSent.WithLabelValues(string(evt.Severity)).Inc()
	if err := d.state.setAndSave(key, now); err != nil {
		log.Printf("[ALERT] persist state failed for %s: %v", key, err)
	}
}

// resolveSMTP layers config over environment variables, per §6's
// documented SMTP fallback.
func resolveSMTP(cfg types.SMTPConfig) types.SMTPConfig {
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
			cfg.Port = p
		} else {
			cfg.Port = 25
		}
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("SMTP_USER")
	}
	if cfg.Pass == "" {
		cfg.Pass = os.Getenv("SMTP_PASS")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("SMTP_FROM")
		if cfg.From == "" {
			cfg.From = cfg.User
		}
		if cfg.From == "" {
			cfg.From = "noreply@example.com"
		}
	}
	if !cfg.TLS && os.Getenv("SMTP_TLS") == "1" {
		cfg.TLS = true
	}
	return cfg
}

// sendMail dispatches one plaintext email via net/smtp. No SMTP client
// library exists anywhere in the retrieved pack (see DESIGN.md), so this
// uses the standard library directly, with a 10s timeout per §5.
var smtpTimeout = 10 * time.Second

// dispatch is a package-level indirection so tests can substitute a fake
// transport without a live SMTP server.
var dispatch = sendMail

func sendMail(cfg types.SMTPConfig, to, subject, body string) error {
	cfg = resolveSMTP(cfg)
	if cfg.Host == "" || to == "" {
		return fmt.Errorf("smtp not configured")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", cfg.From, to, subject, body)

	var auth smtp.Auth
	if cfg.User != "" && cfg.Pass != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, cfg.From, []string{to}, []byte(msg))
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(smtpTimeout):
		return fmt.Errorf("smtp dispatch to %s timed out", addr)
	}
}
