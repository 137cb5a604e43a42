// Package types holds the data model shared across kerngrid: the agent, the
// ingest/query server, and every background loop in between.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AnomalyType is one of the six kernel fault categories kerngrid recognizes.
type AnomalyType string

const (
	TypeOOM              AnomalyType = "oom"
	TypeKernelPanic      AnomalyType = "kernel_panic"
	TypeUnexpectedReboot AnomalyType = "unexpected_reboot"
	TypeFSError          AnomalyType = "fs_error"
	TypeOops             AnomalyType = "oops"
	TypeDeadlock         AnomalyType = "deadlock"
)

// AllTypes lists every recognized anomaly type, in the canonical order used
// when enumerating defaults.
var AllTypes = []AnomalyType{
	TypeOOM, TypeKernelPanic, TypeUnexpectedReboot, TypeFSError, TypeOops, TypeDeadlock,
}

// Severity is the fixed classification of how serious an anomaly type is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// severityTable is the fixed type→severity mapping from spec §3.
var severityTable = map[AnomalyType]Severity{
	TypeKernelPanic:      SeverityCritical,
	TypeOOM:              SeverityMajor,
	TypeUnexpectedReboot: SeverityMajor,
	TypeFSError:          SeverityMajor,
	TypeOops:             SeverityMinor,
	TypeDeadlock:         SeverityMajor,
}

// SeverityFor returns the severity for t, defaulting to minor for an unknown
// type (never errors: severity is a pure, total function of type).
func SeverityFor(t AnomalyType) Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return SeverityMinor
}

// SchemaVersion is the fixed schema tag stamped on every persisted Event.
const SchemaVersion = "1.0"

// Event is the canonical, persisted record of a single classified log line.
type Event struct {
	SchemaVersion string      `json:"schema_version"`
	ID            string      `json:"id"`
	Type          AnomalyType `json:"type"`
	Severity      Severity    `json:"severity"`
	Message       string      `json:"message"`
	SourceFile    string      `json:"source_file"`
	LineNumber    int         `json:"line_number"`
	DetectedAt    string      `json:"detected_at"`
	HostID        string      `json:"host_id"`
	Processed     bool        `json:"processed"`
}

// ComputeID derives the deterministic Event id: the first 16 hex characters
// of sha256(host|source|lineno|detected_at|message), per spec §3/§8
// invariant 2.
func ComputeID(host, source string, lineNumber int, detectedAt, message string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%s", host, source, lineNumber, detectedAt, message)))
	return hex.EncodeToString(sum[:])[:16]
}

// Fingerprint derives the alert-debounce fingerprint: sha256 over
// severity|type|message truncated to 120 bytes, per §3/§4.7.
func Fingerprint(severity Severity, t AnomalyType, message string) string {
	if len(message) > 120 {
		message = message[:120]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", severity, t, message)))
	return hex.EncodeToString(sum[:])
}

// DetectionMode controls how the Classifier matches a type's rule set
// against a log line.
type DetectionMode string

const (
	ModeKeyword DetectionMode = "keyword"
	ModeRegex   DetectionMode = "regex"
	ModeMixed   DetectionMode = "mixed"
)

// DetectorConfig is one type's keyword/regex rule set.
type DetectorConfig struct {
	Name           string        `yaml:"name" json:"name"`
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Keywords       []string      `yaml:"keywords" json:"keywords"`
	RegexPatterns  []string      `yaml:"regex_patterns" json:"regex_patterns"`
	DetectionMode  DetectionMode `yaml:"detection_mode" json:"detection_mode"`
}

// DetectionConfig is the detection.* section of the Configuration document.
type DetectionConfig struct {
	LogPaths              []string `json:"log_paths"`
	ScanIntervalSec       int      `json:"scan_interval_sec"`
	RetentionDays         int      `json:"retention_days"`
	RetentionMaxEvents    int      `json:"retention_max_events"`
	EnabledDetectors      []string `json:"enabled_detectors"`
	SearchMode            string   `json:"search_mode"`
	LocalDetectionEnabled bool     `json:"local_detection_enabled"`
}

// AlertsConfig is the alerts.* section of the Configuration document.
type AlertsConfig struct {
	Enabled        bool     `json:"enabled"`
	Emails         []string `json:"emails"`
	NotifyCritical bool     `json:"notify_critical"`
	SilentMinutes  int      `json:"silent_minutes"`
}

// SMTPConfig is the smtp.* section; empty fields fall back to environment
// variables (spec §6).
type SMTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
	From string `json:"from"`
	TLS  bool   `json:"tls"`
}

// SecurityConfig is the security.* section.
type SecurityConfig struct {
	IngestToken   string `json:"ingest_token"`
	SSEMaxClients int    `json:"sse_max_clients"`
}

// UIConfig is the ui.* section; kerngrid's core only serves it through to
// clients, never interprets it (the dashboard front-end is out of scope).
type UIConfig struct {
	AutoRefreshSec int    `json:"auto_refresh_sec"`
	PageSize       int    `json:"page_size"`
	TimeFormat     string `json:"time_format"`
}

// ReportConfig configures the report-surfacer (SPEC_FULL.md §5); it has no
// counterpart in spec.md's Configuration document and is additive.
type ReportConfig struct {
	RemoteURL  string `json:"remote_url"`
	LocalPath  string `json:"local_path"`
	GenerateCmd string `json:"generate_cmd"`
}

// AgentConfig configures Agent-only behavior; additive per spec §9's open
// question on strict-delivery offset commit.
type AgentConfig struct {
	CommitAfterAck bool `json:"commit_after_ack"`
}

// Configuration is the whole read-through config document (spec §3).
type Configuration struct {
	SchemaVersion string          `json:"schema_version"`
	Detection     DetectionConfig `json:"detection"`
	Alerts        AlertsConfig    `json:"alerts"`
	SMTP          SMTPConfig      `json:"smtp"`
	Security      SecurityConfig  `json:"security"`
	UI            UIConfig        `json:"ui"`
	Report        ReportConfig    `json:"report"`
	Agent         AgentConfig     `json:"agent"`
}

// Summary is the on-demand aggregate computed by the stats engine.
type Summary struct {
	Date          string           `json:"date"`
	Total         int              `json:"total"`
	BySeverity    map[string]int   `json:"by_severity"`
	ByType        map[string]int   `json:"by_type"`
	ByHost        map[string]int   `json:"by_host"`
	Hosts         []string         `json:"hosts"`
	LastDetection string           `json:"last_detection"`
	LastScan      string           `json:"last_scan"`
}

// ErrorEnvelope is the shared error body for every API failure (spec §6).
type ErrorEnvelope struct {
	Status  int                    `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	TraceID string                 `json:"trace_id"`
	Details map[string]interface{} `json:"details,omitempty"`
}

const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
)
