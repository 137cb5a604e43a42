package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"kerngrid/internal/alertdebounce"
	"kerngrid/internal/configloader"
	"kerngrid/internal/metrics"
	"kerngrid/internal/types"
)

type ingestRequest struct {
	Events []types.Event `json:"events"`
	Event  *types.Event  `json:"event"`
	Token  string        `json:"token"`
}

type ingestResponse struct {
	Status    string `json:"status"`
	Received  int    `json:"received"`
	Processed int    `json:"processed"`
}

// handleIngest accepts a batch (`{"events":[...]}`), or a single bare Event
// object, or (rarely) `{"event": {...}}`, defaults missing fields, persists
// each to the Event Store (the SSE broadcaster picks it up by tailing the
// store) and evaluates the Alert Debouncer, per spec §4.8. Grounded on
// server.py's _handle_ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "failed to read request body", nil)
		return
	}

	var req ingestRequest
	events, single, tokenFromBody, ok := decodeIngestBody(body, &req)
	if !ok {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "malformed ingest payload", nil)
		return
	}
	if single != nil {
		events = append(events, *single)
	}

	cfg, err := configloader.Load(s.configPath)
	if err != nil {
		cfg = configloader.Default()
	}
	if !s.checkIngestToken(w, r, cfg, tokenFromBody) {
		return
	}

	hostFallback, _ := os.Hostname()
	processed := 0
	for i := range events {
		// §4.8 step 1: reject (skip, don't 400 the whole batch) any event
		// missing type or message, matching server.py's "if 'type' not in ev
		// or 'message' not in ev: continue".
		if events[i].Type == "" || events[i].Message == "" {
			continue
		}
		fillDefaults(&events[i], hostFallback)
		if err := s.store.Append(events[i]); err != nil {
			log.Printf("[API] append event: %v", err)
			continue
		}
		processed++
		metrics.EventsProcessed.Inc()
		s.debouncer.Evaluate(events[i], alertParamsFrom(cfg))
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "success",
		Received:  len(events),
		Processed: processed,
	})
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 8<<20))
}

// decodeIngestBody tries, in order: a batch envelope with "events", a wrapper
// with a single "event", and finally a bare Event object at the top level —
// matching server.py's isinstance(payload, list)/"events" in payload checks.
func decodeIngestBody(body []byte, req *ingestRequest) (events []types.Event, single *types.Event, token string, ok bool) {
	if err := json.Unmarshal(body, req); err == nil && (len(req.Events) > 0 || req.Event != nil || req.Token != "") {
		if req.Event != nil {
			single = req.Event
		} else if len(req.Events) == 0 {
			// A bare Event object that carries its token in the body.
			var bare types.Event
			if json.Unmarshal(body, &bare) == nil && bare.Message != "" {
				single = &bare
			}
		}
		return req.Events, single, req.Token, true
	}
	var bare types.Event
	if err := json.Unmarshal(body, &bare); err == nil && bare.Message != "" {
		return nil, &bare, "", true
	}
	// A well-formed but empty batch, e.g. {"events":[]}, is valid.
	var batchOnly struct {
		Events []types.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &batchOnly); err == nil && batchOnly.Events != nil {
		return batchOnly.Events, nil, "", true
	}
	return nil, nil, "", false
}

// checkIngestToken enforces security.ingest_token when it is configured
// (a non-empty string is kerngrid's "token required" sentinel; the Go
// equivalent of the prototype's "<redacted>" placeholder is the empty
// default from configloader.Default(), documented in DESIGN.md).
func (s *Server) checkIngestToken(w http.ResponseWriter, r *http.Request, cfg types.Configuration, tokenFromBody string) bool {
	expected := cfg.Security.IngestToken
	if expected == "" {
		return true
	}
	got := r.Header.Get("X-Ingest-Token")
	if got == "" {
		got = tokenFromBody
	}
	if got != expected {
		writeError(w, http.StatusUnauthorized, types.CodeUnauthorized, "invalid or missing ingest token", nil)
		return false
	}
	return true
}

func fillDefaults(e *types.Event, hostFallback string) {
	if e.SchemaVersion == "" {
		e.SchemaVersion = types.SchemaVersion
	}
	if e.DetectedAt == "" {
		e.DetectedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if e.HostID == "" {
		e.HostID = hostFallback
	}
	if e.Severity == "" {
		e.Severity = types.SeverityFor(e.Type)
	}
	if e.ID == "" {
		e.ID = types.ComputeID(e.HostID, e.SourceFile, e.LineNumber, e.DetectedAt, e.Message)
	}
}

func alertParamsFrom(cfg types.Configuration) alertdebounce.Params {
	return alertdebounce.Params{
		Enabled:        cfg.Alerts.Enabled,
		Emails:         cfg.Alerts.Emails,
		NotifyCritical: cfg.Alerts.NotifyCritical,
		SilentMinutes:  cfg.Alerts.SilentMinutes,
		SMTP:           cfg.SMTP,
	}
}
