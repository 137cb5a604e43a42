package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"kerngrid/internal/configloader"
	"kerngrid/internal/metrics"
	"kerngrid/internal/types"
)

// handleStats serves GET /api/v1/stats?window=&host_id=.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sum, err := s.statsEng.Compute(q.Get("window"), q.Get("host_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to compute stats", nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleGetEvent serves GET /api/v1/events/{id}: a linear scan of the Event
// Store, per spec §4.10 ("Query API reads are O(n) over the store; no index
// is maintained"). Grounded on server.py's _handle_get_event.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var found *types.Event
	err := s.store.Iterate(func(evt types.Event) error {
		if evt.ID == id {
			e := evt
			found = &e
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to read event store", nil)
		return
	}
	if found == nil {
		writeError(w, http.StatusNotFound, types.CodeNotFound, "event not found", map[string]interface{}{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type eventsPage struct {
	Items   []types.Event `json:"items"`
	Page    int           `json:"page"`
	Size    int           `json:"size"`
	Total   int           `json:"total"`
	HasNext bool          `json:"has_next"`
}

// handleListEvents serves GET /api/v1/events with the full filter/sort/
// paginate contract of spec §4.10.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var startT, endT time.Time
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid start timestamp", map[string]interface{}{"param": "start"})
			return
		}
		startT = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid end timestamp", map[string]interface{}{"param": "end"})
			return
		}
		endT = t
	}

	severities := map[string]bool{}
	for _, v := range q["severity"] {
		if v != "" {
			severities[v] = true
		}
	}
	typeSet := map[string]bool{}
	if v := q.Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				typeSet[t] = true
			}
		}
	}
	keyword := strings.ToLower(strings.TrimSpace(q.Get("keyword")))
	hostID := q.Get("host_id")

	page, err := parsePositiveIntOrDefault(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid page", map[string]interface{}{"param": "page"})
		return
	}
	size, err := parsePositiveIntOrDefault(q.Get("size"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid size", map[string]interface{}{"param": "size"})
		return
	}

	sortSpec := q.Get("sort")
	if sortSpec == "" {
		sortSpec = "detected_at:desc"
	}
	sortField, sortDesc, err := parseSort(sortSpec)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid sort", map[string]interface{}{"param": "sort"})
		return
	}

	var matched []types.Event
	err = s.store.Iterate(func(evt types.Event) error {
		if hostID != "" && evt.HostID != hostID {
			return nil
		}
		if len(severities) > 0 && !severities[string(evt.Severity)] {
			return nil
		}
		if len(typeSet) > 0 && !typeSet[string(evt.Type)] {
			return nil
		}
		if keyword != "" {
			hay := strings.ToLower(evt.Message) + " " + strings.ToLower(evt.SourceFile)
			if !strings.Contains(hay, keyword) {
				return nil
			}
		}
		if !startT.IsZero() || !endT.IsZero() {
			t, perr := time.Parse(time.RFC3339, evt.DetectedAt)
			if perr != nil {
				return nil
			}
			if !startT.IsZero() && t.Before(startT) {
				return nil
			}
			if !endT.IsZero() && t.After(endT) {
				return nil
			}
		}
		matched = append(matched, evt)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to read event store", nil)
		return
	}

	sortEvents(matched, sortField, sortDesc)

	total := len(matched)
	from := (page - 1) * size
	if from > total {
		from = total
	}
	to := from + size
	if to > total {
		to = total
	}
	items := matched[from:to]
	if items == nil {
		items = []types.Event{}
	}

	writeJSON(w, http.StatusOK, eventsPage{
		Items:   items,
		Page:    page,
		Size:    size,
		Total:   total,
		HasNext: to < total,
	})
}

func parsePositiveIntOrDefault(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func parseSort(spec string) (field string, desc bool, err error) {
	parts := strings.SplitN(spec, ":", 2)
	field = parts[0]
	desc = true
	if len(parts) == 2 {
		switch parts[1] {
		case "asc":
			desc = false
		case "desc":
			desc = true
		default:
			return "", false, strconv.ErrSyntax
		}
	}
	switch field {
	case "detected_at", "severity", "type", "host_id":
	default:
		return "", false, strconv.ErrSyntax
	}
	return field, desc, nil
}

func sortEvents(events []types.Event, field string, desc bool) {
	less := func(i, j int) bool {
		var a, b string
		switch field {
		case "severity":
			a, b = string(events[i].Severity), string(events[j].Severity)
		case "type":
			a, b = string(events[i].Type), string(events[j].Type)
		case "host_id":
			a, b = events[i].HostID, events[j].HostID
		default:
			a, b = events[i].DetectedAt, events[j].DetectedAt
		}
		if desc {
			return a > b
		}
		return a < b
	}
	sort.SliceStable(events, less)
}

// handleHosts serves GET /api/v1/hosts: distinct sorted host ids seen in the
// Event Store.
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	err := s.store.Iterate(func(evt types.Event) error {
		if evt.HostID != "" {
			seen[evt.HostID] = true
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to read event store", nil)
		return
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hosts})
}

// handleGetConfig serves GET /api/v1/config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := configloader.Load(s.configPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to read config", nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

var allowedConfigKeys = map[string]bool{
	"schema_version": true,
	"detection":      true,
	"alerts":         true,
	"smtp":           true,
	"security":       true,
	"ui":             true,
	"report":         true,
	"agent":          true,
}

var emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// handlePutConfig serves PUT /api/v1/config: validates the whole document
// per §4.9/invariant 8 (stored config unchanged on any validation failure),
// then atomically rewrites it. Grounded on server.py's _handle_put_config.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "failed to read request body", nil)
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "malformed config document", nil)
		return
	}
	for k := range raw {
		if !allowedConfigKeys[k] {
			writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "unknown config key", map[string]interface{}{"key": k})
			return
		}
	}

	cfg := configloader.Default()
	if err := json.Unmarshal(body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "malformed config document", nil)
		return
	}

	if field, ok := validateConfig(cfg); !ok {
		writeError(w, http.StatusBadRequest, types.CodeInvalidArgument, "invalid config value", map[string]interface{}{"field": field})
		return
	}

	if err := configloader.Save(s.configPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to persist config", nil)
		return
	}
	s.reloadSurfacer()
	metrics.ConfigReloads.Inc()
	writeJSON(w, http.StatusOK, cfg)
}

func validateConfig(cfg types.Configuration) (field string, ok bool) {
	if cfg.Detection.ScanIntervalSec < 5 || cfg.Detection.ScanIntervalSec > 3600 {
		return "detection.scan_interval_sec", false
	}
	if cfg.Detection.RetentionDays < 1 || cfg.Detection.RetentionDays > 365 {
		return "detection.retention_days", false
	}
	if cfg.Detection.RetentionMaxEvents < 1 || cfg.Detection.RetentionMaxEvents > 1_000_000 {
		return "detection.retention_max_events", false
	}
	if len(cfg.Alerts.Emails) > 0 && !emailRE.MatchString(cfg.Alerts.Emails[0]) {
		return "alerts.emails[0]", false
	}
	return "", true
}
