// Package api implements the Ingest API (C8) and Query API (C10): HTTP
// endpoints for event ingestion, paginated event listing, single-event
// fetch, stats, host enumeration, and config read/update, plus the SSE
// upgrade route and the report surfacer's HTTP surface. Grounded on the
// teacher's internal/dashboard/server.go (Server/NewServer/Start shape)
// and _examples/original_source/server.py for exact endpoint semantics.
// Routing uses github.com/gorilla/mux (from sgerhart-aegisflux's
// orchestrator) for the /events/{id} path parameter the teacher's bare
// http.ServeMux can't express as cleanly.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"kerngrid/internal/alertdebounce"
	"kerngrid/internal/configloader"
	"kerngrid/internal/eventstore"
	"kerngrid/internal/report"
	"kerngrid/internal/sse"
	"kerngrid/internal/stats"
	"kerngrid/internal/types"
)

// Server wires every query/ingest dependency behind an http.Handler.
type Server struct {
	store      *eventstore.Store
	statsEng   *stats.Engine
	debouncer  *alertdebounce.Debouncer
	broker     *sse.Broadcaster
	surfacer   *report.Surfacer
	configPath string
	hostID     string
	startedAt  time.Time

	router *mux.Router
}

// NewServer wires the dependencies into a routed handler.
func NewServer(store *eventstore.Store, statsEng *stats.Engine, debouncer *alertdebounce.Debouncer, broker *sse.Broadcaster, configPath string) *Server {
	hostID, _ := os.Hostname()
	s := &Server{
		store:      store,
		statsEng:   statsEng,
		debouncer:  debouncer,
		broker:     broker,
		configPath: configPath,
		hostID:     hostID,
		startedAt:  time.Now(),
	}
	s.reloadSurfacer()
	s.router = s.buildRouter()
	return s
}

func (s *Server) reloadSurfacer() {
	cfg, err := configloader.Load(s.configPath)
	if err != nil {
		cfg = configloader.Default()
	}
	s.surfacer = report.New(cfg.Report)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		s.handleOptions(w, r)
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/hosts", s.handleHosts).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)
	api.HandleFunc("/stream", s.broker.ServeHTTP).Methods(http.MethodGet)
	api.HandleFunc("/report", s.handleGetReport).Methods(http.MethodGet)
	api.HandleFunc("/report/generate", s.handlePostReportGenerate).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, types.CodeNotFound, "unknown path", nil)
	})
	return r
}

// handleOptions answers CORS preflight requests, matching server.py's
// do_OPTIONS — the out-of-scope dashboard front-end is a browser client
// of this interface and needs it to function at all (SPEC_FULL.md §5).
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, X-Ingest-Token")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	writeJSON(w, status, types.ErrorEnvelope{
		Status:  status,
		Code:    code,
		Message: message,
		TraceID: uuid.NewString(),
		Details: details,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.All()
	count := 0
	if err == nil {
		count = len(all)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"host_id":     s.hostID,
		"uptime_sec":  int(time.Since(s.startedAt).Seconds()),
		"event_count": count,
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.surfacer.Fetch(r.Context()))
}

func (s *Server) handlePostReportGenerate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.surfacer.Generate(r.Context()))
}
