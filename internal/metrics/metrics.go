// Package metrics exposes kerngrid's Prometheus metrics. The teacher's
// cmd/ai-guardd/main.go already calls a metrics.StartServer/EventsProcessed
// package that was never actually committed to that repo; this builds it
// for real using github.com/prometheus/client_golang, which the teacher's
// go.mod already carried (indirectly) for exactly this purpose.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kerngrid_events_processed_total",
		Help: "Total number of classified events persisted to the Event Store.",
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kerngrid_alerts_sent_total",
		Help: "Total number of alerts dispatched, by severity.",
	}, []string{"severity"})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kerngrid_sse_clients",
		Help: "Current number of connected SSE clients.",
	})

	RetentionRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kerngrid_retention_runs_total",
		Help: "Total number of Retention GC passes executed.",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kerngrid_config_reloads_total",
		Help: "Total number of configuration reloads observed.",
	})
)

// StartServer runs a Prometheus /metrics HTTP server on addr in its own
// goroutine, matching the teacher's main.go's metrics.StartServer(":9090")
// call pattern.
func StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
