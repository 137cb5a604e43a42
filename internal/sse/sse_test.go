package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kerngrid/internal/eventstore"
)

func newTestBroadcaster(t *testing.T, maxClients int) *Broadcaster {
	t.Helper()
	store := eventstore.New(filepath.Join(t.TempDir(), "anomalies.ndjson"))
	return New(store, maxClients)
}

func serveAndCancel(b *Broadcaster, d time.Duration) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	b.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_SendsOpenHandshake(t *testing.T) {
	b := newTestBroadcaster(t, 0)
	rec := serveAndCancel(b, 50*time.Millisecond)
	if !strings.Contains(rec.Body.String(), "event: open") {
		t.Errorf("got body %q, want an 'open' event", rec.Body.String())
	}
}

func TestServeHTTP_RejectsOverCap(t *testing.T) {
	b := newTestBroadcaster(t, 1)

	// Register one long-lived client directly to occupy the single slot.
	rec1 := httptest.NewRecorder()
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	req1 := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx1)
	go b.ServeHTTP(rec1, req1)
	time.Sleep(20 * time.Millisecond)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	b.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503 when at capacity", rec2.Code)
	}
}

func TestWriteEventFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	c := &client{id: 1, w: rec, fl: rec}
	if !writeEvent(c, "anomaly", `{"id":"abc"}`, "abc") {
		t.Fatalf("writeEvent returned false unexpectedly")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "id: abc\n") || !strings.Contains(body, "event: anomaly\n") {
		t.Errorf("got %q, missing expected SSE frame fields", body)
	}
}
