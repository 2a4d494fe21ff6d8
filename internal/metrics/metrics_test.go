package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_MetricsEndpoint(t *testing.T) {
	RecordsReceived.WithLabelValues("push").Add(3)
	ChunksPublished.WithLabelValues("push", "ok").Inc()
	SetCheckpoint(time.UnixMilli(2000))

	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`rawlogs_records_received_total{path="push"}`,
		`rawlogs_chunks_published_total{path="push",status="ok"}`,
		"rawlogs_checkpoint_timestamp_seconds 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\nbody:\n%s", want, body)
		}
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain prefix", ct)
	}
}

func TestHandler_404(t *testing.T) {
	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSetCheckpoint(t *testing.T) {
	SetCheckpoint(time.UnixMilli(1500))
	if got := testutil.ToFloat64(CheckpointTimestamp); got != 1.5 {
		t.Errorf("checkpoint gauge = %v, want 1.5", got)
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer(":0")
	if srv.Addr != ":0" || srv.Handler == nil {
		t.Errorf("server = %+v", srv)
	}
}
