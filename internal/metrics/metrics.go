package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline instrumentation. Path labels are "pull" (store extraction) or "push" (HTTP ingestion).
var (
	RecordsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_records_received_total",
		Help: "Records read from the store or an HTTP body",
	}, []string{"path"})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_records_rejected_total",
		Help: "Records dropped before publishing: unreadable timestamp or larger than the payload ceiling",
	}, []string{"path"})

	RecordsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_records_published_total",
		Help: "Records carried by successfully published chunks",
	}, []string{"path"})

	ChunksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_chunks_published_total",
		Help: "Transport messages by outcome",
	}, []string{"path", "status"})

	WindowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_windows_processed_total",
		Help: "Pull-path windows by outcome",
	}, []string{"status"})

	WindowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rawlogs_window_duration_seconds",
		Help:    "Time to query, publish and checkpoint one window",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	CheckpointTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rawlogs_checkpoint_timestamp_seconds",
		Help: "Last persisted checkpoint as Unix epoch seconds",
	})

	SchedulerLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rawlogs_scheduler_lag_seconds",
		Help: "How far the last window overran the scheduler period",
	})

	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rawlogs_ingest_requests_total",
		Help: "HTTP ingestion requests by response code",
	}, []string{"code"})
)

// SetCheckpoint records the persisted checkpoint.
func SetCheckpoint(t time.Time) {
	CheckpointTimestamp.Set(float64(t.UnixMilli()) / 1000)
}

// Handler returns an http.Handler serving the Prometheus exposition at /metrics
// and 404 elsewhere.
func Handler() http.Handler {
	prom := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		prom.ServeHTTP(w, r)
	})
}

// NewServer returns an unstarted server for addr (e.g. ":9090") serving /metrics.
func NewServer(addr string) *http.Server {
	return &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
}
