package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devsync_sync_total", Help: "Sync attempts that reached a terminal state"},
		[]string{"type", "result"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsync_sync_duration_seconds",
			Help:    "Wall time of a single device sync",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"type"},
	)
	ProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devsync_scan_probe_failures_total", Help: "Scanner probes that failed and were skipped"},
		[]string{"probe"},
	)
	Devices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "devsync_devices", Help: "Registered devices by status"},
		[]string{"status"},
	)
	RegistryRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "devsync_registry_recoveries_total", Help: "Registry self-repairs on load"},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(SyncTotal, SyncDuration, ProbeFailures, Devices, RegistryRecoveries)
}

// ObserveSync records one finished sync attempt.
func ObserveSync(deviceType, result string, took time.Duration) {
	SyncTotal.WithLabelValues(deviceType, result).Inc()
	SyncDuration.WithLabelValues(deviceType).Observe(took.Seconds())
}

// SetDeviceCounts replaces the per-status gauge values.
func SetDeviceCounts(counts map[string]int) {
	Devices.Reset()
	for status, n := range counts {
		Devices.WithLabelValues(status).Set(float64(n))
	}
}

// Handler exposes the default gatherer for embedding in another mux.
func Handler() http.Handler { return promhttp.Handler() }

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
