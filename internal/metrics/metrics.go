// Package metrics exposes prometheus collectors for the bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TokenRefreshes counts access token refresh attempts by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "originbridge_token_refresh_total",
		Help: "Total number of access token refreshes.",
	}, []string{"result"}) // result: ok, transient, lost

	LocalScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "originbridge_local_scan_duration_seconds",
		Help:    "Duration of local game scans in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "originbridge_backend_requests_total",
		Help: "Total number of backend requests by HTTP status.",
	}, []string{"status"}) // status: HTTP code or "error" for transport failures

	CacheFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "originbridge_cache_fetch_failures_total",
		Help: "Total number of failed fetches while filling the persistent cache.",
	}, []string{"bucket"})
)

// RecordScanDuration records the time taken for a local game scan.
func RecordScanDuration(start time.Time) {
	LocalScanDuration.Observe(time.Since(start).Seconds())
}

// RecordBackendStatus counts one completed backend request; code 0 means transport failure.
func RecordBackendStatus(code int) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	BackendRequests.WithLabelValues(label).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
