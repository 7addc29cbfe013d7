// Package metrics provides Prometheus metrics for the offline layer.
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
	// Local cache metrics
	cacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_cache_reads_total",
			Help: "Expiring cache reads by resource and result (hit, stale, miss, corrupt)",
		},
		[]string{"resource", "result"},
	)

	cacheWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_cache_write_errors_total",
			Help: "Failed cache writes swallowed by the expiring cache",
		},
		[]string{"resource"},
	)

	// Data hook metrics
	hookRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_hook_refreshes_total",
			Help: "Data hook refreshes by resource and outcome (network, stored_response, cache, empty)",
		},
		[]string{"resource", "outcome"},
	)

	hookRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantao_hook_refresh_duration_seconds",
			Help:    "Data hook refresh duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	// Connectivity metrics
	networkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantao_network_online",
			Help: "1 if the backend is considered reachable",
		},
	)

	networkTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_network_transitions_total",
			Help: "Connectivity transitions",
		},
		[]string{"to"},
	)

	// Remote collaborator metrics
	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantao_remote_request_duration_seconds",
			Help:    "Remote data request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "resource", "status"},
	)

	responseCacheServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantao_response_cache_served_total",
			Help: "Responses served from the runtime response cache after a transport failure",
		},
	)

	// License metrics
	licenseChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_license_checks_total",
			Help: "License gate checks by source and result",
		},
		[]string{"source", "result"},
	)

	licenseCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantao_license_cache_size",
			Help: "Number of licenses in the offline license cache",
		},
	)

	licenseSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_license_syncs_total",
			Help: "Bulk license syncs by status",
		},
		[]string{"status"},
	)

	// Session guard metrics
	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantao_session_transitions_total",
			Help: "Session-loss guard state transitions",
		},
		[]string{"from", "to"},
	)

	// Safe mode metrics
	safeModeActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantao_safe_mode_active",
			Help: "1 while safe mode is active",
		},
	)

	safeModeActivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantao_safe_mode_activations_total",
			Help: "Total safe mode activations",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheRead records an expiring cache read.
func RecordCacheRead(resource, result string) {
	cacheReadsTotal.WithLabelValues(resource, result).Inc()
}

// RecordCacheWriteError records a swallowed cache write failure.
func RecordCacheWriteError(resource string) {
	cacheWriteErrorsTotal.WithLabelValues(resource).Inc()
}

// RecordHookRefresh records a data hook refresh outcome.
func RecordHookRefresh(resource, outcome string, duration time.Duration) {
	hookRefreshesTotal.WithLabelValues(resource, outcome).Inc()
	hookRefreshDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// SetNetworkOnline records the current connectivity state.
func SetNetworkOnline(online bool) {
	if online {
		networkOnline.Set(1)
	} else {
		networkOnline.Set(0)
	}
}

// RecordNetworkTransition records a connectivity transition.
func RecordNetworkTransition(online bool) {
	to := "offline"
	if online {
		to = "online"
	}
	networkTransitionsTotal.WithLabelValues(to).Inc()
	SetNetworkOnline(online)
}

// RecordRemoteRequest records a remote data request.
func RecordRemoteRequest(source, resource string, status int, duration time.Duration) {
	remoteRequestDuration.WithLabelValues(source, resource, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordResponseCacheServed records a response served from the runtime cache.
func RecordResponseCacheServed() {
	responseCacheServedTotal.Inc()
}

// RecordLicenseCheck records a license gate decision.
func RecordLicenseCheck(source string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	licenseChecksTotal.WithLabelValues(source, result).Inc()
}

// SetLicenseCacheSize sets the offline license cache size.
func SetLicenseCacheSize(n int) {
	licenseCacheSize.Set(float64(n))
}

// RecordLicenseSync records a bulk license sync.
func RecordLicenseSync(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	licenseSyncsTotal.WithLabelValues(status).Inc()
}

// RecordSessionTransition records a session guard transition.
func RecordSessionTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSafeMode records safe mode being switched on or off.
func RecordSafeMode(active bool) {
	if active {
		safeModeActivationsTotal.Inc()
		safeModeActive.Set(1)
		return
	}
	safeModeActive.Set(0)
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var statusRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "plantao_status_request_duration_seconds",
		Help:    "Status endpoint request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// Middleware returns HTTP middleware that records status endpoint metrics.
// It must wrap the ServeMux directly so the matched pattern is visible.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		// The matched pattern keeps document numbers out of label values.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		statusRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}
