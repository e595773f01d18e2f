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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	reportsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_created_total",
			Help: "Total number of reports created",
		},
		[]string{"kind", "severity"},
	)

	reportStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_status_changed_total",
			Help: "Total number of report status changes",
		},
		[]string{"from_status", "to_status"},
	)

	dispatchesAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatches_assigned_total",
			Help: "Total number of dispatch assignments",
		},
	)

	dispatchStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_status_changed_total",
			Help: "Total number of dispatch status changes",
		},
		[]string{"from_status", "to_status"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"action", "decision", "reason"},
	)

	registryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_events_total",
			Help: "Total number of vehicle registry events ingested",
		},
		[]string{"type"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordReportCreated records a report creation
func RecordReportCreated(kind, severity string) {
	reportsCreated.WithLabelValues(kind, severity).Inc()
}

// RecordReportStatusChange records a report status change
func RecordReportStatusChange(fromStatus, toStatus string) {
	reportStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordDispatchAssigned records a dispatch assignment
func RecordDispatchAssigned() {
	dispatchesAssigned.Inc()
}

// RecordDispatchStatusChange records a dispatch status change
func RecordDispatchStatusChange(fromStatus, toStatus string) {
	dispatchStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordAuthorizationDecision records an authorization decision. For
// allowed decisions the reason is empty.
func RecordAuthorizationDecision(action string, allowed bool, reason string) {
	decision := "deny"
	if allowed {
		decision = "allow"
		reason = ""
	}
	authorizationDecisions.WithLabelValues(action, decision, reason).Inc()
}

// RecordRegistryEvent records an ingested vehicle registry event
func RecordRegistryEvent(eventType string) {
	registryEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
