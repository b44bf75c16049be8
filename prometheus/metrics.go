package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"tenant-service/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // type can be "invalid_token", "token_expired", "key_set_fetch_failed" etc.
	)

	// Tenant context resolution counter
	TenantContextCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_context_resolutions_total",
			Help: "Total number of tenant context resolutions by outcome",
		},
		[]string{"outcome"}, // outcome can be "set", "missing", "bypass"
	)

	// Session sync counter
	SessionSyncCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_session_syncs_total",
			Help: "Total number of tenant parameter syncs pushed to database sessions",
		},
		[]string{"result"}, // "ok" or "error"
	)

	// Background job counter
	JobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_jobs_total",
			Help: "Total number of background jobs by outcome",
		},
		[]string{"job", "outcome"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)
)

// Gauge metrics
var (
	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_service_info",
			Help: "Information about the tenant service",
		},
		[]string{"version", "environment"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(TenantContextCounter)
	prometheus.MustRegister(SessionSyncCounter)
	prometheus.MustRegister(JobCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(InfoGauge)
}

// InitMetrics records the service info gauge
func InitMetrics(cfg *config.Config) {
	InfoGauge.With(prometheus.Labels{
		"version":     "1.0.0",
		"environment": cfg.Server.Env,
	}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordTenantContext records a tenant context resolution outcome
func RecordTenantContext(outcome string) {
	TenantContextCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordSessionSync records a tenant parameter sync result
func RecordSessionSync(result string) {
	SessionSyncCounter.With(prometheus.Labels{"result": result}).Inc()
}

// RecordJob records a background job outcome
func RecordJob(job, outcome string) {
	JobCounter.With(prometheus.Labels{"job": job, "outcome": outcome}).Inc()
}
