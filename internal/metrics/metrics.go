// Package metrics provides Prometheus instrumentation for the Doorman service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "doorman",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SecurityEventsTotal counts recorded security events by activity type.
	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "security_events_total",
			Help:      "Total security events recorded by activity type.",
		},
		[]string{"type"},
	)

	// EscalationsTotal counts users escalated for manual review.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "escalations_total",
			Help:      "Total user escalations by triggering activity type.",
		},
		[]string{"type"},
	)

	// RateLimitRejectionsTotal counts rejected requests by action.
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "rate_limit_rejections_total",
			Help:      "Total requests rejected by the rate limiter, by action.",
		},
		[]string{"action"},
	)

	// FraudChecksTotal counts fraud evaluations by decision.
	FraudChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "fraud_checks_total",
			Help:      "Total fraud checks by decision (allowed, denied, error).",
		},
		[]string{"decision"},
	)

	// FraudRiskScore observes the risk score distribution of fraud checks.
	FraudRiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "doorman",
		Name:      "fraud_risk_score",
		Help:      "Risk score distribution of fraud evaluations.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// ModerationHitsTotal counts content rejected by moderation, by reason.
	ModerationHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "moderation_hits_total",
			Help:      "Total content flagged by moderation, by reason (profanity, spam, length).",
		},
		[]string{"reason"},
	)

	// DeviceLimitRejectionsTotal counts registrations blocked by the device cap.
	DeviceLimitRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "doorman",
		Name:      "device_limit_rejections_total",
		Help:      "Total registrations blocked by the per-device account cap.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "doorman",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// AuditEventsDropped counts audit events dropped due to a full buffer.
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "doorman",
		Name:      "audit_events_dropped_total",
		Help:      "Total audit events dropped because the writer buffer was full.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorman", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SecurityEventsTotal,
		EscalationsTotal,
		RateLimitRejectionsTotal,
		FraudChecksTotal,
		FraudRiskScore,
		ModerationHitsTotal,
		DeviceLimitRejectionsTotal,
		ActiveWebSocketClients,
		AuditEventsDropped,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
