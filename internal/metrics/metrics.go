// Package metrics provides Prometheus instrumentation for the trust backend.
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
			Namespace: "nethra",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nethra",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoringPassesTotal counts scoring passes by source (local or remote).
	ScoringPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nethra",
			Name:      "scoring_passes_total",
			Help:      "Total trust scoring passes by score source.",
		},
		[]string{"source"},
	)

	// TrustScoreDistribution observes computed trust scores.
	TrustScoreDistribution = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nethra",
			Name:      "trust_score",
			Help:      "Distribution of computed trust scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// AnomaliesTotal counts detected anomalies by feature and severity.
	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nethra",
			Name:      "anomalies_total",
			Help:      "Total behavioral anomalies detected by feature and severity.",
		},
		[]string{"feature", "severity"},
	)

	// MirageActivationsTotal counts mirage interface activations by intensity.
	MirageActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nethra",
			Name:      "mirage_activations_total",
			Help:      "Total mirage interface activations by intensity.",
		},
		[]string{"intensity"},
	)

	// CriticalLockoutsTotal counts sessions terminated by critical lockout.
	CriticalLockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nethra",
			Name:      "critical_lockouts_total",
			Help:      "Total sessions forced into critical lockout.",
		},
	)

	// SyncFailuresTotal counts remote scorer failures by kind.
	SyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nethra",
			Name:      "sync_failures_total",
			Help:      "Total remote scorer sync failures by error kind.",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks currently monitored sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nethra",
			Name:      "active_sessions",
			Help:      "Number of currently monitored sessions.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nethra",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nethra", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nethra", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nethra", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoringPassesTotal,
		TrustScoreDistribution,
		AnomaliesTotal,
		MirageActivationsTotal,
		CriticalLockoutsTotal,
		SyncFailuresTotal,
		ActiveSessions,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// ObserveScoringPass records one scoring pass outcome.
func ObserveScoringPass(source string, score float64) {
	ScoringPassesTotal.WithLabelValues(source).Inc()
	TrustScoreDistribution.Observe(score)
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
