package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rockimages_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockimages_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rockimages_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Catalog metrics
var (
	FilesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockimages_files_ingested_total",
			Help: "Files added to the catalog, by kind.",
		},
		[]string{"kind"},
	)

	FilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockimages_files_deleted_total",
			Help: "Files removed from the catalog, by mode (hard, soft, purge).",
		},
		[]string{"mode"},
	)

	ArtifactCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rockimages_artifact_cleanup_failures_total",
		Help: "Artifact removals that failed for a reason other than the artifact being missing.",
	})

	PreviewJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockimages_preview_jobs_total",
			Help: "Preview generation jobs, by result (applied, stale, failed, dropped).",
		},
		[]string{"result"},
	)

	PreviewQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rockimages_preview_queue_depth",
		Help: "Preview jobs waiting for a worker.",
	})

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rockimages_search_duration_seconds",
			Help:    "Catalog search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records in-flight, count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpInFlight.Dec()
	}
}

// ObserveSearch records the duration of a search of the given kind.
func ObserveSearch(kind string, start time.Time) {
	SearchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
