package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes
const (
	OutcomeServed      = "served"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	PastesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pastebin_pastes_created_total", Help: "Pastes successfully stored"},
	)
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pastebin_fetch_total", Help: "Paste fetches by outcome"},
		[]string{"outcome"},
	)
	// StoreDuration measures the store phases of create and fetch
	StoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebin_store_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.LinearBuckets(0.001, 0.005, 20),
		},
		[]string{"operation"},
	)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(PastesCreated, FetchTotal, StoreDuration, RequestsTotal, ReqDuration)
}

// ObserveStore records the time since start under the given operation
func ObserveStore(operation string, start time.Time) {
	StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// GinMiddleware records request counts and latency per route template
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		ReqDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
