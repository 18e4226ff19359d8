package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that matched no route, so probes of random
// URLs cannot grow the series set.
const unmatchedRoute = "unmatched"

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chatdys_http_request_duration_seconds",
			Help: "HTTP request latency by method and route.",
			// /query waits on the language model, so the tail reaches tens of seconds.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdys_http_requests_inflight",
			Help: "HTTP requests currently being served.",
		},
	)

	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatdys_http_response_size_bytes",
			Help:    "HTTP response size by method and route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B .. 4MiB
		},
		[]string{"method", "route"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdys_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route.",
		},
		[]string{"route"},
	)

	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdys_http_idempotent_replays_total",
			Help: "Requests flagged as replays of a stored result.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight, httpResponseBytes, rateLimited, idempotentReplays)
}

// Metrics instruments every request. Routes are labelled by their
// registered pattern (e.g. /api/conversations/:id), never the raw path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpResponseBytes.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
