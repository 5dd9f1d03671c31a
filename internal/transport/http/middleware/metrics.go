package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/infra/telemetry"
)

const unmatchedRoute = "unmatched"

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// HTTPMetrics exposes Prometheus collectors for request instrumentation.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
	// Denials counts requests the access pipeline stopped, by route, stage and failure kind.
	Denials  *prometheus.CounterVec
}

// NewHTTPMetrics registers the HTTP collectors, reusing any already registered under the same name.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = telemetry.DefaultNamespace
	}
	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "http"
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	labels := []string{"method", "route", "status"}

	m := &HTTPMetrics{}
	var err error
	if m.Requests, err = telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, labels)); err != nil {
		return nil, err
	}
	if m.Duration, err = telemetry.Register(opts.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds by method, route and status code.",
		Buckets:   buckets,
	}, labels)); err != nil {
		return nil, err
	}
	if m.InFlight, err = telemetry.Register(opts.Registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_requests",
		Help:      "HTTP requests currently being served.",
	})); err != nil {
		return nil, err
	}
	if m.Denials, err = telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "access_denials_total",
		Help:      "HTTP requests stopped by the access pipeline by route, stage and failure kind.",
	}, []string{"route", "stage", "kind"})); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler returns a Gin middleware that records the HTTP metrics.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status())
		m.Requests.WithLabelValues(c.Request.Method, route, status).Inc()
		m.Duration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())

		if v, ok := c.Get(DenialKey); ok {
			if req, ok := v.(*access.Request); ok {
				m.Denials.WithLabelValues(route, req.FailedStage, string(req.FailureKind)).Inc()
			}
		}
	}
}
