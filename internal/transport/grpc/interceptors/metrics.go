package interceptors

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/telemetry"
)

// GRPCMetricsOptions controls construction of gRPC metrics collectors.
type GRPCMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// GRPCMetrics wraps Prometheus collectors for gRPC instrumentation.
type GRPCMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	denials  *prometheus.CounterVec
}

var _ DenialObserver = (*GRPCMetrics)(nil)

// NewGRPCMetrics constructs collectors and registers them with the supplied registerer.
func NewGRPCMetrics(opts GRPCMetricsOptions) (*GRPCMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = telemetry.DefaultNamespace
	}
	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "grpc"
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	requests, err := telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "gRPC unary requests by service, method and status code.",
	}, []string{"service", "method", "code"}))
	if err != nil {
		return nil, err
	}

	duration, err := telemetry.Register(opts.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "gRPC unary request latency in seconds by service, method and status code.",
		Buckets:   buckets,
	}, []string{"service", "method", "code"}))
	if err != nil {
		return nil, err
	}

	inFlight, err := telemetry.Register(opts.Registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight gRPC unary requests partitioned by service.",
	}, []string{"service"}))
	if err != nil {
		return nil, err
	}

	denials, err := telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "access_denials_total",
		Help:      "gRPC calls stopped by the access pipeline by service, method, stage and failure kind.",
	}, []string{"service", "method", "stage", "kind"}))
	if err != nil {
		return nil, err
	}

	return &GRPCMetrics{requests: requests, duration: duration, inFlight: inFlight, denials: denials}, nil
}

// ObserveDenial counts a call stopped by the access pipeline.
func (m *GRPCMetrics) ObserveDenial(fullMethod, stage string, kind domain.ErrorKind) {
	if m == nil {
		return
	}
	service, method := splitFullMethod(fullMethod)
	m.denials.WithLabelValues(service, method, stage, string(kind)).Inc()
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records metrics.
func (m *GRPCMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	if m == nil {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			return handler(ctx, req)
		}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := splitFullMethod(info.FullMethod)
		start := time.Now()

		inflight := m.inFlight.WithLabelValues(service)
		inflight.Inc()
		defer inflight.Dec()

		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		m.requests.WithLabelValues(service, method, code).Inc()
		m.duration.WithLabelValues(service, method, code).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

func splitFullMethod(full string) (string, string) {
	full = strings.TrimPrefix(full, "/")
	service, method, ok := strings.Cut(full, "/")
	if !ok || strings.Contains(method, "/") {
		if full == "" {
			return "unknown", "unknown"
		}
		return full, "unknown"
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
