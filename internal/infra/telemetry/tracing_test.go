package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/infra/config"
)

func TestNewTracerProviderWithoutExporter(t *testing.T) {
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, config.TelemetrySettings{ServiceName: "test", SamplingRate: 1}, "test", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewTracerProvider returned error: %v", err)
	}

	_, span := tp.Tracer("test").Start(ctx, "op")
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a sampled span context")
	}
	span.End()

	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
