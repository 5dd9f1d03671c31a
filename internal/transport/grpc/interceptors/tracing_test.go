package interceptors

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/stats"
)

func TestTracingHandlerRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	handler := NewTracingHandler(TracingOptions{TracerProvider: tp})

	ctx := handler.TagRPC(context.Background(), &stats.RPCTagInfo{FullMethodName: "/zkiam.v1.TokenService/GetJWKS"})
	handler.HandleRPC(ctx, &stats.End{})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if name := spans[0].Name(); name != "zkiam.v1.TokenService/GetJWKS" {
		t.Fatalf("unexpected span name %q", name)
	}
}

func TestTracingHandlerSkipsFilteredMethods(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	handler := NewTracingHandler(TracingOptions{
		TracerProvider: tp,
		SkipMethods:    []string{"/grpc.health.v1.Health/Check"},
	})

	ctx := handler.TagRPC(context.Background(), &stats.RPCTagInfo{FullMethodName: "/grpc.health.v1.Health/Check"})
	handler.HandleRPC(ctx, &stats.End{})

	if spans := recorder.Ended(); len(spans) != 0 {
		t.Fatalf("expected no spans for a skipped method, got %d", len(spans))
	}
}
