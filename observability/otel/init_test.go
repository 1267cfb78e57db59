package otel

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "lending.lend")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatalf("expected no-op span before a provider is installed")
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestSamplerRatio(t *testing.T) {
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{8: 0xff, 9: 0xff, 10: 0xff, 11: 0xff, 12: 0xff, 13: 0xff, 14: 0xff, 15: 0xff},
		Name:          "lending.borrow",
	}
	if got := (Config{}).sampler().ShouldSample(params).Decision; got != sdktrace.RecordAndSample {
		t.Fatalf("expected zero ratio to keep every span, got %v", got)
	}
	if got := (Config{SampleRatio: 0.01}).sampler().ShouldSample(params).Decision; got != sdktrace.Drop {
		t.Fatalf("expected high trace id to be dropped at 1%%, got %v", got)
	}
}
