package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestInit_DisabledInstallsRecordingProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Sample: 99.9})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider = %T, want the sdk provider", otel.GetTracerProvider())
	}
	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	if !strings.Contains(fields, "traceparent") || !strings.Contains(fields, "baggage") {
		t.Fatalf("default fields = %q, want tracecontext and baggage", fields)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}
}

func TestInit_EnabledBoundedByDialTimeout(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		Endpoint:    "localhost:1",
		Insecure:    true,
		Sample:      1,
		Service:     "reqtrace",
		Propagators: []string{"tracecontext"},
	})
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		if !strings.Contains(err.Error(), "localhost:1") {
			t.Fatalf("err = %v, want the endpoint named", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

// Propagator selection

func TestInit_NamedPropagators(t *testing.T) {
	_, err := Init(context.Background(), Options{Propagators: []string{"b3", "datadog"}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	for _, want := range []string{"b3", "x-datadog-trace-id"} {
		if !strings.Contains(fields, want) {
			t.Errorf("fields %q missing %q", fields, want)
		}
	}
	if strings.Contains(fields, "baggage") {
		t.Errorf("fields %q should not include baggage", fields)
	}
}

func TestInit_UnknownPropagator(t *testing.T) {
	_, err := Init(context.Background(), Options{Propagators: []string{"zipkin"}})
	if err == nil || !strings.Contains(err.Error(), "unknown propagator") {
		t.Fatalf("err = %v, want unknown propagator", err)
	}
}

func TestPropagator_NoneIsNil(t *testing.T) {
	if _, err := Init(context.Background(), Options{Propagators: []string{"none"}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p := Propagator(); p != nil {
		t.Fatalf("Propagator() = %T, want nil for none", p)
	}

	if _, err := Init(context.Background(), Options{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p := Propagator(); p == nil {
		t.Fatal("Propagator() = nil, want default composite")
	}
}

func TestInit_SpanProcessorsReceiveSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(), Options{SpanProcessors: []sdktrace.SpanProcessor{rec}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "captured")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "captured" {
		t.Fatalf("ended spans = %d, want the captured span", len(ended))
	}
}

func TestResource_ServiceName(t *testing.T) {
	res := Resource(context.Background(), Options{Service: "reqtrace", Component: "demo", Version: "v1.2.3"})

	var name, version string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case semconv.ServiceNameKey:
			name = kv.Value.AsString()
		case semconv.ServiceVersionKey:
			version = kv.Value.AsString()
		}
	}
	if name != "reqtrace.demo" {
		t.Errorf("service.name = %q, want reqtrace.demo", name)
	}
	if version != "v1.2.3" {
		t.Errorf("service.version = %q, want v1.2.3", version)
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.3: 0.3, 1: 1, 99.9: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
