// Package otelx installs the process-wide tracer provider and text map
// propagator the request span layer falls back to.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/reqtrace/internal/propagators"
	"github.com/keithlinneman/reqtrace/internal/xerrors"
)

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string

	// Propagators are registry names (see propagators.Names). Empty means
	// tracecontext and baggage.
	Propagators []string

	// SpanProcessors are registered in addition to the OTLP batcher. Tests use
	// this to capture spans in memory.
	SpanProcessors []sdktrace.SpanProcessor
}

// Init sets the global TracerProvider and TextMapPropagator and returns the
// provider's shutdown, which flushes pending spans.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	prop, err := propagators.New(o.Propagators...)
	if err != nil {
		return nil, err
	}

	if !o.Enabled {
		tp := sdktrace.NewTracerProvider(processorOpts(o.SpanProcessors)...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
		return tp.Shutdown, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// by default this is a blocking call with no timeout
	// we are using a local collector that forwards to otlp
	// backends so setting this to 3 seconds is safe
	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter for %s", o.Endpoint)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(clampRatio(o.Sample)),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(Resource(ctx, o)),
	}
	tpOpts = append(tpOpts, processorOpts(o.SpanProcessors)...)
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(prop)

	return tp.Shutdown, nil
}

// Resource describes this process. Detector failures are ignored, partial
// resources are still useful.
func Resource(ctx context.Context, o Options) *resource.Resource {
	name := o.Service
	if o.Component != "" {
		name += "." + o.Component
	}
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	return res
}

// Propagator returns the global propagator, or nil when it carries no fields
// (the "none" setting), which the span layer treats as propagation disabled.
func Propagator() propagation.TextMapPropagator {
	p := otel.GetTextMapPropagator()
	if p == nil || len(p.Fields()) == 0 {
		return nil
	}
	return p
}

func processorOpts(ps []sdktrace.SpanProcessor) []sdktrace.TracerProviderOption {
	out := make([]sdktrace.TracerProviderOption, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, sdktrace.WithSpanProcessor(p))
		}
	}
	return out
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
