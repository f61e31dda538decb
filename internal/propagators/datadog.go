package propagators

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	DatadogTraceIDHeader          = "x-datadog-trace-id"
	DatadogParentIDHeader         = "x-datadog-parent-id"
	DatadogSamplingPriorityHeader = "x-datadog-sampling-priority"
	TraceparentHeader             = "traceparent"
)

// DatadogContext is the 64-bit id pair Datadog propagates. The zero value
// means no context.
type DatadogContext struct {
	TraceID  uint64
	ParentID uint64
}

// IsZero reports whether c carries no usable ids.
func (c DatadogContext) IsZero() bool { return c.TraceID == 0 || c.ParentID == 0 }

// Traceparent renders c as a sampled W3C traceparent, version 00.
func (c DatadogContext) Traceparent() string {
	return fmt.Sprintf("00-%032x-%016x-01", c.TraceID, c.ParentID)
}

// SpanContext converts c to a remote, sampled OTel span context. The upper 64
// bits of the trace id are zero.
func (c DatadogContext) SpanContext() trace.SpanContext {
	if c.IsZero() {
		return trace.SpanContext{}
	}
	var tid trace.TraceID
	var sid trace.SpanID
	binary.BigEndian.PutUint64(tid[8:], c.TraceID)
	binary.BigEndian.PutUint64(sid[:], c.ParentID)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

// datadogContextFrom keeps the lower 64 bits of an OTel span context
func datadogContextFrom(sc trace.SpanContext) DatadogContext {
	tid := sc.TraceID()
	sid := sc.SpanID()
	return DatadogContext{
		TraceID:  binary.BigEndian.Uint64(tid[8:]),
		ParentID: binary.BigEndian.Uint64(sid[:]),
	}
}

// ExtractContext reads the Datadog headers, falling back to traceparent. A
// traceparent must be version 00 with the sampled flag, anything else yields
// the zero context.
func ExtractContext(carrier propagation.TextMapCarrier) DatadogContext {
	if c, ok := extractDatadogHeaders(carrier); ok {
		return c
	}
	return parseTraceparent(carrier.Get(TraceparentHeader))
}

// InjectContext writes c as both Datadog headers and a traceparent. A zero
// context writes nothing.
func InjectContext(carrier propagation.TextMapCarrier, c DatadogContext) {
	if c.IsZero() {
		return
	}
	carrier.Set(DatadogTraceIDHeader, strconv.FormatUint(c.TraceID, 10))
	carrier.Set(DatadogParentIDHeader, strconv.FormatUint(c.ParentID, 10))
	carrier.Set(DatadogSamplingPriorityHeader, "1")
	carrier.Set(TraceparentHeader, c.Traceparent())
}

func extractDatadogHeaders(carrier propagation.TextMapCarrier) (DatadogContext, bool) {
	tv, pv := carrier.Get(DatadogTraceIDHeader), carrier.Get(DatadogParentIDHeader)
	if tv == "" || pv == "" {
		return DatadogContext{}, false
	}
	tid, err := strconv.ParseUint(strings.TrimSpace(tv), 10, 64)
	if err != nil {
		return DatadogContext{}, false
	}
	pid, err := strconv.ParseUint(strings.TrimSpace(pv), 10, 64)
	if err != nil {
		return DatadogContext{}, false
	}
	// sampling priority <= 0 means the upstream dropped the trace
	if sp := carrier.Get(DatadogSamplingPriorityHeader); sp != "" {
		if p, err := strconv.Atoi(strings.TrimSpace(sp)); err == nil && p <= 0 {
			return DatadogContext{}, true
		}
	}
	c := DatadogContext{TraceID: tid, ParentID: pid}
	return c, !c.IsZero()
}

// parseTraceparent accepts "00-<32 hex>-<16 hex>-<2 hex>" with the sampled bit
func parseTraceparent(v string) DatadogContext {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || parts[0] != "00" {
		return DatadogContext{}
	}
	if len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return DatadogContext{}
	}
	flags, err := hex.DecodeString(parts[3])
	if err != nil || flags[0]&byte(trace.FlagsSampled) == 0 {
		return DatadogContext{}
	}
	tid, err := hex.DecodeString(parts[1])
	if err != nil {
		return DatadogContext{}
	}
	pid, err := hex.DecodeString(parts[2])
	if err != nil {
		return DatadogContext{}
	}
	c := DatadogContext{
		TraceID:  binary.BigEndian.Uint64(tid[8:]),
		ParentID: binary.BigEndian.Uint64(pid),
	}
	if c.IsZero() {
		return DatadogContext{}
	}
	return c
}

// Datadog propagates trace context in Datadog's 64-bit format. It pairs the
// x-datadog-* headers with a W3C traceparent so peers speaking either side
// can join the trace. Unsampled contexts are not injected.
type Datadog struct{}

var _ propagation.TextMapPropagator = Datadog{}

func (Datadog) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	// only sampled traces are propagated, the traceparent written here always
	// carries the sampled flag and would override an unsampled one
	if !sc.IsValid() || !sc.IsSampled() {
		return
	}
	InjectContext(carrier, datadogContextFrom(sc))
}

func (Datadog) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc := ExtractContext(carrier).SpanContext()
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func (Datadog) Fields() []string {
	return []string{
		DatadogTraceIDHeader,
		DatadogParentIDHeader,
		DatadogSamplingPriorityHeader,
		TraceparentHeader,
	}
}
