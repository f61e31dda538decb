package propagators

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestDatadog_ContextRoundTrip(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	want := DatadogContext{TraceID: 0xfff0001110002222, ParentID: 0x333000444000555}

	if empty := ExtractContext(h); empty.TraceID != 0 || empty.ParentID != 0 {
		t.Fatalf("empty headers extracted %+v", empty)
	}

	InjectContext(h, want)

	if got := ExtractContext(h); got != want {
		t.Fatalf("extracted %+v, want %+v", got, want)
	}
	if got := h.Get(TraceparentHeader); got != "00-0000000000000000fff0001110002222-0333000444000555-01" {
		t.Fatalf("traceparent = %q", got)
	}
}

func TestDatadog_TraceparentFallback(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(TraceparentHeader, "00-0000000000000000fff0001110002222-0333000444000555-01")

	got := ExtractContext(h)
	if got.TraceID != 0xfff0001110002222 || got.ParentID != 0x333000444000555 {
		t.Fatalf("extracted %+v", got)
	}
}

func TestDatadog_NotSampledRejected(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(TraceparentHeader, "00-0000000000000000fff0001110002222-0333000444000555-10")

	if got := ExtractContext(h); got.TraceID != 0 || got.ParentID != 0 {
		t.Fatalf("extracted %+v, want zero", got)
	}
}

func TestDatadog_InvalidVersionRejected(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(TraceparentHeader, "01-0000000000000000fff0001110002222-0333000444000555-01")

	if got := ExtractContext(h); got.TraceID != 0 || got.ParentID != 0 {
		t.Fatalf("extracted %+v, want zero", got)
	}
}

func TestDatadog_MalformedTraceparent(t *testing.T) {
	for _, v := range []string{
		"",
		"garbage",
		"00-xyz-0333000444000555-01",
		"00-0000000000000000fff0001110002222-0333-01",
		"00-0000000000000000000000000000000z-0333000444000555-01",
		"00-00000000000000000000000000000000-0000000000000000-01",
	} {
		h := propagation.HeaderCarrier(http.Header{})
		h.Set(TraceparentHeader, v)
		if got := ExtractContext(h); !got.IsZero() {
			t.Errorf("traceparent %q extracted %+v", v, got)
		}
	}
}

func TestDatadog_HeadersPreferredOverTraceparent(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(DatadogTraceIDHeader, "42")
	h.Set(DatadogParentIDHeader, "7")
	h.Set(TraceparentHeader, "00-0000000000000000fff0001110002222-0333000444000555-01")

	if got := ExtractContext(h); got != (DatadogContext{TraceID: 42, ParentID: 7}) {
		t.Fatalf("extracted %+v", got)
	}
}

func TestDatadog_DroppedPriority(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(DatadogTraceIDHeader, "42")
	h.Set(DatadogParentIDHeader, "7")
	h.Set(DatadogSamplingPriorityHeader, "-1")

	if got := ExtractContext(h); !got.IsZero() {
		t.Fatalf("extracted %+v, want zero for a dropped trace", got)
	}
}

func TestDatadog_BadDecimalFallsBack(t *testing.T) {
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(DatadogTraceIDHeader, "not-a-number")
	h.Set(DatadogParentIDHeader, "7")
	h.Set(TraceparentHeader, "00-0000000000000000000000000000002a-0000000000000007-01")

	if got := ExtractContext(h); got != (DatadogContext{TraceID: 42, ParentID: 7}) {
		t.Fatalf("extracted %+v", got)
	}
}

func TestDatadog_PropagatorRoundTrip(t *testing.T) {
	p := Datadog{}
	h := propagation.HeaderCarrier(http.Header{})
	h.Set(DatadogTraceIDHeader, "1234567890")
	h.Set(DatadogParentIDHeader, "987654321")

	ctx := p.Extract(context.Background(), h)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsRemote() || !sc.IsSampled() {
		t.Fatalf("span context = %+v", sc)
	}
	if got := sc.TraceID().String(); got != "000000000000000000000000499602d2" {
		t.Fatalf("trace id = %s", got)
	}

	out := propagation.HeaderCarrier(http.Header{})
	p.Inject(ctx, out)
	if out.Get(DatadogTraceIDHeader) != "1234567890" || out.Get(DatadogParentIDHeader) != "987654321" {
		t.Fatalf("injected %v", http.Header(out))
	}
	if out.Get(DatadogSamplingPriorityHeader) != "1" {
		t.Fatalf("priority = %q", out.Get(DatadogSamplingPriorityHeader))
	}
}

func TestDatadog_InjectKeepsLower64Bits(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("1112131415161718")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})

	out := propagation.HeaderCarrier(http.Header{})
	Datadog{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), out)

	if got := out.Get(TraceparentHeader); got != "00-0000000000000000090a0b0c0d0e0f10-1112131415161718-01" {
		t.Fatalf("traceparent = %q", got)
	}
}

func TestDatadog_InjectUnsampled(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0000000000000000000000000000002a")
	sid, _ := trace.SpanIDFromHex("0000000000000007")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})

	out := propagation.HeaderCarrier(http.Header{})
	Datadog{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), out)

	if keys := out.Keys(); len(keys) != 0 {
		t.Fatalf("unsampled context injected %v", keys)
	}
}

func TestDatadog_UnsampledStaysUnsampledWithTraceContext(t *testing.T) {
	p, err := New(TraceContext, DatadogName)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tid, _ := trace.TraceIDFromHex("0000000000000000000000000000002a")
	sid, _ := trace.SpanIDFromHex("0000000000000007")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})

	out := propagation.HeaderCarrier(http.Header{})
	p.Inject(trace.ContextWithSpanContext(context.Background(), sc), out)

	if got := out.Get(TraceparentHeader); got != "00-0000000000000000000000000000002a-0000000000000007-00" {
		t.Fatalf("traceparent = %q, want the unsampled flags", got)
	}
	got := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), out))
	if !got.IsValid() || got.IsSampled() {
		t.Fatalf("W3C extract = %+v, want valid and unsampled", got)
	}
}

func TestDatadog_SampledWithTraceContext(t *testing.T) {
	p, err := New(TraceContext, DatadogName)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tid, _ := trace.TraceIDFromHex("0000000000000000000000000000002a")
	sid, _ := trace.SpanIDFromHex("0000000000000007")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})

	out := propagation.HeaderCarrier(http.Header{})
	p.Inject(trace.ContextWithSpanContext(context.Background(), sc), out)

	if out.Get(DatadogTraceIDHeader) != "42" || out.Get(DatadogParentIDHeader) != "7" {
		t.Fatalf("datadog headers = %v", http.Header(out))
	}
	got := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), out))
	if got.TraceID() != tid || !got.IsSampled() {
		t.Fatalf("W3C extract = %+v", got)
	}
}

func TestDatadog_NoSpanNoHeaders(t *testing.T) {
	out := propagation.HeaderCarrier(http.Header{})
	Datadog{}.Inject(context.Background(), out)
	if len(out.Keys()) != 0 {
		t.Fatalf("injected %v", out.Keys())
	}
}

func TestDatadog_ExtractWithoutHeadersKeepsContext(t *testing.T) {
	ctx := context.Background()
	if got := (Datadog{}).Extract(ctx, propagation.HeaderCarrier(http.Header{})); got != ctx {
		t.Fatal("extract with nothing to read should return ctx unchanged")
	}
}
