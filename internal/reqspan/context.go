package reqspan

import (
	"net/http"
	"net/netip"

	"go.opentelemetry.io/otel/trace"
)

// Context supplies the per-layer behavior of a Layer. One value is shared by
// every request the layer handles, so implementations must be safe for
// concurrent reads and must not block.
type Context interface {
	// InspectHeaders lists the request headers whose values are copied onto
	// the span. Read once when the layer is built.
	InspectHeaders() []string
	// ExtractClientIP returns the client address for r, or false when it
	// cannot be determined. The span is the request's span, already active.
	ExtractClientIP(span trace.Span, r *http.Request) (netip.Addr, bool)
}

// Funcs adapts a header list and an optional extractor func into a Context.
type Funcs struct {
	Headers  []string
	ClientIP func(span trace.Span, r *http.Request) (netip.Addr, bool)
}

func (f Funcs) InspectHeaders() []string { return f.Headers }

func (f Funcs) ExtractClientIP(span trace.Span, r *http.Request) (netip.Addr, bool) {
	if f.ClientIP == nil {
		return netip.Addr{}, false
	}
	return f.ClientIP(span, r)
}

// NopContext inspects no headers and never extracts a client IP.
type NopContext struct{}

func (NopContext) InspectHeaders() []string { return nil }

func (NopContext) ExtractClientIP(trace.Span, *http.Request) (netip.Addr, bool) {
	return netip.Addr{}, false
}
