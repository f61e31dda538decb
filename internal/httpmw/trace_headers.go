package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceHeaders names the debug headers carrying the active span's ids. An empty
// Sampled disables the sampled flag header.
type TraceHeaders struct {
	Trace   string
	Span    string
	Sampled string
}

// Middleware sets the headers from the span active in the request context,
// so it must run inside the span layer. Requests without a valid span
// context get none.
func (h TraceHeaders) Middleware(next http.Handler) http.Handler {
	if h.Trace == "" {
		h.Trace = "X-Trace-Id"
	}
	if h.Span == "" {
		h.Span = "X-Span-Id"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			hdr := w.Header()
			hdr.Set(h.Trace, sc.TraceID().String())
			hdr.Set(h.Span, sc.SpanID().String())
			if h.Sampled != "" {
				if sc.IsSampled() {
					hdr.Set(h.Sampled, "1")
				} else {
					hdr.Set(h.Sampled, "0")
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// TraceResponseHeaders is TraceHeaders{Trace: traceHeader, Span: spanHeader}.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	return TraceHeaders{Trace: traceHeader, Span: spanHeader}.Middleware
}
