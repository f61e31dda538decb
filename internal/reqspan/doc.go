// Package reqspan annotates every HTTP request with an OpenTelemetry span.
//
// A Layer is built from a Spanner, which fixes the span name and the level
// of the completion log line, and a Context, which tells the layer which
// request headers to copy onto the span and how to find the client IP.
// Propagation of W3C, B3, Datadog or other trace headers is opt-in through
// WithPropagator.
//
// Per request the layer opens one server span, records the request line,
// inspected headers, client IP and remote parent (in that order), runs the
// inner handler with the span and a request-scoped logger in its context, and
// ends the span when the handler returns or panics. Enrichment never fails a
// request, and errors returned through WrapFunc come back unchanged.
package reqspan
