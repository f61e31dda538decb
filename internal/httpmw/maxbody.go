package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxBody limits request body size. A declared Content-Length over the limit
// is answered with 413 before the handler runs. Otherwise the body is wrapped
// in http.MaxBytesReader and the handler sees *http.MaxBytesError on read.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				trace.SpanFromContext(r.Context()).AddEvent("http.request.body_too_large",
					trace.WithAttributes(
						attribute.Int64("http.request.body.size", r.ContentLength),
						attribute.Int64("limit", limit),
					))
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
