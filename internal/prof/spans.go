package prof

import (
	"context"
	"net/http"

	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel/trace"
)

// Profile label keys pyroscope uses to link samples to spans.
const (
	LabelSpanID   = "span_id"
	LabelSpanName = "span_name"
)

// SpanLabels runs next with pprof labels carrying the id of the span active in
// the request context, so CPU samples taken during the request can be joined
// to its trace. It must run inside the span layer. Unsampled spans are left
// unlabeled, there is no trace to join them to.
func SpanLabels(spanName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() || !sc.IsSampled() {
				next.ServeHTTP(w, r)
				return
			}
			labels := pyroscope.Labels(
				LabelSpanID, sc.SpanID().String(),
				LabelSpanName, spanName,
			)
			pyroscope.TagWrapper(r.Context(), labels, func(ctx context.Context) {
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
	}
}
