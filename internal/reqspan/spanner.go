package reqspan

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSpanName is used when a Spanner has no name.
const DefaultSpanName = "http.request"

// Spanner declares how request spans are made: a fixed name, the level the
// request is logged at when the span closes, and static attributes added to
// every span (service name, deployment tier, ...).
type Spanner struct {
	Name  string
	Level slog.Level
	Attrs []attribute.KeyValue
}

// NewSpanner returns a Spanner for name at level with extra static attributes.
func NewSpanner(name string, level slog.Level, extra ...attribute.KeyValue) Spanner {
	return Spanner{Name: name, Level: level, Attrs: extra}
}

func (s Spanner) spanName() string {
	if s.Name == "" {
		return DefaultSpanName
	}
	return s.Name
}

// Start opens a server span named after s as a child of whatever span
// context ctx carries. Request attributes come first, then the static ones.
func (s Spanner) Start(ctx context.Context, tracer trace.Tracer, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+len(s.Attrs))
	all = append(all, attrs...)
	all = append(all, s.Attrs...)
	return tracer.Start(ctx, s.spanName(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...),
	)
}
