package reqspan

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"

	"github.com/keithlinneman/reqtrace/internal/log"
)

const tracerName = "github.com/keithlinneman/reqtrace/internal/reqspan"

// HandlerFunc is an HTTP handler that reports failure by returning an error.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// Observer is told about every span the layer opens and closes. ctx carries
// the request span.
type Observer interface {
	SpanStarted(ctx context.Context, p Protocol)
	SpanEnded(ctx context.Context, p Protocol, status int, d time.Duration)
}

// Layer wraps handlers so each request runs inside its own span. A Layer is
// immutable once built and safe for concurrent use.
type Layer struct {
	spanner     Spanner
	ctx         Context
	headers     []inspectedHeader
	tracer      trace.Tracer
	tp          trace.TracerProvider
	propagator  propagation.TextMapPropagator
	logger      log.Logger
	observer    Observer
	routeFunc   func(*http.Request) string
	reqIDHeader string
}

type Option func(*Layer)

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Layer) { l.tp = tp }
}

// WithPropagator enables trace context propagation: the parent is extracted
// from request headers and the span context is injected into response headers.
// nil disables propagation, which is the default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(l *Layer) { l.propagator = p }
}

// WithLogger sets the base logger the request-scoped logger is derived from.
func WithLogger(lg log.Logger) Option {
	return func(l *Layer) { l.logger = lg }
}

// WithObserver registers a span lifecycle hook, used for metrics.
func WithObserver(o Observer) Option {
	return func(l *Layer) { l.observer = o }
}

// WithRouteFunc renames the span to "METHOD route" and sets http.route once the
// inner handler has returned. fn sees the request the layer received, so it
// must read state that routing fills in through shared pointers (chi's
// RouteContext seeded by an outer middleware, for instance).
func WithRouteFunc(fn func(*http.Request) string) Option {
	return func(l *Layer) { l.routeFunc = fn }
}

// WithRequestIDHeader changes the header request ids are read from and echoed
// on. Defaults to X-Request-Id.
func WithRequestIDHeader(name string) Option {
	return func(l *Layer) {
		if name != "" {
			l.reqIDHeader = http.CanonicalHeaderKey(name)
		}
	}
}

type inspectedHeader struct {
	name string
	key  attribute.Key
}

// New builds a Layer. A nil Context behaves like NopContext.
func New(s Spanner, c Context, opts ...Option) *Layer {
	if c == nil {
		c = NopContext{}
	}
	l := &Layer{
		spanner:     s,
		ctx:         c,
		reqIDHeader: RequestIDHeader,
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	if l.tp == nil {
		l.tp = otel.GetTracerProvider()
	}
	l.tracer = l.tp.Tracer(tracerName)
	if l.logger == nil {
		l.logger = log.Nop()
	}

	// resolve the inspection list once, it never changes per request
	seen := make(map[string]bool)
	for _, h := range c.InspectHeaders() {
		name := http.CanonicalHeaderKey(strings.TrimSpace(h))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		l.headers = append(l.headers, inspectedHeader{
			name: name,
			key:  attribute.Key("http.request.header." + strings.ToLower(name)),
		})
	}
	return l
}

// Middleware is Wrap in the func(http.Handler) http.Handler shape used by
// middleware chains.
func (l *Layer) Middleware(next http.Handler) http.Handler { return l.Wrap(next) }

// Wrap returns next wrapped in a per-request span.
func (l *Layer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = l.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
			next.ServeHTTP(w, r)
			return nil
		})
	})
}

// WrapFunc is Wrap for handlers that return errors. The error is recorded on
// the span and returned as is.
func (l *Layer) WrapFunc(next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		return l.serve(w, r, next)
	}
}

func (l *Layer) serve(w http.ResponseWriter, r *http.Request, next HandlerFunc) (err error) {
	start := time.Now()
	ctx := r.Context()

	var remote trace.SpanContext
	if l.propagator != nil {
		ctx = l.propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.IsRemote() {
			remote = sc
		}
	}

	info := Info{
		Protocol:  ProtocolFromContentType(r.Header.Get("Content-Type")),
		RequestID: requestID(r.Header.Get(l.reqIDHeader)),
	}

	ctx, span := l.spanner.Start(ctx, l.tracer, requestAttrs(r, info)...)
	if l.observer != nil {
		l.observer.SpanStarted(ctx, info.Protocol)
	}

	L := l.logger.With(
		"request_id", info.RequestID,
		"http.request.method", r.Method,
		"url.path", r.URL.Path,
		"network.protocol.name", info.Protocol.String(),
	)
	ctx = log.WithContext(ctx, L)

	rw := &responseWriter{ResponseWriter: w}
	defer func() {
		rec := recover()
		l.finish(ctx, span, r, rw, info, start, err, rec)
		if rec != nil {
			panic(rec)
		}
	}()

	if attrs := l.inspect(r.Header); len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	if ip, ok := l.ctx.ExtractClientIP(span, r); ok && ip.IsValid() {
		info.ClientIP = ip
		span.SetAttributes(attribute.String("client.address", info.ClientIP.String()))
		L = L.With("client.address", info.ClientIP.String())
		ctx = log.WithContext(ctx, L)
	}

	if l.propagator != nil {
		if remote.IsValid() {
			span.SetAttributes(
				attribute.String("trace.parent.trace_id", remote.TraceID().String()),
				attribute.String("trace.parent.span_id", remote.SpanID().String()),
			)
		}
		// set before the handler runs so the ids go out with any status
		l.propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
	}

	w.Header().Set(l.reqIDHeader, info.RequestID)

	ctx = withInfo(ctx, info)
	return next(rw, r.WithContext(ctx))
}

// inspect returns one attribute per inspected header present in h, holding
// every value sent for it
func (l *Layer) inspect(h http.Header) []attribute.KeyValue {
	if len(l.headers) == 0 {
		return nil
	}
	var out []attribute.KeyValue
	for _, ih := range l.headers {
		vals := h.Values(ih.name)
		if len(vals) == 0 {
			continue
		}
		out = append(out, ih.key.StringSlice(vals))
	}
	return out
}

func (l *Layer) finish(ctx context.Context, span trace.Span, r *http.Request, rw *responseWriter, info Info, start time.Time, err error, rec any) {
	failed := err != nil || rec != nil

	var status int
	var failure string
	switch info.Protocol {
	case ProtocolGRPC:
		code := grpcStatus(rw.Header())
		if failed {
			code = codes.Internal
		}
		status = int(code)
		if code != codes.OK {
			failure = code.String()
		}
	default:
		status = rw.statusCode()
		if failed && !rw.wroteHeader {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			failure = http.StatusText(status)
		}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetAttributes(
			attribute.String("error.type", fmt.Sprintf("%T", err)),
			attribute.String("error.message", err.Error()),
		)
		span.SetStatus(otelcodes.Error, err.Error())
	case rec != nil:
		perr := fmt.Errorf("panic: %v", rec)
		span.RecordError(perr, trace.WithStackTrace(true))
		span.SetStatus(otelcodes.Error, perr.Error())
	case failure != "":
		span.SetStatus(otelcodes.Error, failure)
	}

	if cerr := r.Context().Err(); cerr != nil {
		span.SetAttributes(attribute.Bool("http.request.canceled", true))
	}

	if l.routeFunc != nil {
		if route := l.routeFunc(r); route != "" {
			span.SetAttributes(attribute.String("http.route", route))
			span.SetName(r.Method + " " + route)
		}
	}

	dur := time.Since(start)
	span.End()

	if l.observer != nil {
		l.observer.SpanEnded(ctx, info.Protocol, status, dur)
	}

	kv := []any{
		"http.response.status_code", status,
		"http.server.request.duration", dur.Seconds(),
		"http.response.body.size", rw.bytes,
	}
	if err != nil {
		kv = append(kv, "error.message", err.Error())
	}
	log.Log(log.FromContext(ctx), ctx, l.spanner.Level, "http request", kv...)
}

func requestAttrs(r *http.Request, info Info) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
	}
	if q := r.URL.RawQuery; q != "" {
		attrs = append(attrs, attribute.String("url.query", q))
	}
	attrs = append(attrs, attribute.String("url.scheme", schemeFromRequest(r)))
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	attrs = append(attrs,
		attribute.String("http.request_id", info.RequestID),
		attribute.String("network.protocol.name", info.Protocol.String()),
	)
	if info.Protocol == ProtocolHTTP {
		attrs = append(attrs, attribute.String("network.protocol.version", protocolVersion(r)))
	}
	return attrs
}

// schemeFromRequest never trusts X-Forwarded-Proto, the layer has no notion of
// trusted proxies
func schemeFromRequest(r *http.Request) string {
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
