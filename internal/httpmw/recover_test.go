package httpmw

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

// errLogger records Error calls.
type errLogger struct {
	log.Logger
	mu   sync.Mutex
	msgs []string
	errs []error
}

func newErrLogger() *errLogger { return &errLogger{Logger: log.Nop()} }

func (s *errLogger) With(kv ...any) log.Logger { return s }

func (s *errLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.errs = append(s.errs, err)
}

func (s *errLogger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// tracedLayer returns a span layer recording into a fresh span recorder,
// injecting the trace context into responses.
func tracedLayer(t *testing.T) (*reqspan.Layer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	l := reqspan.New(reqspan.NewSpanner("request", slog.LevelInfo), reqspan.Funcs{},
		reqspan.WithTracerProvider(tp),
		reqspan.WithPropagator(propagation.TraceContext{}),
	)
	return l, sr
}

func TestRecover_PanicValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "something broke", "panic: something broke"},
		{"error", context.DeadlineExceeded, "panic: context deadline exceeded"},
		{"int", 42, "panic: 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newErrLogger()
			panics := 0
			h := Recover(spy, func() { panics++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if panics != 1 {
				t.Fatalf("onPanic calls = %d, want 1", panics)
			}
			if spy.count() != 1 || !strings.Contains(spy.errs[0].Error(), tt.want) {
				t.Fatalf("logged = %v, want %q", spy.errs, tt.want)
			}
		})
	}
}

func TestRecover_NoPanicNoCallback(t *testing.T) {
	spy := newErrLogger()
	h := Recover(spy, func() { t.Fatal("onPanic called without a panic") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusTeapot || spy.count() != 0 {
		t.Fatalf("status = %d, logged = %d", rec.Code, spy.count())
	}
}

func TestRecover_AbortHandlerPassesThrough(t *testing.T) {
	spy := newErrLogger()
	h := Recover(spy, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
		if spy.count() != 0 {
			t.Fatal("abort logged as a panic")
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}

func TestRecover_OutsideSpanLayer(t *testing.T) {
	l, sr := tracedLayer(t)
	h := Recover(newErrLogger(), nil)(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	// ids written by the layer before the handler ran survive the 500
	if rec.Header().Get("Traceparent") == "" || rec.Header().Get(reqspan.RequestIDHeader) == "" {
		t.Fatalf("headers = %v, want traceparent and request id", rec.Header())
	}

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Status().Code != otelcodes.Error || !strings.Contains(s.Status().Description, "panic: boom") {
		t.Fatalf("span status = %+v", s.Status())
	}
	found := false
	for _, ev := range s.Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Fatal("panic not recorded as an exception event")
	}
}
