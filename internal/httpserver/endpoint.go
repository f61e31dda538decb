package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

// Router registers error-returning handlers. Each one runs inside the span
// layer with the traced middleware stack around it. A returned error is
// recorded on the span and answered with a JSON error unless the handler
// already wrote a response.
type Router interface {
	Handle(method, pattern string, fn reqspan.HandlerFunc)
	Get(pattern string, fn reqspan.HandlerFunc)
	Post(pattern string, fn reqspan.HandlerFunc)
}

// endpoints binds handlers to a chi router through the layer. inner is the
// middleware stack that runs inside the span.
type endpoints struct {
	mux   chi.Router
	layer *reqspan.Layer
	inner func(http.Handler) http.Handler
}

func (e *endpoints) Handle(method, pattern string, fn reqspan.HandlerFunc) {
	e.mux.Method(method, pattern, e.wrap(fn))
}
func (e *endpoints) Get(pattern string, fn reqspan.HandlerFunc) {
	e.Handle(http.MethodGet, pattern, fn)
}
func (e *endpoints) Post(pattern string, fn reqspan.HandlerFunc) {
	e.Handle(http.MethodPost, pattern, fn)
}

// wrap runs fn inside inner inside the layer. The error crosses the
// http.Handler middleware through a closure so the layer sees the same value.
func (e *endpoints) wrap(fn reqspan.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		run := func(w http.ResponseWriter, r *http.Request) error {
			var herr error
			h := e.inner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tw := &trackingWriter{ResponseWriter: w}
				herr = fn(tw, r)
				if herr != nil && !tw.wrote {
					writeError(tw, r, herr)
				}
			}))
			h.ServeHTTP(w, r)
			return herr
		}
		if e.layer != nil {
			run = e.layer.WrapFunc(run)
		}
		_ = run(w, r)
	})
}

// handler adapts a plain http.Handler to the endpoint shape
func handler(h http.Handler) reqspan.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		h.ServeHTTP(w, r)
		return nil
	}
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}
func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RoutePattern is the span layer's route func: chi's matched pattern, or ""
// for unmatched requests so their span keeps the configured name.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
