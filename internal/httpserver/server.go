package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/reqtrace/internal/health"
	"github.com/keithlinneman/reqtrace/internal/httpmw"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/prof"
	"github.com/keithlinneman/reqtrace/internal/xerrors"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 64 << 10

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
//
// Order, outermost first: recover, chi routing, span layer, metrics, API
// headers, trace id headers, profile labels, rate limit, body cap, compression,
// handler. chi routes before the layer runs so the span is renamed after the
// matched pattern once the handler returns.
func NewHandler(opts *Options) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()

	// Recovery outside the layer: the layer records the panic on the span and
	// re-raises it, this answers 500
	if opts.UseRecoverMW {
		r.Use(httpmw.Recover(L, opts.OnPanic))
	}

	// Register health routes at /-/healthy and /-/ready if probes provided
	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	ep := &endpoints{
		mux:   r,
		layer: opts.Layer,
		inner: chi.Chain(innerMiddleware(opts)...).Handler,
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(ep)
	}

	// unmatched requests still get a span, named after the method only
	notFound := ep.wrap(handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, Errorf(http.StatusNotFound, "no route for %s", r.URL.Path))
	})))
	methodNotAllowed := ep.wrap(handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, Errorf(http.StatusMethodNotAllowed, "method %s not allowed", r.Method))
	})))
	r.NotFound(notFound.ServeHTTP)
	r.MethodNotAllowed(methodNotAllowed.ServeHTTP)

	return r
}

// innerMiddleware is the stack that runs inside the request span
func innerMiddleware(opts *Options) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler

	// Metrics inside the span so durations carry trace exemplars
	if opts.MetricsMW != nil {
		mws = append(mws, opts.MetricsMW)
	}

	mws = append(mws,
		httpmw.APIHeaders(opts.ExposeHeaders...),
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
	)

	if opts.ProfileSpanName != "" {
		mws = append(mws, prof.SpanLabels(opts.ProfileSpanName))
	}

	// Rate limiting reads the client IP the layer extracted
	if opts.RateLimitMW != nil {
		mws = append(mws, opts.RateLimitMW)
	}

	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	mws = append(mws,
		httpmw.MaxBody(limit),
		middleware.Compress(5, "application/json", "text/plain"),
	)
	return mws
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			// in-flight requests finish and end their spans before this returns
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
