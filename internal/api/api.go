// Package api is the demo service's JSON API. Its handlers report failure by
// returning errors, which the span layer records on the request span.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/reqtrace/internal/httpserver"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
	"github.com/keithlinneman/reqtrace/internal/version"
)

type Options struct {
	Logger log.Logger

	// Upstream is the base URL /api/v1/relay calls. Empty disables relaying.
	Upstream string

	// Transport is the base round tripper for relayed calls,
	// http.DefaultTransport when nil. It is wrapped with otelhttp so the
	// outbound request carries the current trace context.
	Transport http.RoundTripper

	// TracerProvider and Propagator configure the relay client span. The
	// otel globals are used when nil.
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator

	Version version.Info
}

// API implements the demo endpoints
type API struct {
	logger   log.Logger
	client   *http.Client
	upstream string
	items    *catalog
	version  version.Info
}

// NewAPI creates a new demo API
func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	topts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "relay " + r.Method
		}),
	}
	if opts.TracerProvider != nil {
		topts = append(topts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagator != nil {
		topts = append(topts, otelhttp.WithPropagators(opts.Propagator))
	}
	return &API{
		logger: opts.Logger,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(base, topts...),
		},
		upstream: opts.Upstream,
		items:    newCatalog(),
		version:  opts.Version,
	}
}

// RegisterRoutes attaches the API endpoints to the router
func (api *API) RegisterRoutes(r httpserver.Router) {
	r.Get("/api/v1/whoami", api.HandleWhoami)
	r.Get("/api/v1/version", api.HandleVersion)
	r.Get("/api/v1/items/{id}", api.HandleGetItem)
	r.Post("/api/v1/items", api.HandleCreateItem)
	r.Get("/api/v1/relay", api.HandleRelay)
}

// WhoamiResponse reports what the span layer learned about the request
type WhoamiResponse struct {
	RequestID string            `json:"request_id"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Protocol  string            `json:"protocol"`
	TraceID   string            `json:"trace_id,omitempty"`
	SpanID    string            `json:"span_id,omitempty"`
	Sampled   bool              `json:"sampled"`
	Baggage   map[string]string `json:"baggage,omitempty"`
}

// HandleWhoami echoes the request id, client IP, protocol and trace context
func (api *API) HandleWhoami(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	info, _ := reqspan.InfoFromContext(ctx)

	resp := WhoamiResponse{
		RequestID: info.RequestID,
		Protocol:  info.Protocol.String(),
	}
	if info.ClientIP.IsValid() {
		resp.ClientIP = info.ClientIP.String()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		resp.TraceID = sc.TraceID().String()
		resp.SpanID = sc.SpanID().String()
		resp.Sampled = sc.IsSampled()
	}
	if members := baggage.FromContext(ctx).Members(); len(members) > 0 {
		resp.Baggage = make(map[string]string, len(members))
		for _, m := range members {
			resp.Baggage[m.Key()] = m.Value()
		}
	}
	return api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleVersion serves the build metadata
func (api *API) HandleVersion(w http.ResponseWriter, r *http.Request) error {
	return api.writeJSON(r.Context(), w, http.StatusOK, api.version)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are out, nothing left to answer with
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
	return nil
}
