package httpserver

import (
	"net/http"

	"github.com/keithlinneman/reqtrace/internal/health"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Layer opens the per-request span. Without one routes are served
	// untraced.
	Layer *reqspan.Layer

	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered, e.g. to increment prometheus counters
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler

	// Health and Readiness are served on /-/healthy and /-/ready outside the
	// span layer, load balancer polling is not worth a span per probe
	Health    health.Probe
	Readiness health.Probe

	APIRoutes func(Router)

	// ExposeHeaders are listed in Access-Control-Expose-Headers, typically
	// the propagator fields and the request id header
	ExposeHeaders []string

	// ProfileSpanName enables pprof span labels (see prof.SpanLabels) when set
	ProfileSpanName string

	// MaxBodyBytes caps request bodies, DefaultMaxBodyBytes when zero
	MaxBodyBytes int64
}
