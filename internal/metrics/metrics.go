package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"

	"github.com/keithlinneman/reqtrace/internal/reqspan"
	"github.com/keithlinneman/reqtrace/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	// request span layer
	spansStarted *prometheus.CounterVec
	spansEnded   *prometheus.CounterVec
	spansOpen    prometheus.Gauge
	spanDur      *prometheus.HistogramVec
}

var _ reqspan.Observer = (*ServerMetrics)(nil)

// New returns a fresh registry + standard collectors + HTTP and span metrics
// safe labels only (method, route, code, protocol) to avoid cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		spansStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqspan_spans_started_total",
			Help: "Request spans opened by the span layer, by protocol",
		}, []string{"protocol"}),
		spansEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqspan_spans_ended_total",
			Help: "Request spans closed by the span layer, by protocol and outcome",
		}, []string{"protocol", "outcome"}),
		spansOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqspan_spans_open",
			Help: "Request spans currently open",
		}),
		spanDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqspan_span_duration_seconds",
			Help:    "Request span duration by protocol",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"protocol"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.spansStarted,
		m.spansEnded,
		m.spansOpen,
		m.spanDur,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// SpanStarted implements reqspan.Observer.
func (m *ServerMetrics) SpanStarted(_ context.Context, p reqspan.Protocol) {
	m.spansStarted.WithLabelValues(p.String()).Inc()
	m.spansOpen.Inc()
}

// SpanEnded implements reqspan.Observer. status is an HTTP status for http
// spans and a gRPC code for grpc spans.
func (m *ServerMetrics) SpanEnded(ctx context.Context, p reqspan.Protocol, status int, d time.Duration) {
	m.spansOpen.Dec()
	m.spansEnded.WithLabelValues(p.String(), outcome(p, status)).Inc()
	observe(m.spanDur.WithLabelValues(p.String()), ctx, d.Seconds())
}

// outcome buckets a span status into ok, client_error or server_error
func outcome(p reqspan.Protocol, status int) string {
	if p == reqspan.ProtocolGRPC {
		switch codes.Code(status) {
		case codes.OK:
			return "ok"
		case codes.Unknown, codes.DeadlineExceeded, codes.Unimplemented,
			codes.Internal, codes.Unavailable, codes.DataLoss:
			return "server_error"
		default:
			return "client_error"
		}
	}
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}
