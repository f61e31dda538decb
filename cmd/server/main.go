package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keithlinneman/reqtrace/internal/api"
	"github.com/keithlinneman/reqtrace/internal/cfg"
	"github.com/keithlinneman/reqtrace/internal/clientip"
	"github.com/keithlinneman/reqtrace/internal/health"
	"github.com/keithlinneman/reqtrace/internal/httpserver"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/metrics"
	"github.com/keithlinneman/reqtrace/internal/opshttp"
	"github.com/keithlinneman/reqtrace/internal/otelx"
	"github.com/keithlinneman/reqtrace/internal/prof"
	"github.com/keithlinneman/reqtrace/internal/ratelimit"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
	v "github.com/keithlinneman/reqtrace/internal/version"
)

const (
	appName   = "reqtrace"
	component = "server"

	// drainPeriod lets load balancers see the failing readiness probe before
	// listeners close
	drainPeriod = 15 * time.Second
)

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (build_id=%s, build_date=%s, go=%s)\n",
			appName, vi, vi.BuildId, vi.BuildDate, vi.GoVersion)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix REQTRACE_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	spanLvl, _ := log.ParseLevel(conf.SpanLevel)

	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog, kept so a buffered backend flushes on shutdown
	defer lg.Sync()
	L := lg.With("component", component)

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application", append(vi.LogFields(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"propagators", conf.PropagatorNames(),
		"span_name", conf.SpanName,
		"span_level", conf.SpanLevel,
		"inspect_headers", conf.InspectHeaderList(),
		"trusted_hops", conf.TrustedHops,
		"use_forwarded", conf.UseForwarded,
		"enable_rate_limit", conf.EnableRateLimit,
		"relay_upstream", conf.RelayUpstream,
	)...)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel: global tracer provider and the configured propagators
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    conf.OTLPInsecure,
		Sample:      conf.TraceSample,
		Service:     appName,
		Component:   component,
		Version:     vi.Version,
		Propagators: conf.PropagatorNames(),
	})
	if err != nil {
		// propagator names were validated, this is the exporter
		L.Error(ctx, err, "otel init failed")
		os.Exit(1)
	}

	// Request span layer
	layerOpts := []reqspan.Option{
		reqspan.WithLogger(L),
		reqspan.WithObserver(m),
		reqspan.WithRouteFunc(httpserver.RoutePattern),
	}
	if conf.PropagationEnabled() {
		layerOpts = append(layerOpts, reqspan.WithPropagator(otelx.Propagator()))
	}
	extractor := clientip.Extractor{TrustedHops: conf.TrustedHops, UseForwarded: conf.UseForwarded}
	layer := reqspan.New(
		reqspan.NewSpanner(conf.SpanName, spanLvl,
			attribute.String("service.component", component),
		),
		extractor.Context(conf.InspectHeaderList()...),
		layerOpts...,
	)

	demo := api.NewAPI(api.Options{
		Logger:   L,
		Upstream: conf.RelayUpstream,
		Version:  vi,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	checks := []health.Probe{health.Named("shutdown", gate.Probe())}
	if conf.RelayUpstream != "" {
		// relay is the only dependency, ready once it answers
		checks = append(checks, health.Named("relay upstream",
			health.Timeout(2*time.Second, upstreamProbe(conf.RelayUpstream))))
	}
	readiness := health.All(checks...)

	var rateLimitMW func(http.Handler) http.Handler
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(netip.Addr) {
				m.IncRateLimitDenied()
			}),
			// only log the first time an ip is denied each time it is cleaned from the bucket
			ratelimit.WithOnFirstDenied(func(ip netip.Addr) {
				L.Warn(ctx, "rate limit triggered", "client.address", ip.String())
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	// browsers may read the ids and any propagation headers the layer sets
	expose := []string{reqspan.RequestIDHeader, "X-Trace-Id", "X-Span-Id"}
	if p := otelx.Propagator(); p != nil && conf.PropagationEnabled() {
		expose = append(expose, p.Fields()...)
	}

	var profileSpanName string
	if conf.EnablePyroscope {
		profileSpanName = conf.SpanName
	}

	// start public http server
	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:          L,
		Port:            conf.HTTPPort,
		Layer:           layer,
		UseRecoverMW:    true,
		OnPanic:         m.IncHttpPanic,
		MetricsMW:       m.Middleware,
		RateLimitMW:     rateLimitMW,
		Health:          health.Fixed(true, ""),
		Readiness:       readiness,
		APIRoutes:       demo.RegisterRoutes,
		ExposeHeaders:   expose,
		ProfileSpanName: profileSpanName,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}

	// admin listener serves metrics, health and pprof. Public peers are
	// rejected in middleware in case it is ever exposed by mistake
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	bg := log.WithContext(context.Background(), L)
	L.Info(bg, "shutdown signal received")

	// fail readiness so load balancers stop sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	// app listener first: in-flight requests end their spans before the
	// exporter flushes
	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// upstreamProbe reports ready when the relay upstream answers its liveness
// endpoint
func upstreamProbe(base string) health.CheckFunc {
	client := &http.Client{}
	url := strings.TrimRight(base, "/") + "/-/healthy"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
