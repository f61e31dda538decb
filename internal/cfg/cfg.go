package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/propagators"
)

// EnvPrefix is prepended to upper-cased flag names to form environment keys.
const EnvPrefix = "REQTRACE_"

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	// request span layer
	Propagators    string
	SpanName       string
	SpanLevel      string
	InspectHeaders string
	TrustedHops    int
	UseForwarded   bool

	EnableRateLimit bool
	RateLimitRPS    float64
	RateLimitBurst  int

	RelayUpstream string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the OTLP endpoint")
	fs.StringVar(&c.Propagators, "propagators", "tracecontext,baggage", "comma separated: "+strings.Join(propagators.Names(), "|"))
	fs.StringVar(&c.SpanName, "span-name", "http.request", "name of the per-request span")
	fs.StringVar(&c.SpanLevel, "span-level", "info", "level request completion is logged at (debug|info|warn|error)")
	fs.StringVar(&c.InspectHeaders, "inspect-headers", "", "comma separated request headers recorded on the span")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "trusted reverse proxies in front of the server (0..16)")
	fs.BoolVar(&c.UseForwarded, "use-forwarded", false, "read the RFC 7239 Forwarded header before X-Forwarded-For")
	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "per-client rate limiting on the public port")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-client refill rate (requests per second)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-client burst size")
	fs.StringVar(&c.RelayUpstream, "relay-upstream", "", "base URL /api/v1/relay calls (empty disables relaying)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// PropagatorNames splits the propagators setting. "none" (or an empty list)
// disables trace context propagation in the span layer.
func (c App) PropagatorNames() []string {
	return propagators.Split(c.Propagators)
}

// PropagationEnabled reports whether any propagator other than "none" is set.
func (c App) PropagationEnabled() bool {
	for _, n := range c.PropagatorNames() {
		if !strings.EqualFold(n, propagators.None) {
			return true
		}
	}
	return false
}

// InspectHeaderList splits the inspect-headers setting.
func (c App) InspectHeaderList() []string {
	return propagators.Split(c.InspectHeaders)
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if _, err := log.ParseLevel(c.SpanLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid SPAN_LEVEL %q: %w", c.SpanLevel, err))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Span layer
	if strings.TrimSpace(c.SpanName) == "" {
		errs = append(errs, fmt.Errorf("SPAN_NAME must not be empty"))
	}
	if _, err := propagators.New(c.PropagatorNames()...); err != nil {
		errs = append(errs, fmt.Errorf("invalid PROPAGATORS %q: %w", c.Propagators, err))
	}
	for _, h := range c.InspectHeaderList() {
		if strings.ContainsAny(h, " \t:") {
			errs = append(errs, fmt.Errorf("invalid INSPECT_HEADERS entry %q", h))
		}
	}
	if c.TrustedHops < 0 || c.TrustedHops > 16 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..16)", c.TrustedHops))
	}

	// Rate limiting
	if c.EnableRateLimit {
		if c.RateLimitRPS <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be > 0 (got %v)", c.RateLimitRPS))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
		}
	}

	if c.RelayUpstream != "" {
		if u, err := url.Parse(c.RelayUpstream); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("RELAY_UPSTREAM must be an http(s) URL (got %q)", c.RelayUpstream))
		}
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
