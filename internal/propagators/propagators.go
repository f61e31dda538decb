// Package propagators builds OpenTelemetry text map propagators from names,
// so the propagation format can be picked from configuration.
package propagators

import (
	"sort"
	"strings"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/contrib/propagators/ot"
	"go.opentelemetry.io/otel/propagation"

	"github.com/keithlinneman/reqtrace/internal/xerrors"
)

const (
	TraceContext = "tracecontext"
	Baggage      = "baggage"
	B3           = "b3"
	B3Multi      = "b3multi"
	Jaeger       = "jaeger"
	OT           = "ot"
	DatadogName  = "datadog"
	None         = "none"
)

// DefaultNames is what New uses when given no names.
var DefaultNames = []string{TraceContext, Baggage}

var registry = map[string]func() propagation.TextMapPropagator{
	TraceContext: func() propagation.TextMapPropagator { return propagation.TraceContext{} },
	Baggage:      func() propagation.TextMapPropagator { return propagation.Baggage{} },
	B3: func() propagation.TextMapPropagator {
		return b3.New(b3.WithInjectEncoding(b3.B3SingleHeader))
	},
	B3Multi: func() propagation.TextMapPropagator {
		return b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader))
	},
	Jaeger:      func() propagation.TextMapPropagator { return jaeger.Jaeger{} },
	OT:          func() propagation.TextMapPropagator { return ot.OT{} },
	DatadogName: func() propagation.TextMapPropagator { return Datadog{} },
	None:        nil,
}

// Names lists every name New accepts, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New returns a composite of the named propagators in the order given.
// Names are case-insensitive and duplicates are ignored. "none" contributes
// nothing, so New("none") propagates nothing at all.
func New(names ...string) (propagation.TextMapPropagator, error) {
	if len(names) == 0 {
		names = DefaultNames
	}

	seen := make(map[string]bool, len(names))
	var props []propagation.TextMapPropagator
	for _, raw := range names {
		n := strings.ToLower(strings.TrimSpace(raw))
		if n == "" || seen[n] {
			continue
		}
		mk, ok := registry[n]
		if !ok {
			return nil, xerrors.Newf("unknown propagator %q (valid: %s)", raw, strings.Join(Names(), ", "))
		}
		seen[n] = true
		if mk != nil {
			props = append(props, mk())
		}
	}
	return propagation.NewCompositeTextMapPropagator(props...), nil
}

// Split parses a comma separated list such as the OTEL_PROPAGATORS format.
func Split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
