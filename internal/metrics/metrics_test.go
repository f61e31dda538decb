package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/reqtrace/internal/version"
)

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()

	if got := testutil.ToFloat64(b.httpPanicTotal); got != 0 {
		t.Fatalf("second instance saw panic count %v", got)
	}
}

func TestHandler_ScrapeIncludesSpanFamilies(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	m.IncRateLimitCapacity()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"reqspan_spans_open",
		"profiling_active 1",
		"http_requests_rate_limited_capacity_total 1",
		"go_goroutines",
		"process_",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestSetProfilingActive_Toggles(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if got := testutil.ToFloat64(m.profilingActive); got != 1 {
		t.Fatalf("profiling_active = %v, want 1", got)
	}
	m.SetProfilingActive(false)
	if got := testutil.ToFloat64(m.profilingActive); got != 0 {
		t.Fatalf("profiling_active = %v, want 0", got)
	}
}

func TestRateLimitCounters(t *testing.T) {
	m := New()
	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()

	if got := testutil.ToFloat64(m.ratelimitDeniedTotal); got != 2 {
		t.Fatalf("denied = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ratelimitCapacityTotal); got != 1 {
		t.Fatalf("capacity = %v, want 1", got)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	dirty := true
	tests := []struct {
		name  string
		vi    version.Info
		dirty string
	}{
		{"dirty", version.Info{Version: "1.2.3", Commit: "abc123", BuildId: "b-42", VCSDirty: &dirty}, "true"},
		{"unknown", version.Info{Version: "dev"}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.SetBuildInfoFromVersion("reqtrace", "server", tt.vi)

			f := gatherMetric(t, m.reg, "build_info")
			if f == nil || len(f.GetMetric()) != 1 {
				t.Fatal("want one build_info series")
			}
			got := f.GetMetric()[0]
			if got.GetGauge().GetValue() != 1 {
				t.Fatalf("build_info = %v, want 1", got.GetGauge().GetValue())
			}
			labels := labelMap(got)
			if labels["app"] != "reqtrace" || labels["component"] != "server" || labels["version"] != tt.vi.Version {
				t.Fatalf("labels = %v", labels)
			}
			if labels["vcs_dirty"] != tt.dirty {
				t.Fatalf("vcs_dirty = %q, want %q", labels["vcs_dirty"], tt.dirty)
			}
		})
	}
}
