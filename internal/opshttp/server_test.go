package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/reqtrace/internal/health"
	"github.com/keithlinneman/reqtrace/internal/log"
	"github.com/keithlinneman/reqtrace/internal/metrics"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// adminGet runs one request through NewHandler from a loopback peer.
func adminGet(t *testing.T, opts *Options, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = "127.0.0.1:40000"
	NewHandler(log.Nop(), opts).ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Routes(t *testing.T) {
	var gate health.ShutdownGate
	m := metrics.New()
	opts := &Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.All(gate.Probe(), health.Named("relay upstream", health.Fixed(true, ""))),
		Metrics:   m.Handler(),
	}

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/-/healthy", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/-/ready", http.StatusOK, "ready"},
		{"/metrics", http.StatusOK, "reqspan_spans_open"},
		{"/debug/pprof/", http.StatusNotFound, ""},
		{"/debug/pprof/heap", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := adminGet(t, opts, tt.path)
		if rec.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.code)
		}
		if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
			t.Errorf("%s: body missing %q", tt.path, tt.body)
		}
	}

	gate.Set("draining")
	if rec := adminGet(t, opts, "/readyz"); rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("draining readyz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := adminGet(t, opts, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("liveness must not follow the drain gate, got %d", rec.Code)
	}
}

func TestNewHandler_UpstreamFailureReason(t *testing.T) {
	opts := &Options{
		Readiness: health.Named("relay upstream", health.Fixed(false, "connection refused")),
	}
	rec := adminGet(t, opts, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := rec.Body.String(); !strings.Contains(got, "relay upstream: connection refused") {
		t.Fatalf("body = %q", got)
	}
}

func TestNewHandler_PprofEnabled(t *testing.T) {
	rec := adminGet(t, &Options{EnablePprof: true}, "/debug/pprof/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNewHandler_PeerGuard(t *testing.T) {
	tests := []struct {
		remote string
		allow  bool
	}{
		{"127.0.0.1:1", true},
		{"[::1]:1", true},
		{"10.1.2.3:1", true},
		{"192.168.0.9:1", true},
		{"169.254.10.10:1", true},
		{"[fe80::1]:1", true},
		{"[::ffff:10.0.0.1]:1", true},
		{"8.8.8.8:1", false},
		{"[::ffff:8.8.8.8]:1", false},
		{"[2001:db8::1]:1", false},
		{"10.0.0.1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			for _, allowPublic := range []bool{false, true} {
				h := NewHandler(log.Nop(), &Options{AllowPublic: allowPublic})
				rec := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
				req.RemoteAddr = tt.remote
				h.ServeHTTP(rec, req)

				want := http.StatusForbidden
				if tt.allow || allowPublic {
					want = http.StatusOK
				}
				if rec.Code != want {
					t.Fatalf("allowPublic=%v: status = %d, want %d", allowPublic, rec.Code, want)
				}
			}
		})
	}
}

func TestStart_ServeAndStop(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), &Options{Port: port, Health: health.Fixed(true, "")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	if _, err := Start(ctx, log.Nop(), &Options{Port: port}); err == nil {
		t.Fatal("second Start on the same port should fail")
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := stop(sctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("listener still open after stop")
	}
}
