package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIHeaders_Hardening(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	APIHeaders()(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	required := map[string]string{
		"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-site",
	}
	for header, want := range required {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "" {
		t.Errorf("Access-Control-Expose-Headers = %q, want empty", got)
	}
}

func TestAPIHeaders_ExposeList(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	mw := APIHeaders("traceparent", "tracestate", " Traceparent ", "", "x-request-id")
	mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	want := "Traceparent, Tracestate, X-Request-Id"
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != want {
		t.Fatalf("Access-Control-Expose-Headers = %q, want %q", got, want)
	}
}

func TestAPIHeaders_HeadersSetBeforeHandler(t *testing.T) {
	var sawNosniff string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawNosniff = w.Header().Get("X-Content-Type-Options")
	})

	APIHeaders()(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if sawNosniff != "nosniff" {
		t.Fatalf("handler saw X-Content-Type-Options = %q, want nosniff", sawNosniff)
	}
}
