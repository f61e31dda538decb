package ratelimit

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

// visitor tracks a single client's limiter and last activity
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether we have already emitted the first-denial hook,
	// resets when the entry is evicted and re-created
	logged bool
}

// IPLimiter holds per-client rate limiters with background eviction
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[netip.Addr]*visitor

	perSecond rate.Limit
	burst     int

	// ttl controls how long an idle client stays in the map before cleanup evicts it
	ttl time.Duration

	// maxVisitors caps the map size, 0 disables the cap
	maxVisitors int
	atCapacity  bool

	// OnFirstDenied is called once per visitor when they first get rate limited
	OnFirstDenied func(ip netip.Addr)

	// OnDenied is called on every denied request
	OnDenied func(ip netip.Addr)

	// OnCapacity is called once each time the visitor map fills up
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket size.
// WithRate(10, 50) allows 50 requests at once, then refills at 10 requests per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle client stays in the map before cleanup
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithMaxVisitors caps how many clients are tracked at once. New clients are
// rejected while the map is full, known clients keep their buckets.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

// WithOnFirstDenied sets a callback for the first denial per visitor, used for
// logging once while OnDenied counts every denial.
func WithOnFirstDenied(fn func(ip netip.Addr)) Option {
	return func(l *IPLimiter) { l.OnFirstDenied = fn }
}

// WithOnDenied sets a callback for every denied request
func WithOnDenied(fn func(ip netip.Addr)) Option {
	return func(l *IPLimiter) { l.OnDenied = fn }
}

// WithOnCapacity sets a callback fired when the visitor map first fills up
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.OnCapacity = fn }
}

// New creates an IPLimiter and starts the background cleanup goroutine, which
// stops when ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[netip.Addr]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// allow reports whether ip is within its rate limit, creating its visitor on
// first sight. Hooks run after the lock is released.
func (l *IPLimiter) allow(ip netip.Addr) bool {
	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			first := !l.atCapacity
			l.atCapacity = true
			l.mu.Unlock()
			if first && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(ip)
			}
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()

	firstDenial := !allowed && !v.logged
	if firstDenial {
		v.logged = true
	}
	l.mu.Unlock()

	if firstDenial && l.OnFirstDenied != nil {
		l.OnFirstDenied(ip)
	}
	if !allowed && l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return allowed
}

// cleanup evicts visitors not seen within the TTL, running every TTL/2
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
				l.atCapacity = false
			}
			l.mu.Unlock()
		}
	}
}

// clientKey prefers the address the span layer extracted and falls back to
// the peer address when the limiter runs outside the layer
func clientKey(r *http.Request) netip.Addr {
	if info, ok := reqspan.InfoFromContext(r.Context()); ok && info.ClientIP.IsValid() {
		return info.ClientIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	a, _ := netip.ParseAddr(host)
	return a
}

// Middleware rejects requests over the per-client rate limit with 429.
// Requests whose client is unknown share the zero-address bucket.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientKey(r)

		if !l.allow(ip) {
			trace.SpanFromContext(r.Context()).AddEvent("ratelimit.denied",
				trace.WithAttributes(attribute.String("client.address", ip.String())))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about limits, remaining budget, or when the bucket refills
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
