// Package clientip extracts the client address of an HTTP request for the
// request span layer. Forwarding headers are only honored when the peer is
// a private address and a number of trusted proxy hops is configured.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/reqtrace/internal/reqspan"
)

// Extractor implements the client IP half of reqspan.Context.
type Extractor struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (forwarding headers ignored), 1 = single
	// load balancer (rightmost entry), 2 = CDN + load balancer (second from
	// end), etc.
	TrustedHops int
	// UseForwarded reads the RFC 7239 Forwarded header before X-Forwarded-For.
	UseForwarded bool
}

// ExtractClientIP returns the peer address, or the Nth-from-end forwarded
// entry when the peer is trusted. Too few entries fail closed to the peer.
func (e Extractor) ExtractClientIP(span trace.Span, r *http.Request) (netip.Addr, bool) {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return netip.Addr{}, false
	}

	// not from our infrastructure or no proxies configured, the peer is the client
	if !peer.Unmap().IsPrivate() || e.TrustedHops <= 0 {
		return peer, true
	}

	var nodes []string
	var source string
	if e.UseForwarded {
		if v := strings.Join(r.Header.Values("Forwarded"), ","); v != "" {
			nodes, source = forwardedNodes(v), "forwarded"
		}
	}
	if source == "" {
		if v := strings.Join(r.Header.Values("X-Forwarded-For"), ","); v != "" {
			nodes, source = strings.Split(v, ","), "x-forwarded-for"
		}
	}
	if source == "" {
		return peer, true
	}

	idx := len(nodes) - e.TrustedHops
	if idx < 0 {
		// fewer entries than expected proxies: misconfiguration or manipulation
		if span != nil {
			span.AddEvent("client_ip.forwarded_rejected", trace.WithAttributes(
				attribute.String("client_ip.source", source),
				attribute.Int("client_ip.entries", len(nodes)),
				attribute.Int("client_ip.trusted_hops", e.TrustedHops),
			))
		}
		return peer, true
	}
	if a, ok := parseNode(strings.TrimSpace(nodes[idx])); ok {
		return a, true
	}
	return peer, true
}

// Context pairs an Extractor with the list of headers to inspect.
func (e Extractor) Context(headers ...string) reqspan.Context {
	return reqspan.Funcs{Headers: headers, ClientIP: e.ExtractClientIP}
}

func peerAddr(remote string) (netip.Addr, bool) {
	if remote == "" {
		return netip.Addr{}, false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		// RemoteAddr without a port, set by some test servers and proxies
		host = remote
	}
	a, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return a, true
}

// ParseXForwardedFor returns the addresses of an X-Forwarded-For list in order.
// Entries that are not IP addresses are dropped.
func ParseXForwardedFor(v string) []netip.Addr {
	var out []netip.Addr
	for _, part := range strings.Split(v, ",") {
		if a, ok := parseNode(strings.TrimSpace(part)); ok {
			out = append(out, a)
		}
	}
	return out
}

// ParseForwarded returns the for= addresses of an RFC 7239 Forwarded value in
// order. Obfuscated identifiers ("_hidden"), "unknown" and anything else that
// is not an address are skipped.
func ParseForwarded(v string) []netip.Addr {
	var out []netip.Addr
	for _, n := range forwardedNodes(v) {
		if a, ok := parseNode(n); ok {
			out = append(out, a)
		}
	}
	return out
}

// forwardedNodes returns the unquoted for= value of every element, "" for
// elements without one, so positions line up with proxy hops
func forwardedNodes(v string) []string {
	var out []string
	for _, elem := range splitQuoted(v, ',') {
		node := ""
		for _, pair := range splitQuoted(elem, ';') {
			key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			val = strings.TrimSpace(val)
			if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
				val = val[1 : len(val)-1]
			}
			node = val
			break
		}
		out = append(out, node)
	}
	return out
}

// parseNode accepts "ip", "ip:port", "[ipv6]" and "[ipv6]:port"
func parseNode(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a, true
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if a, err := netip.ParseAddr(s[1 : len(s)-1]); err == nil {
			return a, true
		}
	}
	// obfuscated port ("[2001:db8::1]:_abc" or "1.2.3.4:_abc")
	if i := strings.LastIndex(s, ":"); i > 0 && strings.HasPrefix(s[i+1:], "_") {
		return parseNode(s[:i])
	}
	return netip.Addr{}, false
}

// splitQuoted splits s on sep outside double quotes
func splitQuoted(s string, sep byte) []string {
	var out []string
	start, quoted := 0, false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && quoted:
			i++
		case s[i] == '"':
			quoted = !quoted
		case s[i] == sep && !quoted:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
