package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/reqtrace/internal/log"
)

// requireNonPublicNetwork answers 403 unless the peer is loopback, private or
// link-local. Forwarding headers are ignored, the admin port is never behind
// the public proxies.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := peerIP(r.RemoteAddr)
		if !ok || !allowedPeer(ip) {
			L.Warn(r.Context(), "admin request from public network rejected",
				"remote_addr", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func peerIP(remoteAddr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func allowedPeer(ip netip.Addr) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
