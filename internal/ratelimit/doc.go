// Package ratelimit provides per-client rate limiting with background eviction
// of stale entries.
//
// Clients are keyed by the address the request span layer extracted (see
// reqspan.InfoFromContext), so proxy trust is decided in exactly one place.
// The limiter is single-instance and in-memory: it does not protect against
// distributed attacks or bandwidth-bill attacks. For those, use an upstream
// WAF or CDN-level rate limiting.
package ratelimit
