package reqspan

import (
	"context"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader is the default header a request id is read from and echoed on.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen caps ids taken from the client.
const maxRequestIDLen = 64

// Info is what the layer learned about a request. Inner handlers read it with
// InfoFromContext.
type Info struct {
	Protocol  Protocol
	RequestID string
	// ClientIP is the zero Addr when the Context could not determine one.
	ClientIP netip.Addr
}

type infoKey struct{}

func withInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the Info stored by the layer, if any.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// RequestIDFromContext returns the request id or "" when there is none.
func RequestIDFromContext(ctx context.Context) string {
	info, _ := InfoFromContext(ctx)
	return info.RequestID
}

// ClientIPFromContext returns the client IP as a string or "" when unknown.
func ClientIPFromContext(ctx context.Context) string {
	info, ok := InfoFromContext(ctx)
	if !ok || !info.ClientIP.IsValid() {
		return ""
	}
	return info.ClientIP.String()
}

// requestID reuses the client supplied id (truncated) or mints a UUIDv4
func requestID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return uuid.NewString()
	}
	if len(v) > maxRequestIDLen {
		v = v[:maxRequestIDLen]
	}
	return v
}
