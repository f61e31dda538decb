package reqspan

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
)

// Protocol is the application protocol carried by a request.
type Protocol uint8

const (
	// ProtocolHTTP is any plain HTTP call, the default.
	ProtocolHTTP Protocol = iota
	// ProtocolGRPC is identified by an application/grpc content type.
	ProtocolGRPC
)

func (p Protocol) String() string {
	if p == ProtocolGRPC {
		return "grpc"
	}
	return "http"
}

// ProtocolFromContentType classifies a request by its Content-Type value.
func ProtocolFromContentType(ct string) Protocol {
	if strings.HasPrefix(ct, "application/grpc") {
		return ProtocolGRPC
	}
	return ProtocolHTTP
}

// ParseGRPCStatus parses a grpc-status header value. Anything other than the
// decimal codes 0..16 is Unknown.
func ParseGRPCStatus(b []byte) codes.Code {
	switch len(b) {
	case 1:
		if b[0] >= '0' && b[0] <= '9' {
			return codes.Code(b[0] - '0')
		}
	case 2:
		if b[0] == '1' && b[1] >= '0' && b[1] <= '6' {
			return codes.Code(10 + b[1] - '0')
		}
	}
	return codes.Unknown
}

// grpcStatus reads grpc-status from the response headers or trailers. A
// response that never set it is Unknown.
func grpcStatus(h http.Header) codes.Code {
	v := h.Get("Grpc-Status")
	if v == "" {
		v = h.Get(http.TrailerPrefix + "Grpc-Status")
	}
	if v == "" {
		return codes.Unknown
	}
	return ParseGRPCStatus([]byte(v))
}

// protocolVersion renders r.Proto the way semconv wants it: 1.0, 1.1, 2, 3
func protocolVersion(r *http.Request) string {
	switch {
	case r.ProtoMajor == 0 && r.ProtoMinor == 9:
		return "0.9"
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		return "1.0"
	case r.ProtoMajor == 1 && r.ProtoMinor == 1:
		return "1.1"
	case r.ProtoMajor == 2:
		return "2"
	case r.ProtoMajor == 3:
		return "3"
	default:
		return "0"
	}
}
