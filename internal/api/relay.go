package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/reqtrace/internal/httpserver"
	"github.com/keithlinneman/reqtrace/internal/reqspan"
	"github.com/keithlinneman/reqtrace/internal/xerrors"
)

// RelayResponse pairs this request's trace with what the upstream saw
type RelayResponse struct {
	TraceID        string          `json:"trace_id,omitempty"`
	UpstreamStatus int             `json:"upstream_status"`
	Upstream       *WhoamiResponse `json:"upstream,omitempty"`
}

// HandleRelay calls the upstream whoami through the traced client, so the
// upstream's span joins this request's trace when propagation is on.
func (api *API) HandleRelay(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if api.upstream == "" {
		return httpserver.Errorf(http.StatusServiceUnavailable, "no upstream configured")
	}

	url := strings.TrimRight(api.upstream, "/") + "/api/v1/whoami"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return xerrors.Wrapf(err, "build relay request to %s", url)
	}
	if id := reqspan.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(reqspan.RequestIDHeader, id)
	}

	resp, err := api.client.Do(req)
	if err != nil {
		return &httpserver.StatusError{Status: http.StatusBadGateway, Err: xerrors.Wrapf(err, "relay to %s", url)}
	}
	defer resp.Body.Close()

	out := RelayResponse{UpstreamStatus: resp.StatusCode}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out.TraceID = sc.TraceID().String()
	}
	if resp.StatusCode == http.StatusOK {
		var who WhoamiResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&who); err != nil {
			return &httpserver.StatusError{Status: http.StatusBadGateway, Err: xerrors.Wrap(err, "decode upstream whoami")}
		}
		out.Upstream = &who
	}
	return api.writeJSON(ctx, w, http.StatusOK, out)
}
