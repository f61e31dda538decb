// Package httpmw provides the HTTP middleware that surrounds the request span
// layer on the public server.
//
// Outside the layer: [Recover] turns a re-raised handler panic into a 500
// after the span has recorded it. Inside the layer: [MaxBody] caps request
// bodies, [TraceResponseHeaders] echoes the active trace ids for debugging and
// [APIHeaders] sets response hardening plus the CORS expose list browsers need
// to read propagation headers.
//
// User-supplied data (query params, user-agent, headers) is never logged here.
// The span layer decides which request headers are recorded.
package httpmw
