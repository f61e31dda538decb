// Package health provides composable probes and the liveness and readiness
// handlers served on the admin port.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [CheckFunc] adapts a plain function into a [Probe], [Named] prefixes a
// probe's failure with a component name and [Timeout] bounds a slow check.
//
// [ShutdownGate] coordinates graceful shutdown: once set, readiness fails
// immediately so load balancers stop sending traffic while in-flight request
// spans finish and the exporter flushes.
package health
