package opshttp

import (
	"net/http"

	"github.com/keithlinneman/reqtrace/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// AllowPublic disables the private-network guard, for listeners that are
	// already bound to a private interface behind other controls
	AllowPublic bool
}
