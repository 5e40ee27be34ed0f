package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus represents plugin health states for health reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Manifest describes a plugin for discovery and health metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
}

// Plugin is the compile-time contract for daemon plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner is implemented by plugins with background work. Run blocks until ctx
// is done.
type Runner interface {
	Run(ctx context.Context) error
}
