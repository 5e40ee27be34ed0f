package core

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServingStatus maps a plugin health state onto the gRPC health protocol.
// Degraded plugins still serve.
func ServingStatus(status HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case HealthHealthy, HealthDegraded:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// SyncHealth publishes each plugin's state under its id. The overall ("")
// service serves only when every plugin does.
func SyncHealth(server *health.Server, plugins []Plugin) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range plugins {
		status := ServingStatus(p.Health())
		server.SetServingStatus(p.ID(), status)
		if status != healthpb.HealthCheckResponse_SERVING {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	server.SetServingStatus("", overall)
}
