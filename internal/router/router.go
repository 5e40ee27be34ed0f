package router

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/midea/internal/core"
)

// RegisterPlugins registers the health service on the gRPC server and seeds it
// with the current plugin states.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	core.SyncHealth(hs, plugins)
	return hs
}
