package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type stubPlugin struct {
	id         string
	name       string
	version    string
	health     HealthStatus
	collectors []prometheus.Collector
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{PluginID: s.id, DisplayName: s.name, Version: s.version}
}

func (s stubPlugin) Collectors() []prometheus.Collector { return s.collectors }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return "" }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{id: id, name: "Demo", version: "0.1.0", health: HealthHealthy}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("midea")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("midea"), newStubPlugin("midea")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Midea")}); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestMetricsRegistry(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "demo_gauge", Help: "demo"})
	shared := prometheus.NewCounter(prometheus.CounterOpts{Name: "demo_shared_total", Help: "demo"})
	plugin := newStubPlugin("demo")
	plugin.collectors = []prometheus.Collector{gauge}

	registry := MetricsRegistry([]Plugin{plugin}, shared)
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected 2 metric families, got %d", len(families))
	}
}

func TestSyncHealth(t *testing.T) {
	server := health.NewServer()
	healthy := newStubPlugin("midea")
	broken := newStubPlugin("other")
	broken.health = HealthError

	SyncHealth(server, []Plugin{healthy, broken})

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.Status
	}
	if got := check("midea"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("midea: unexpected status %s", got)
	}
	if got := check("other"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("other: unexpected status %s", got)
	}
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall: unexpected status %s", got)
	}

	SyncHealth(server, []Plugin{healthy})
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall after recovery: unexpected status %s", got)
	}
}
