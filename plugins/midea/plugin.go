package midea

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/joshp123/midea/internal/blob"
	"github.com/joshp123/midea/internal/config"
	"github.com/joshp123/midea/internal/core"
	"github.com/joshp123/midea/internal/rate"
	"github.com/prometheus/client_golang/prometheus"
)

const pluginID = "midea"

type pluginState struct {
	mu      sync.RWMutex
	health  core.HealthStatus
	message string
	// disabled lists sinks that failed to initialize; polls cannot clear it.
	disabled []string
}

func (s *pluginState) disableSink(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = append(s.disabled, name+" disabled: "+err.Error())
	s.health = core.HealthDegraded
	s.message = strings.Join(s.disabled, "; ")
}

func (s *pluginState) observe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.health = core.HealthDegraded
		s.message = err.Error()
	case len(s.disabled) > 0:
		s.health = core.HealthDegraded
		s.message = strings.Join(s.disabled, "; ")
	default:
		s.health = core.HealthHealthy
		s.message = ""
	}
}

// Plugin wires the cloud client into the daemon.
type Plugin struct {
	client *Client
	poller *InventoryPoller
	closer func()
	state  *pluginState
}

// NewPlugin constructs the Midea plugin from config. The bool reports whether
// the plugin is configured at all.
func NewPlugin(ctx context.Context, cfg *config.Config) (Plugin, bool) {
	if cfg == nil || cfg.Midea == nil {
		return Plugin{}, false
	}

	failed := func(err error) (Plugin, bool) {
		return Plugin{state: &pluginState{health: core.HealthError, message: err.Error()}}, true
	}

	runtimeCfg, err := ConfigFromFile(cfg.Midea)
	if err != nil {
		return failed(err)
	}
	client, err := NewClient(ctx, runtimeCfg)
	if err != nil {
		return failed(err)
	}

	state := &pluginState{health: core.HealthHealthy}
	var (
		publisher   Publisher
		store       blob.Store
		topicPrefix string
		closer      func()
	)
	if cfg.MQTT != nil {
		mqttPublisher, err := NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Printf("midea mqtt disabled: %v", err)
			state.disableSink("mqtt", err)
		} else {
			publisher = mqttPublisher
			topicPrefix = cfg.MQTT.TopicPrefix
			closer = mqttPublisher.Close
		}
	}
	if cfg.Blob != nil {
		s3, err := blob.NewS3Store(cfg.Blob)
		if err != nil {
			log.Printf("midea inventory mirror disabled: %v", err)
			state.disableSink("blob mirror", err)
		} else {
			store = s3
		}
	}

	poller := NewInventoryPoller(client, runtimeCfg.PollInterval, publisher, store, topicPrefix)
	poller.onResult = state.observe

	return Plugin{client: client, poller: poller, closer: closer, state: state}, true
}

func (p Plugin) ID() string {
	return pluginID
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "Midea",
		Version:     "0.1.0",
	}
}

// Client returns the cloud client, or nil if construction failed.
func (p Plugin) Client() *Client {
	return p.client
}

var _ core.Runner = Plugin{}

// Run drives the inventory poller until ctx is done.
func (p Plugin) Run(ctx context.Context) error {
	if p.poller == nil {
		<-ctx.Done()
		return nil
	}
	if p.closer != nil {
		defer p.closer()
	}
	return p.poller.Run(ctx)
}

func (p Plugin) Collectors() []prometheus.Collector {
	collectors := append(MetricsCollectors(), rate.MetricsCollectors()...)
	if p.client != nil {
		collectors = append(collectors, NewInventoryCollector(p.client))
	}
	return collectors
}

func (p Plugin) Health() core.HealthStatus {
	if p.state == nil {
		return core.HealthError
	}
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	return p.state.health
}

func (p Plugin) HealthMessage() string {
	if p.state == nil {
		return "not configured"
	}
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	return p.state.message
}
