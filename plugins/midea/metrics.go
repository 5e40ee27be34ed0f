package midea

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "midea_api_requests_total",
			Help: "Cloud API requests by endpoint and outcome",
		},
		[]string{"endpoint", "result"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "midea_api_request_duration_seconds",
			Help:    "Cloud API round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "midea_logins_total",
			Help: "Session establishment attempts",
		},
		[]string{"result"},
	)
	sessionEstablished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "midea_session_established",
			Help: "Session state (1=established, 0=absent)",
		},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "midea_api_retries_total",
			Help: "Requests retried after a session restart",
		},
		[]string{"endpoint"},
	)
)

// MetricsCollectors returns the client-level collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		apiRequests,
		requestDuration,
		loginTotal,
		sessionEstablished,
		retriesTotal,
	}
}

// InventoryCollector exports the last fetched appliance inventory. It never
// calls the cloud; the poller keeps the inventory fresh.
type InventoryCollector struct {
	client *Client

	online      *prometheus.GaugeVec
	active      *prometheus.GaugeVec
	count       prometheus.Gauge
	lastUpdated prometheus.Gauge
	retries     prometheus.Gauge
}

func NewInventoryCollector(client *Client) *InventoryCollector {
	labels := []string{"appliance_id", "appliance_name", "type"}
	return &InventoryCollector{
		client: client,
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "midea_appliance_online",
			Help: "Appliance online status (1=online, 0=offline)",
		}, labels),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "midea_appliance_active",
			Help: "Appliance active status (1=active, 0=inactive)",
		}, labels),
		count: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "midea_appliances",
			Help: "Appliances in the last fetched inventory",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "midea_inventory_last_update_timestamp_seconds",
			Help: "Last inventory refresh (epoch seconds)",
		}),
		retries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "midea_consecutive_retries",
			Help: "Retried failures since the last successful request",
		}),
	}
}

func (c *InventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	c.online.Describe(ch)
	c.active.Describe(ch)
	c.count.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.retries.Describe(ch)
}

func (c *InventoryCollector) Collect(ch chan<- prometheus.Metric) {
	c.online.Reset()
	c.active.Reset()

	if c.client != nil {
		appliances := c.client.Appliances()
		for _, a := range appliances {
			labels := prometheus.Labels{
				"appliance_id":   a.ID,
				"appliance_name": a.Name,
				"type":           a.Type,
			}
			c.online.With(labels).Set(boolGauge(a.Online))
			c.active.With(labels).Set(boolGauge(a.Active))
		}
		c.count.Set(float64(len(appliances)))
		if at := c.client.InventoryAt(); !at.IsZero() {
			c.lastUpdated.Set(float64(at.Unix()))
		}
		c.retries.Set(float64(c.client.Retries()))
	}

	c.online.Collect(ch)
	c.active.Collect(ch)
	c.count.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.retries.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
