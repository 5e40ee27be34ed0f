package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "midea_rate_limit_remaining",
			Help: "Remaining local request budget for the provider window",
		},
		[]string{"provider", "window"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "midea_rate_limit_retry_after_seconds",
			Help: "Cooldown seconds requested by the provider",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "midea_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
	blockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "midea_rate_limit_blocked_total",
			Help: "Requests blocked locally before reaching the provider",
		},
		[]string{"provider", "reason"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		retryAfterGauge,
		lastStatusGauge,
		blockedTotal,
	}
}
