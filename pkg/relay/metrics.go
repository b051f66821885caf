package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the relay link
type Metrics struct {
	// StateGauge is 1 when the link is Connected, 0 when Down
	StateGauge prometheus.Gauge

	TransitionsTotal     *prometheus.CounterVec
	EventsForwardedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all relay link metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "streamgate"
	}

	m := &Metrics{
		StateGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "link_up",
			Help:      "Whether the relay link is connected (1) or down (0)",
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "transitions_total",
			Help:      "Total number of relay link state transitions broadcast",
		}, []string{"status"}),
		EventsForwardedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_forwarded_total",
			Help:      "Total number of live relay events handed to the fan-out layer",
		}, []string{"event_type"}),
	}
	m.StateGauge.Set(1)
	return m
}
