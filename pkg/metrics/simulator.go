package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains the collectors of the feed simulator.
type SimulatorMetrics struct {
	FeedRequests      *prometheus.CounterVec
	ReadingsGenerated prometheus.Counter
	Channels          prometheus.Gauge
}

// NewSimulatorMetrics creates and registers the simulator collectors.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		FeedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "feed_requests_total",
				Help:      "Feed requests served by status code",
			},
			[]string{"code"},
		),
		ReadingsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_generated_total",
				Help:      "Synthetic readings appended to channels",
			},
		),
		Channels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "channels",
				Help:      "Number of simulated channels",
			},
		),
	}

	MustRegister(m.FeedRequests, m.ReadingsGenerated, m.Channels)

	return m
}
