package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics contains the collectors of the RabbitMQ client.
type MQMetrics struct {
	Published         *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	ReconnectAttempts prometheus.Counter
	Connected         prometheus.Gauge
	Deliveries        *prometheus.CounterVec
}

// NewMQMetrics creates and registers the broker client collectors.
func NewMQMetrics(namespace string) *MQMetrics {
	m := &MQMetrics{
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "published_total",
				Help:      "Messages confirmed by the broker",
			},
			[]string{"queue"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "publish_failures_total",
				Help:      "Messages that could not be published",
			},
			[]string{"queue", "reason"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "publish_duration_seconds",
				Help:      "Time from publish to broker confirmation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of connection attempts",
			},
		),
		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "connected",
				Help:      "1 while a broker connection is open",
			},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "deliveries_total",
				Help:      "Deliveries handled by consumers",
			},
			[]string{"queue", "result"}, // result: ack, nack, reject
		),
	}

	MustRegister(
		m.Published,
		m.PublishFailures,
		m.PublishDuration,
		m.ReconnectAttempts,
		m.Connected,
		m.Deliveries,
	)

	return m
}
