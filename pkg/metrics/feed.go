package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics contains the collectors of the upstream feed client.
type FeedMetrics struct {
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	WindowSize    prometheus.Histogram
}

// NewFeedMetrics creates and registers the feed client collectors.
func NewFeedMetrics(namespace string) *FeedMetrics {
	m := &FeedMetrics{
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "fetches_total",
				Help:      "Feed fetches by resulting window status",
			},
			[]string{"status"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of upstream feed requests",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
		),
		WindowSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "window_readings",
				Help:      "Number of readings returned per fetch",
				Buckets:   prometheus.LinearBuckets(0, 20, 10),
			},
		),
	}

	MustRegister(m.FetchesTotal, m.FetchDuration, m.WindowSize)

	return m
}
