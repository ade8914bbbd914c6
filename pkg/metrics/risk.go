package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RiskMetrics contains the collectors of the risk classifier.
type RiskMetrics struct {
	Predictions *prometheus.CounterVec
	ModelLoads  *prometheus.CounterVec
	Overrides   prometheus.Counter
}

// NewRiskMetrics creates and registers the classifier collectors.
func NewRiskMetrics(namespace string) *RiskMetrics {
	m := &RiskMetrics{
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "predictions_total",
				Help:      "Classifier results by label",
			},
			[]string{"label"},
		),
		ModelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "model_loads_total",
				Help:      "Model artifact loads by source",
			},
			[]string{"source"}, // source: artifact, trained, error
		),
		Overrides: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "fall_overrides_total",
				Help:      "Normal predictions upgraded by the proximity safety rule",
			},
		),
	}

	MustRegister(m.Predictions, m.ModelLoads, m.Overrides)

	return m
}
