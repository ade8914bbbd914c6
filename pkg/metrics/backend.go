package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics contains the collectors of the backend service.
type BackendMetrics struct {
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight *prometheus.GaugeVec
	DashboardOutcomes    *prometheus.CounterVec
	DBOperationsTotal    *prometheus.CounterVec
	DBOperationDuration  *prometheus.HistogramVec
	AlertsPublished      *prometheus.CounterVec
	AlertsStored         *prometheus.CounterVec
}

// NewBackendMetrics creates and registers the backend collectors.
func NewBackendMetrics(namespace string) *BackendMetrics {
	m := &BackendMetrics{
		GRPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "code"},
		),
		GRPCRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		GRPCRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_in_flight",
				Help:      "Number of gRPC requests currently being served",
			},
			[]string{"method"},
		),
		DashboardOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dashboard",
				Name:      "renders_total",
				Help:      "Dashboard renders by viewer role and outcome",
			},
			[]string{"role", "outcome"}, // outcome: patient_view, patient_list, roster, access_denied, profile_incomplete, not_found, error
		),
		DBOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		DBOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operation_duration_seconds",
				Help:      "Duration of store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		AlertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "published_total",
				Help:      "Risk alerts handed to the broker",
			},
			[]string{"label", "status"}, // status: sent, duplicate, error
		),
		AlertsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "stored_total",
				Help:      "Risk alerts consumed from the broker",
			},
			[]string{"status"},
		),
	}

	MustRegister(
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.GRPCRequestsInFlight,
		m.DashboardOutcomes,
		m.DBOperationsTotal,
		m.DBOperationDuration,
		m.AlertsPublished,
		m.AlertsStored,
	)

	return m
}
