package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FrontendMetrics contains the collectors of the web frontend.
type FrontendMetrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	AuthFailures         *prometheus.CounterVec
	GRPCClientCalls      *prometheus.CounterVec
	GRPCClientDuration   *prometheus.HistogramVec
	TemplateRenderTime   *prometheus.HistogramVec
	TemplateRenderErrors *prometheus.CounterVec
}

// NewFrontendMetrics creates and registers the frontend collectors.
func NewFrontendMetrics(namespace string) *FrontendMetrics {
	m := &FrontendMetrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "auth_failures_total",
				Help:      "Rejected sessions by reason",
			},
			[]string{"reason"},
		),
		GRPCClientCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc_client",
				Name:      "calls_total",
				Help:      "Total number of gRPC client calls",
			},
			[]string{"method", "code"},
		),
		GRPCClientDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc_client",
				Name:      "call_duration_seconds",
				Help:      "Duration of gRPC client calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TemplateRenderTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "template",
				Name:      "render_duration_seconds",
				Help:      "Duration of template rendering",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"template"},
		),
		TemplateRenderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "template",
				Name:      "render_errors_total",
				Help:      "Total number of template rendering errors",
			},
			[]string{"template"},
		),
	}

	MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AuthFailures,
		m.GRPCClientCalls,
		m.GRPCClientDuration,
		m.TemplateRenderTime,
		m.TemplateRenderErrors,
	)

	return m
}
