// Package metrics provides the Prometheus collectors of the dashboard services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every collector exported by the services.
const Namespace = "health_dashboard"

// Registry is the process-wide registry. The default Prometheus registry is
// not used so that tests and embedded servers start from a known set.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler exposes the registry in the OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with Registry and panics on conflict.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}

