// Package metrics holds the process-wide Prometheus registry raid6ctl
// exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all raid6 metrics.
var Registry = NewRegistry()

// NewRegistry returns a registry with the standard Go and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return HandlerFor(Registry)
}

// HandlerFor serves reg in the Prometheus exposition format.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
