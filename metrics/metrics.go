package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the proxy's Prometheus metrics on a private registry, so
// tests and embedders never collide with the global default registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
}

// NewCollector registers the proxy metrics on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelproxy",
			Name:      "requests_total",
			Help:      "Proxied requests by model identifier and HTTP status.",
		}, []string{"model", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelproxy",
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request latency.",
			// Completion latencies run long; buckets reach a minute.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),
		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelproxy",
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(c.requestsTotal, c.requestDuration, c.reloadsTotal)
	return c
}

// ObserveRequest records one proxied request.
func (c *Collector) ObserveRequest(modelID string, status int, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(modelID, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(modelID).Observe(elapsed.Seconds())
}

// ObserveReload records the outcome of a configuration reload attempt.
func (c *Collector) ObserveReload(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.reloadsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
