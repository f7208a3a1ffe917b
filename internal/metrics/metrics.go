// Package metrics exposes Prometheus metrics for proxied requests and live
// reloads on a per-server registry.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EndpointPath is where the server exposes the metrics.
const EndpointPath = "/__devserver/metrics"

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	5, 10, 25,
	50, 100, 250,
	500, 1000, 2500,
	5000, 10000, 30000,
}

// Reload sources.
const (
	SourceConfig = "config"
	SourceOutput = "output"
)

// Metrics holds the collectors for one dev server. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests *prometheus.CounterVec
	ProxyLatency  *prometheus.HistogramVec
	Reloads       *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devserver_proxy_requests_total",
				Help: "Total number of requests forwarded by proxy rules",
			},
			[]string{"prefix", "method", "status"},
		),
		ProxyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devserver_proxy_latency_ms",
				Help:    "Proxy round trip latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"prefix"},
		),
		Reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devserver_reloads_total",
				Help: "Live reload notifications sent to browsers",
			},
			[]string{"source"},
		),
	}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// TrackClients exposes the number of connected live reload clients.
func (m *Metrics) TrackClients(clients func() int) error {
	if m == nil {
		return nil
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "devserver_reload_clients",
		Help: "Browsers connected to the live reload endpoint",
	}, func() float64 { return float64(clients()) })
	if err := m.registry.Register(gauge); err != nil {
		return fmt.Errorf("failed to register reload client gauge: %w", err)
	}
	return nil
}

// ObserveProxy records one proxied request.
func (m *Metrics) ObserveProxy(prefix, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(prefix, method, StatusClass(status)).Inc()
	m.ProxyLatency.WithLabelValues(prefix).Observe(float64(elapsed) / float64(time.Millisecond))
}

// StatusCancelled is the status label for requests the client abandoned
// before a response was written.
const StatusCancelled = "cancelled"

// ObserveProxyCancelled records a proxied request the client abandoned.
// Latency is not observed since no round trip completed.
func (m *Metrics) ObserveProxyCancelled(prefix, method string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(prefix, method, StatusCancelled).Inc()
}

// ObserveReload records one reload notification from source.
func (m *Metrics) ObserveReload(source string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(source).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatusClass returns the status class of code, e.g. "2xx".
func StatusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
