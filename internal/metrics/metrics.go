// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal *prometheus.CounterVec // labels: broker, operation, outcome
	OperationDur    *prometheus.HistogramVec
	ErrorKinds      *prometheus.CounterVec // labels: broker, kind
	StreamSessions  prometheus.Gauge
	StreamTicks     *prometheus.CounterVec // labels: broker
	StreamDrops     *prometheus.CounterVec // labels: broker
	StreamRetries   *prometheus.CounterVec // labels: broker
}

// New registers and returns all gateway metrics on a private registry, so
// multiple instances can coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_operations_total",
			Help: "Routed operations by broker, operation and outcome",
		}, []string{"broker", "operation", "outcome"}),
		OperationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_operation_duration_seconds",
			Help:    "End-to-end routed operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"broker", "operation"}),
		ErrorKinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_error_kinds_total",
			Help: "Normalized failures by broker and error kind",
		}, []string{"broker", "kind"}),
		StreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_stream_sessions",
			Help: "Currently open market-data stream sessions",
		}),
		StreamTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_stream_ticks_total",
			Help: "Ticks forwarded from broker feeds",
		}, []string{"broker"}),
		StreamDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_stream_drops_total",
			Help: "Ticks dropped on slow subscribers",
		}, []string{"broker"}),
		StreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_stream_reconnects_total",
			Help: "Stream reconnection attempts by broker",
		}, []string{"broker"}),
	}

	m.registry.MustRegister(
		m.OperationsTotal,
		m.OperationDur,
		m.ErrorKinds,
		m.StreamSessions,
		m.StreamTicks,
		m.StreamDrops,
		m.StreamRetries,
	)

	return m
}

// Handler serves the metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one routed operation outcome.
func (m *Metrics) Observe(broker, operation string, seconds float64, success bool, kind string) {
	outcome := "success"
	if !success {
		outcome = "failure"
		m.ErrorKinds.WithLabelValues(broker, kind).Inc()
	}
	m.OperationsTotal.WithLabelValues(broker, operation, outcome).Inc()
	m.OperationDur.WithLabelValues(broker, operation).Observe(seconds)
}
