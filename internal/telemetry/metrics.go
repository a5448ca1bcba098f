// Package telemetry holds the Prometheus collectors of the service.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fidde/cicd_health/internal/storage"
)

const namespace = "cicd_health"

var histogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics records request, store and parsing metrics on its own registry.
// It implements storage.Observer and analyzer.Observer.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	storeLatency   *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
	malformed      *prometheus.CounterVec
	unparsable     *prometheus.CounterVec
	storeUp        prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of event store operations",
			Buckets:   histogramBuckets,
		}, []string{"op", "outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Event store operations that failed, by kind",
		}, []string{"op", "kind"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "malformed_payloads_total",
			Help:      "Analysis payloads that could not be decoded",
		}, []string{"field"}),
		unparsable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "unparsable_durations_total",
			Help:      "Resolution estimates that matched no duration rule",
		}, []string{"form"}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "up",
			Help:      "Whether the last event store health check succeeded",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestLatency,
		m.storeLatency,
		m.storeErrors,
		m.malformed,
		m.unparsable,
		m.storeUp,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(d.Seconds())
}

// ObserveStoreOp records one event store operation.
func (m *Metrics) ObserveStoreOp(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.storeErrors.WithLabelValues(op, errorKind(err)).Inc()
	}
	m.storeLatency.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, storage.ErrInvalidQuery):
		return "invalid_query"
	default:
		return "other"
	}
}

// MalformedPayload counts a payload absorbed as an empty mapping.
func (m *Metrics) MalformedPayload(field string) {
	m.malformed.WithLabelValues(field).Inc()
}

// UnparsableDuration counts an estimate that needed a fallback.
func (m *Metrics) UnparsableDuration(form string) {
	m.unparsable.WithLabelValues(form).Inc()
}

// SetStoreUp records the outcome of a store health check.
func (m *Metrics) SetStoreUp(up bool) {
	if up {
		m.storeUp.Set(1)
		return
	}
	m.storeUp.Set(0)
}
