package azure

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the Azure account API.
// Each Metrics has its own registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AccountEvents       *prometheus.CounterVec
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		AccountEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_events_total",
			Help:      "Host account change notifications received",
		}, []string{"event"}),
	}
	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration, m.AccountEvents)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(route string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordEvent counts a host account notification.
func (m *Metrics) RecordEvent(event string) {
	m.AccountEvents.WithLabelValues(event).Inc()
}
