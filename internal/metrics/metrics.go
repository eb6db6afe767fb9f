package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aa_gateway"

const (
	ServiceBundler   = "bundler"
	ServicePaymaster = "paymaster"
)

// Metrics holds the collectors of the gateway
type Metrics struct {
	reg prometheus.Gatherer

	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the gateway collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		reg: reg,

		upstreamCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "The number of JSON-RPC calls made to the bundler and paymaster services",
			}, []string{"service", "method", "status"}),

		upstreamDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Latency of JSON-RPC calls made to the bundler and paymaster services",
				Buckets:   prometheus.DefBuckets,
			}, []string{"service", "method"}),

		httpRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "The number of HTTP requests handled, by route and status code",
			}, []string{"method", "route", "code"}),

		httpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests, by route",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"}),
	}
}

// ObserveUpstream records the outcome of a single upstream call started at start
func (m *Metrics) ObserveUpstream(service, method string, start time.Time, err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	m.upstreamCalls.WithLabelValues(service, method, status).Inc()
	m.upstreamDuration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records a handled request
func (m *Metrics) ObserveHTTP(method, route string, code int, start time.Time) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}

// Handler exposes the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
