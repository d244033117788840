package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics contains Prometheus metrics for the HTTP binding surface
type APIMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	imageCacheTotal *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewAPIMetrics creates and registers new API metrics
func NewAPIMetrics(registry *prometheus.Registry) (*APIMetrics, error) {
	m := &APIMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *APIMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_api_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tricam_api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.imageCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_api_image_cache_total",
			Help: "Encoded image cache lookups",
		},
		[]string{"result"},
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.imageCacheTotal,
	}
}

// Describe implements the Collector interface
func (m *APIMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *APIMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRequest records one served request
func (m *APIMetrics) RecordRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordImageCache records an image cache hit or miss
func (m *APIMetrics) RecordImageCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.imageCacheTotal.WithLabelValues("hit").Inc()
	} else {
		m.imageCacheTotal.WithLabelValues("miss").Inc()
	}
}
