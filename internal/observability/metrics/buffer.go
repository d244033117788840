package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BufferMetrics contains Prometheus metrics for the shared observation buffer
type BufferMetrics struct {
	registry *prometheus.Registry

	appendsTotal    *prometheus.CounterVec
	appendDuration  prometheus.Histogram
	published       prometheus.Gauge
	readsTotal      *prometheus.CounterVec
	waitsTotal      *prometheus.CounterVec
	skippedTotal    prometheus.Counter
	writerAlive     prometheus.Gauge
	heartbeatAgeSec prometheus.Gauge

	collectors []prometheus.Collector
}

// NewBufferMetrics creates and registers new buffer metrics
func NewBufferMetrics(registry *prometheus.Registry) (*BufferMetrics, error) {
	m := &BufferMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BufferMetrics) initMetrics() {
	m.appendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_buffer_appends_total",
			Help: "Append attempts on the shared buffer",
		},
		[]string{"status"},
	)

	m.appendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tricam_buffer_append_duration_seconds",
		Help:    "Time to encode and publish one observation",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
	})

	m.published = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tricam_buffer_published",
		Help: "Number of observations published since the region was created",
	})

	m.readsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_buffer_reads_total",
			Help: "Reader lookups by result",
		},
		[]string{"status"},
	)

	m.waitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_buffer_waits_total",
			Help: "Reader waits by result",
		},
		[]string{"status"},
	)

	m.skippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tricam_buffer_skipped_total",
		Help: "Observations a reader cursor lost because it fell behind by more than the capacity",
	})

	m.writerAlive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tricam_buffer_writer_alive",
		Help: "1 when the attached buffer has a live writer",
	})

	m.heartbeatAgeSec = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tricam_buffer_heartbeat_age_seconds",
		Help: "Age of the writer heartbeat seen by this reader",
	})

	m.collectors = []prometheus.Collector{
		m.appendsTotal,
		m.appendDuration,
		m.published,
		m.readsTotal,
		m.waitsTotal,
		m.skippedTotal,
		m.writerAlive,
		m.heartbeatAgeSec,
	}
}

// Describe implements the Collector interface
func (m *BufferMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *BufferMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordAppend records an append and the resulting published count
func (m *BufferMetrics) RecordAppend(status string, seconds float64, published uint64) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		m.appendDuration.Observe(seconds)
		m.published.Set(float64(published))
	}
}

// RecordRead records a reader lookup result
func (m *BufferMetrics) RecordRead(status string) {
	if m == nil {
		return
	}
	m.readsTotal.WithLabelValues(status).Inc()
}

// RecordWait records a reader wait result
func (m *BufferMetrics) RecordWait(status string) {
	if m == nil {
		return
	}
	m.waitsTotal.WithLabelValues(status).Inc()
}

// RecordSkipped records entries a cursor lost to eviction
func (m *BufferMetrics) RecordSkipped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.skippedTotal.Add(float64(n))
}

// UpdateWriterStatus records liveness as seen by a reader
func (m *BufferMetrics) UpdateWriterStatus(alive bool, heartbeatAgeSeconds float64) {
	if m == nil {
		return
	}
	if alive {
		m.writerAlive.Set(1)
	} else {
		m.writerAlive.Set(0)
	}
	m.heartbeatAgeSec.Set(heartbeatAgeSeconds)
}
