// Package metrics provides Prometheus collectors for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for the tri-camera coordinator
type CaptureMetrics struct {
	registry *prometheus.Registry

	cyclesTotal       prometheus.Counter
	grabsTotal        *prometheus.CounterVec
	grabDuration      *prometheus.HistogramVec
	staleCyclesTotal  *prometheus.CounterVec
	consecutiveStale  *prometheus.GaugeVec
	cycleDuration     prometheus.Histogram
	captureLossTotal  prometheus.Counter
	coordinatorState  *prometheus.GaugeVec
	lastPublishedSeq  prometheus.Gauge
	simulatorTime     prometheus.Gauge
	poseRequestsTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewCaptureMetrics creates and registers new capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tricam_capture_cycles_total",
		Help: "Total number of completed capture cycles",
	})

	m.grabsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_camera_grabs_total",
			Help: "Per-camera grab outcomes",
		},
		[]string{"camera", "status"},
	)

	m.grabDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tricam_camera_grab_duration_seconds",
			Help:    "Time from grab start to frame delivery",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"camera"},
	)

	m.staleCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_camera_stale_cycles_total",
			Help: "Cycles in which a camera's previous observation was reused",
		},
		[]string{"camera"},
	)

	m.consecutiveStale = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tricam_camera_consecutive_stale_cycles",
			Help: "Current run of stale cycles per camera",
		},
		[]string{"camera"},
	)

	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tricam_capture_cycle_duration_seconds",
		Help:    "Wall time of one capture cycle including publish",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	m.captureLossTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tricam_capture_loss_total",
		Help: "Times the coordinator stopped because every camera stayed stale",
	})

	m.coordinatorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tricam_coordinator_state",
			Help: "1 for the coordinator's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	m.lastPublishedSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tricam_coordinator_last_sequence",
		Help: "Sequence number of the most recently published observation",
	})

	m.simulatorTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tricam_simulator_time_seconds",
		Help: "Simulated time of the physics world",
	})

	m.poseRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tricam_pose_requests_total",
			Help: "Pose estimation requests by outcome",
		},
		[]string{"camera", "status"},
	)

	m.collectors = []prometheus.Collector{
		m.cyclesTotal,
		m.grabsTotal,
		m.grabDuration,
		m.staleCyclesTotal,
		m.consecutiveStale,
		m.cycleDuration,
		m.captureLossTotal,
		m.coordinatorState,
		m.lastPublishedSeq,
		m.simulatorTime,
		m.poseRequestsTotal,
	}
}

// Describe implements the Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordCycle records a finished capture cycle
func (m *CaptureMetrics) RecordCycle(seconds float64, sequence uint64) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(seconds)
	m.lastPublishedSeq.Set(float64(sequence))
}

// RecordGrab records the outcome of one camera grab
func (m *CaptureMetrics) RecordGrab(camera, status string, seconds float64) {
	if m == nil {
		return
	}
	m.grabsTotal.WithLabelValues(camera, status).Inc()
	if status == StatusOK {
		m.grabDuration.WithLabelValues(camera).Observe(seconds)
	}
}

// RecordStale records a reused observation and the camera's current stale run
func (m *CaptureMetrics) RecordStale(camera string, consecutive int) {
	if m == nil {
		return
	}
	m.staleCyclesTotal.WithLabelValues(camera).Inc()
	m.consecutiveStale.WithLabelValues(camera).Set(float64(consecutive))
}

// ResetStale clears a camera's stale run after a fresh frame
func (m *CaptureMetrics) ResetStale(camera string) {
	if m == nil {
		return
	}
	m.consecutiveStale.WithLabelValues(camera).Set(0)
}

// RecordCaptureLoss records a coordinator stop caused by total camera loss
func (m *CaptureMetrics) RecordCaptureLoss() {
	if m == nil {
		return
	}
	m.captureLossTotal.Inc()
}

// UpdateState marks state as the coordinator's current state
func (m *CaptureMetrics) UpdateState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.coordinatorState.WithLabelValues(s).Set(v)
	}
}

// UpdateSimulatorTime records the physics world's clock
func (m *CaptureMetrics) UpdateSimulatorTime(seconds float64) {
	if m == nil {
		return
	}
	m.simulatorTime.Set(seconds)
}

// RecordPoseRequest records a pose estimation outcome
func (m *CaptureMetrics) RecordPoseRequest(camera, status string) {
	if m == nil {
		return
	}
	m.poseRequestsTotal.WithLabelValues(camera, status).Inc()
}
