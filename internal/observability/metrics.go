// Package observability owns the Prometheus registry of a tricam process and
// serves it on the telemetry endpoint.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
)

// Metrics groups the collectors of every component on one private registry.
// A zero Metrics is valid: its nil members record nothing.
type Metrics struct {
	Capture *metrics.CaptureMetrics
	Buffer  *metrics.BufferMetrics
	API     *metrics.APIMetrics

	registry *prometheus.Registry
}

// NewMetrics registers the Go runtime, process and tricam collectors.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register runtime collector: %w", err)
		}
	}

	m := &Metrics{registry: reg}
	var err error
	if m.Capture, err = metrics.NewCaptureMetrics(reg); err != nil {
		return nil, fmt.Errorf("capture metrics: %w", err)
	}
	if m.Buffer, err = metrics.NewBufferMetrics(reg); err != nil {
		return nil, fmt.Errorf("buffer metrics: %w", err)
	}
	if m.API, err = metrics.NewAPIMetrics(reg); err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}
	return m, nil
}

// RegisterHandlers mounts /metrics on mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log},
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

// promLogger routes promhttp errors into the module logger.
type promLogger struct{ l logger.Logger }

func (p promLogger) Println(v ...any) {
	p.l.Warn("metrics gathering failed", logger.String("error", fmt.Sprint(v...)))
}
