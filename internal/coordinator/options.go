package coordinator

import (
	"time"

	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
	"github.com/tphakala/tricam/internal/observation"
)

// DefaultStaleThreshold is the number of consecutive all-stale cycles that
// stops capture.
const DefaultStaleThreshold = 10

// defaultFramePeriod sizes the grab budget when neither the config nor the
// sensors give a rate.
const defaultFramePeriod = 100 * time.Millisecond

// Config tunes the capture loop.
type Config struct {
	// GrabTimeout bounds one camera's grab per cycle. Zero means three
	// frame periods of the slowest camera.
	GrabTimeout time.Duration

	// StaleThreshold is the number of consecutive cycles in which every
	// camera must fail before Run gives up. Zero means DefaultStaleThreshold.
	StaleThreshold int

	// MaxCycleRate caps cycles per second. Zero disables the cap.
	MaxCycleRate float64
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records cycle, grab and staleness metrics.
func WithMetrics(m *metrics.CaptureMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCycleHook registers fn to run after every appended cycle. It runs on
// the capture goroutine and must not block.
func WithCycleHook(fn func(seq uint64, obs observation.TriCameraObservation)) Option {
	return func(c *Coordinator) {
		c.onCycle = fn
	}
}
