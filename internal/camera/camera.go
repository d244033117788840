// Package camera defines the driver contract shared by every capture backend
// and the errors those backends report.
//
// A Driver produces one Observation per call. Backends are chosen once at
// construction (see package drivers) and are interchangeable: the
// coordinator only ever sees this interface.
package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/observation"
)

// Driver is a single camera.
type Driver interface {
	// GetObservation blocks until a frame is available, the backend's own
	// timeout elapses or ctx is done. Failures are *CaptureError values the
	// caller may absorb by reusing the previous frame.
	GetObservation(ctx context.Context) (observation.Observation, error)

	// SensorInfo describes the frames this driver produces. It is fixed once
	// the driver is open.
	SensorInfo() SensorInfo

	Close() error
}

// SensorInfo is the resolution and expected rate of a camera.
type SensorInfo struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Channels  int     `json:"channels"`
	FrameRate float64 `json:"frame_rate"`
}

// FramePeriod is the expected time between frames, or 0 if the rate is unknown.
func (s SensorInfo) FramePeriod() time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.FrameRate)
}

// Layout returns the observation layout matching this sensor.
func (s SensorInfo) Layout() (observation.Layout, error) {
	return observation.NewLayout(s.Width, s.Height, s.Channels)
}

func (s SensorInfo) String() string {
	return fmt.Sprintf("%dx%dx%d@%.1ffps", s.Width, s.Height, s.Channels, s.FrameRate)
}

// ErrClosed is wrapped by grabs on a closed driver.
var ErrClosed = errors.NewStd("camera closed")

// ErrorKind classifies a capture failure.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"   // no frame within the budget
	KindDecode   ErrorKind = "decode"    // frame arrived but could not be converted
	KindNotReady ErrorKind = "not-ready" // source has not produced the next frame yet
	KindDevice   ErrorKind = "device"    // device or backend failure
)

// CaptureError is a recoverable per-grab failure.
type CaptureError struct {
	Camera string
	Op     string
	Kind   ErrorKind
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", e.Camera, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Camera, e.Op, e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ErrorCategory lets the errors package classify capture failures.
func (e *CaptureError) ErrorCategory() errors.ErrorCategory { return errors.CategoryCapture }

// Timeout reports whether the grab ran out of time.
func (e *CaptureError) Timeout() bool { return e.Kind == KindTimeout || e.Kind == KindNotReady }

// NewCaptureError builds a CaptureError wrapped with camera context.
func NewCaptureError(camera, backend, op string, kind ErrorKind, err error) error {
	return errors.New(&CaptureError{Camera: camera, Op: op, Kind: kind, Err: err}).
		Component("camera").
		Category(errors.CategoryCapture).
		CameraContext(camera, backend).
		Context("kind", string(kind)).
		Build()
}

// AsCaptureError extracts a CaptureError from err's chain.
func AsCaptureError(err error) (*CaptureError, bool) {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ConfigurationError is an unrecoverable mismatch between what a camera
// produces and what the rig was configured for.
type ConfigurationError struct {
	Camera string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %v", e.Camera, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrorCategory lets the errors package classify configuration failures.
func (e *ConfigurationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// NewConfigurationError builds a ConfigurationError wrapped with camera context.
func NewConfigurationError(camera, backend, format string, args ...any) error {
	return errors.New(&ConfigurationError{Camera: camera, Err: fmt.Errorf(format, args...)}).
		Component("camera").
		Category(errors.CategoryConfiguration).
		CameraContext(camera, backend).
		Priority(errors.PriorityHigh).
		Build()
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// CheckFrame verifies that obs matches the sensor info read at start-up. A
// resolution change mid-run cannot be recovered from.
func CheckFrame(camera string, info SensorInfo, obs observation.Observation) error {
	img := obs.Image
	if img.Width != info.Width || img.Height != info.Height || img.Channels != info.Channels {
		return NewConfigurationError(camera, "",
			"frame is %s, sensor was initialized as %dx%dx%d",
			img.Shape(), info.Width, info.Height, info.Channels)
	}
	if err := img.Validate(); err != nil {
		return NewConfigurationError(camera, "", "invalid frame: %v", err)
	}
	return nil
}
