// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/tricam/internal/observation"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	collect := func(errs ...error) {
		for _, err := range errs {
			if err != nil {
				ve.Errors = append(ve.Errors, err.Error())
			}
		}
	}

	collect(validateCameraSettings(&settings.Cameras)...)
	collect(validateBufferSettings(&settings.Buffer)...)
	collect(validateSimulatorSettings(&settings.Simulator, &settings.Cameras))
	collect(validateListen("api.listen", settings.API.Enabled, settings.API.Listen))
	collect(validateListen("telemetry.listen", settings.Telemetry.Enabled, settings.Telemetry.Listen))

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		collect(fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}
	if settings.Pose.Timeout < 0 {
		collect(fmt.Errorf("pose.timeout must not be negative"))
	}
	if settings.Recording.Level < 1 || settings.Recording.Level > 4 {
		collect(fmt.Errorf("recording.level must be between 1 and 4"))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCameraSettings(c *CameraSettings) []error {
	var errs []error

	switch c.Backend {
	case BackendOpenCV, BackendVendor, BackendSim:
	default:
		errs = append(errs, fmt.Errorf("cameras.backend %q must be one of %s, %s, %s",
			c.Backend, BackendOpenCV, BackendVendor, BackendSim))
	}

	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("cameras.width and cameras.height must be positive"))
	}
	if c.Channels != 1 && c.Channels != 3 {
		errs = append(errs, fmt.Errorf("cameras.channels must be 1 or 3"))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("cameras.framerate must be positive"))
	}
	if c.GrabTimeout < 0 {
		errs = append(errs, fmt.Errorf("cameras.grabtimeout must not be negative"))
	}
	if c.StaleThreshold < 1 {
		errs = append(errs, fmt.Errorf("cameras.stalethreshold must be at least 1"))
	}
	if c.MaxCycleRate < 0 {
		errs = append(errs, fmt.Errorf("cameras.maxcyclerate must not be negative"))
	}

	for name := range c.Devices {
		if _, err := observation.ParseRole(name); err != nil {
			errs = append(errs, fmt.Errorf("cameras.devices: %w", err))
		}
	}

	if c.Backend == BackendVendor {
		switch strings.ToLower(c.PixelFormat) {
		case "rgb24", "yuyv", "mjpeg":
		default:
			errs = append(errs, fmt.Errorf("cameras.pixelformat %q must be rgb24, yuyv or mjpeg", c.PixelFormat))
		}
	}

	return errs
}

func validateBufferSettings(b *BufferSettings) []error {
	var errs []error

	if err := validateBufferName(b.Name); err != nil {
		errs = append(errs, fmt.Errorf("buffer.name: %w", err))
	}
	if b.Dir == "" {
		errs = append(errs, fmt.Errorf("buffer.dir must not be empty"))
	}
	if b.Capacity < 1 {
		errs = append(errs, fmt.Errorf("buffer.capacity must be at least 1"))
	}
	if b.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("buffer.heartbeat must be positive"))
	}
	if b.StaleAfter <= b.Heartbeat {
		errs = append(errs, fmt.Errorf("buffer.staleafter must exceed buffer.heartbeat"))
	}

	return errs
}

func validateBufferName(name string) error {
	if name == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%q must be a plain file name", name)
	}
	return nil
}

func validateSimulatorSettings(s *SimulatorSettings, c *CameraSettings) error {
	if c.Backend != BackendSim {
		return nil
	}
	if s.StepRate <= 0 {
		return fmt.Errorf("simulator.steprate must be positive")
	}
	if s.StepRate < c.FrameRate {
		return fmt.Errorf("simulator.steprate %.0f is below cameras.framerate %.0f", s.StepRate, c.FrameRate)
	}
	return nil
}

func validateListen(key string, enabled bool, addr string) error {
	if !enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", key, addr, err)
	}
	return nil
}
