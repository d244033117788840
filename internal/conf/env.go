// env.go - Environment variable configuration and validation for tricam
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "TRICAM_DEBUG", validateEnvBool},

		// Cameras
		{"cameras.backend", "TRICAM_CAMERAS_BACKEND", validateEnvBackend},
		{"cameras.width", "TRICAM_CAMERAS_WIDTH", validateEnvPositiveInt},
		{"cameras.height", "TRICAM_CAMERAS_HEIGHT", validateEnvPositiveInt},
		{"cameras.channels", "TRICAM_CAMERAS_CHANNELS", validateEnvChannels},
		{"cameras.framerate", "TRICAM_CAMERAS_FRAMERATE", validateEnvPositiveFloat},
		{"cameras.grabtimeout", "TRICAM_CAMERAS_GRABTIMEOUT", validateEnvDuration},
		{"cameras.stalethreshold", "TRICAM_CAMERAS_STALETHRESHOLD", validateEnvPositiveInt},

		// Shared buffer
		{"buffer.name", "TRICAM_BUFFER_NAME", validateEnvBufferName},
		{"buffer.dir", "TRICAM_BUFFER_DIR", nil},
		{"buffer.capacity", "TRICAM_BUFFER_CAPACITY", validateEnvPositiveInt},

		// Surfaces
		{"api.enabled", "TRICAM_API_ENABLED", validateEnvBool},
		{"api.listen", "TRICAM_API_LISTEN", nil},
		{"telemetry.enabled", "TRICAM_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "TRICAM_TELEMETRY_LISTEN", nil},
		{"sentry.enabled", "TRICAM_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "TRICAM_SENTRY_DSN", nil},
		{"pose.command", "TRICAM_POSE_COMMAND", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validateEnvChannels(value string) error {
	if value != "1" && value != "3" {
		return fmt.Errorf("must be 1 or 3")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fmt.Errorf("must be a non-negative duration such as 100ms")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendOpenCV, BackendVendor, BackendSim:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendOpenCV, BackendVendor, BackendSim)
}

func validateEnvBufferName(value string) error {
	return validateBufferName(value)
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
