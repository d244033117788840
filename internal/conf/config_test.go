package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tricam/internal/logger"
)

func validSettings() *Settings {
	return &Settings{
		Cameras: CameraSettings{
			Backend:        BackendSim,
			Width:          640,
			Height:         480,
			Channels:       3,
			FrameRate:      30,
			StaleThreshold: DefaultStaleThreshold,
			Devices:        map[string]string{"camera60": "0"},
		},
		Buffer: BufferSettings{
			Name:       DefaultBufferName,
			Dir:        DefaultBufferDir,
			Capacity:   DefaultCapacity,
			Heartbeat:  500 * time.Millisecond,
			StaleAfter: 5 * time.Second,
		},
		Simulator: SimulatorSettings{StepRate: 240},
		Recording: RecordingSettings{Level: 1},
	}
}

// loadFromFile resets viper and loads the given YAML
func loadFromFile(t *testing.T, yaml string) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		SetConfigFile("")
	})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	SetConfigFile(path)
	return Load()
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	data, err := configFiles.ReadFile(configFileName)
	require.NoError(t, err)

	settings, err := loadFromFile(t, string(data))
	require.NoError(t, err)

	assert.Equal(t, BackendSim, settings.Cameras.Backend)
	assert.Equal(t, 640, settings.Cameras.Width)
	assert.Equal(t, DefaultCapacity, settings.Buffer.Capacity)
	assert.Equal(t, 500*time.Millisecond, settings.Buffer.Heartbeat)
	assert.Equal(t, "1", settings.Cameras.Devices["camera180"])
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	settings, err := loadFromFile(t, "cameras:\n  width: 320\n  height: 240\n")
	require.NoError(t, err)

	assert.Equal(t, 320, settings.Cameras.Width)
	assert.Equal(t, 3, settings.Cameras.Channels)
	assert.Equal(t, DefaultStaleThreshold, settings.Cameras.StaleThreshold)
	assert.Equal(t, DefaultBufferName, settings.Buffer.Name)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("TRICAM_BUFFER_CAPACITY", "4")
	t.Setenv("TRICAM_CAMERAS_BACKEND", BackendVendor)

	settings, err := loadFromFile(t, "buffer:\n  capacity: 100\n")
	require.NoError(t, err)
	assert.Equal(t, 4, settings.Buffer.Capacity)
	assert.Equal(t, BackendVendor, settings.Cameras.Backend)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("TRICAM_CAMERAS_CHANNELS", "2")

	_, err := loadFromFile(t, "debug: true\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRICAM_CAMERAS_CHANNELS")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	_, err := loadFromFile(t, "buffer:\n  capacity: 0\ncameras:\n  backend: kinect\n")
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"bad channels", func(s *Settings) { s.Cameras.Channels = 4 }, "cameras.channels"},
		{"unknown role", func(s *Settings) { s.Cameras.Devices["camera90"] = "3" }, "cameras.devices"},
		{"zero capacity", func(s *Settings) { s.Buffer.Capacity = 0 }, "buffer.capacity"},
		{"path in name", func(s *Settings) { s.Buffer.Name = "../etc" }, "buffer.name"},
		{"stale before heartbeat", func(s *Settings) { s.Buffer.StaleAfter = s.Buffer.Heartbeat }, "buffer.staleafter"},
		{"slow simulator", func(s *Settings) { s.Simulator.StepRate = 10 }, "simulator.steprate"},
		{"api listen", func(s *Settings) { s.API.Enabled = true; s.API.Listen = "nope" }, "api.listen"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"vendor pixel format", func(s *Settings) { s.Cameras.Backend = BackendVendor; s.Cameras.PixelFormat = "nv12" }, "cameras.pixelformat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEffectiveGrabTimeout(t *testing.T) {
	t.Parallel()

	c := CameraSettings{FrameRate: 20}
	assert.Equal(t, 150*time.Millisecond, c.EffectiveGrabTimeout())

	c.GrabTimeout = 40 * time.Millisecond
	assert.Equal(t, 40*time.Millisecond, c.EffectiveGrabTimeout())
}

func TestWriteYAMLLoadsBack(t *testing.T) {
	s := validSettings()
	s.Buffer.Capacity = 42
	s.Cameras.Devices = map[string]string{"camera60": "0", "camera180": "1", "camera300": "2"}
	s.Logging = logger.LoggingConfig{
		DefaultLevel: "info",
		Console:      &logger.ConsoleOutput{Enabled: true, Level: "info"},
		FileOutput:   &logger.FileOutput{Path: "logs/tricam.log", Level: "info"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, s))
	assert.Contains(t, buf.String(), "capacity: 42")
	assert.Contains(t, buf.String(), "defaultlevel:")

	loaded, err := loadFromFile(t, buf.String())
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Buffer.Capacity)
	assert.Equal(t, s.Cameras.Devices, loaded.Cameras.Devices)
	assert.Equal(t, s.Buffer.Heartbeat, loaded.Buffer.Heartbeat)
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	viper.Reset()
	SetConfigFile("")
	t.Cleanup(viper.Reset)

	dirs, err := configDirs()
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, filepath.Join(base, "tricam"), dirs[0])

	settings, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSim, settings.Cameras.Backend)
	assert.FileExists(t, filepath.Join(base, "tricam", configFileName))

	dirs, err = configDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "tricam")}, dirs)
}
