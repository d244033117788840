// config.go: settings model and loading for tricam
package conf

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Backend names accepted by cameras.backend
const (
	BackendOpenCV = "opencv"
	BackendVendor = "vendor"
	BackendSim    = "sim"
)

// Settings contains all configuration options for tricam
type Settings struct {
	Debug     bool   `yaml:"debug"`
	Version   string `yaml:"-" mapstructure:"-"`
	BuildDate string `yaml:"-" mapstructure:"-"`

	Logging   logger.LoggingConfig `yaml:"logging"`
	Cameras   CameraSettings       `yaml:"cameras"`
	Buffer    BufferSettings       `yaml:"buffer"`
	Simulator SimulatorSettings    `yaml:"simulator"`
	API       APISettings          `yaml:"api"`
	Telemetry TelemetrySettings    `yaml:"telemetry"`
	Sentry    SentrySettings       `yaml:"sentry"`
	Pose      PoseSettings         `yaml:"pose"`
	Recording RecordingSettings    `yaml:"recording"`
}

// CameraSettings selects the capture backend and the rig's sensor shape.
type CameraSettings struct {
	Backend        string            `yaml:"backend"`        // opencv, vendor or sim
	Devices        map[string]string `yaml:"devices"`        // role name to device index, path or URL
	Width          int               `yaml:"width"`          // sensor width in pixels
	Height         int               `yaml:"height"`         // sensor height in pixels
	Channels       int               `yaml:"channels"`       // 1 for mono, 3 for RGB
	FrameRate      float64           `yaml:"framerate"`      // expected frames per second
	PixelFormat    string            `yaml:"pixelformat"`    // vendor backend: rgb24, yuyv or mjpeg
	GrabTimeout    time.Duration     `yaml:"grabtimeout"`    // 0 means three frame periods
	StaleThreshold int               `yaml:"stalethreshold"` // consecutive all-stale cycles before stopping
	MaxCycleRate   float64           `yaml:"maxcyclerate"`   // cycles per second cap, 0 for none
}

// FramePeriod is the expected interval between frames.
func (c *CameraSettings) FramePeriod() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// EffectiveGrabTimeout returns GrabTimeout or, when unset, three frame periods.
func (c *CameraSettings) EffectiveGrabTimeout() time.Duration {
	if c.GrabTimeout > 0 {
		return c.GrabTimeout
	}
	return 3 * c.FramePeriod()
}

// BufferSettings describes the shared-memory observation buffer.
type BufferSettings struct {
	Name          string        `yaml:"name"`          // region file name
	Dir           string        `yaml:"dir"`           // directory holding the region, normally /dev/shm
	Capacity      int           `yaml:"capacity"`      // number of observations retained
	Heartbeat     time.Duration `yaml:"heartbeat"`     // writer heartbeat interval
	StaleAfter    time.Duration `yaml:"staleafter"`    // heartbeat age after which readers consider the writer gone
	RemoveOnClose bool          `yaml:"removeonclose"` // unlink the region when the writer exits
}

// Path returns the full region path.
func (b *BufferSettings) Path() string {
	return filepath.Join(b.Dir, b.Name)
}

// SimulatorSettings configures the synthetic physics world.
type SimulatorSettings struct {
	StepRate float64 `yaml:"steprate"` // physics steps per simulated second
	Realtime bool    `yaml:"realtime"` // pace simulated time to wall clock
	Seed     int64   `yaml:"seed"`     // initial state seed
}

// APISettings configures the HTTP binding surface.
type APISettings struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	ImageCacheTTL time.Duration `yaml:"imagecachettl"`
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings configures optional error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// PoseSettings configures the external marker pose estimator.
type PoseSettings struct {
	Command string        `yaml:"command"` // executable receiving PNG on stdin
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecordingSettings configures tri-camera log files.
type RecordingSettings struct {
	Level int `yaml:"level"` // zstd level, 1 fastest to 4 best
}

var (
	mu         sync.RWMutex
	current    *Settings
	configFile string
)

// SetConfigFile makes Load read path instead of searching the config
// directories. An empty path restores the search.
func SetConfigFile(path string) {
	mu.Lock()
	configFile = path
	mu.Unlock()
}

// Load merges defaults, the config file and TRICAM_* environment variables
// into a validated Settings. When no config file exists in any search
// directory, the embedded default is written to the first one.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	setDefaultConfig()
	if err := configureEnvironmentVariables(); err != nil {
		return nil, err
	}
	if err := readConfigFile(); err != nil {
		return nil, err
	}

	s := &Settings{}
	if err := viper.Unmarshal(s); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("config_file", viper.ConfigFileUsed()).
			Build()
	}
	if err := ValidateSettings(s); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", viper.ConfigFileUsed(), err)
	}
	current = s
	return s, nil
}

func readConfigFile() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		return nil
	}

	dirs, err := configDirs()
	if err != nil {
		return err
	}
	viper.SetConfigName(strings.TrimSuffix(configFileName, ".yaml"))
	viper.SetConfigType("yaml")
	for _, dir := range dirs {
		viper.AddConfigPath(dir)
	}

	err = viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound):
		return writeDefaultConfig(dirs[0])
	default:
		return errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("config_file", viper.ConfigFileUsed()).
			Build()
	}
}

// writeDefaultConfig installs the embedded config.yaml in dir and reads it.
func writeDefaultConfig(dir string) error {
	data, err := configFiles.ReadFile(configFileName)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, configFileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("config_file", path).Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return errors.New(err).Category(errors.CategoryFileIO).Context("config_file", path).Build()
	}
	viper.SetConfigFile(path)
	return viper.ReadInConfig()
}

// GetSettings returns the settings of the last successful Load, or nil.
func GetSettings() *Settings {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// WriteYAML writes s in the config file format.
func WriteYAML(w io.Writer, s *Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
