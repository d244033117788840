// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with validation and the CLI
const (
	DefaultBufferName     = "tricamera"
	DefaultBufferDir      = "/dev/shm"
	DefaultCapacity       = 1000
	DefaultStaleThreshold = 10
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/tricam.log")
	viper.SetDefault("logging.fileoutput.level", "info")

	viper.SetDefault("cameras.backend", BackendSim)
	viper.SetDefault("cameras.devices", map[string]string{
		"camera60":  "0",
		"camera180": "1",
		"camera300": "2",
	})
	viper.SetDefault("cameras.width", 640)
	viper.SetDefault("cameras.height", 480)
	viper.SetDefault("cameras.channels", 3)
	viper.SetDefault("cameras.framerate", 30.0)
	viper.SetDefault("cameras.pixelformat", "yuyv")
	viper.SetDefault("cameras.grabtimeout", time.Duration(0))
	viper.SetDefault("cameras.stalethreshold", DefaultStaleThreshold)
	viper.SetDefault("cameras.maxcyclerate", 0.0)

	viper.SetDefault("buffer.name", DefaultBufferName)
	viper.SetDefault("buffer.dir", DefaultBufferDir)
	viper.SetDefault("buffer.capacity", DefaultCapacity)
	viper.SetDefault("buffer.heartbeat", 500*time.Millisecond)
	viper.SetDefault("buffer.staleafter", 5*time.Second)
	viper.SetDefault("buffer.removeonclose", false)

	viper.SetDefault("simulator.steprate", 240.0)
	viper.SetDefault("simulator.realtime", true)
	viper.SetDefault("simulator.seed", 1)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", "127.0.0.1:8090")
	viper.SetDefault("api.imagecachettl", 30*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "127.0.0.1:8091")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("pose.command", "")
	viper.SetDefault("pose.args", []string{})
	viper.SetDefault("pose.timeout", 5*time.Second)

	viper.SetDefault("recording.level", 1)
}
