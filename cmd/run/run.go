package run

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/capture"
	"github.com/tphakala/tricam/internal/conf"
)

// Command creates the capture command, the process that owns the cameras
// and writes the shared buffer.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture from the camera rig into the shared buffer",
		Long: "Open the three cameras, capture synchronized tri-camera observations and publish them " +
			"into the shared-memory ring buffer until interrupted or every camera is lost.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, stopTelemetry, err := capture.StartTelemetry(&settings.Telemetry)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			return capture.Run(cmd.Context(), settings, m)
		},
	}

	setupFlags(cmd)
	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", conf.BackendSim, "Camera backend (opencv, vendor or sim)")
	f.StringToString("device", nil, "Device per camera, e.g. camera60=/dev/video0")
	f.Int("width", 640, "Sensor width in pixels")
	f.Int("height", 480, "Sensor height in pixels")
	f.Int("channels", 3, "Channels per pixel, 1 or 3")
	f.Float64("framerate", 30, "Expected frames per second")
	f.Duration("grab-timeout", 0, "Per-camera grab timeout, 0 for three frame periods")
	f.Int("stale-threshold", conf.DefaultStaleThreshold, "Consecutive all-stale cycles before capture stops")
	f.Float64("max-cycle-rate", 0, "Upper bound on capture cycles per second, 0 for none")
	f.Int("capacity", conf.DefaultCapacity, "Observations retained in the shared buffer")
	f.Bool("remove-on-close", false, "Remove the shared buffer when capture stops")
	f.Bool("api", false, "Serve the HTTP API from the capturing process")
	f.String("listen", "127.0.0.1:8090", "HTTP API listen address")
	f.Bool("telemetry", false, "Enable the Prometheus telemetry endpoint")
	f.Bool("realtime", true, "Pace the simulator to the wall clock")
	f.Int64("seed", 1, "Simulator seed")

	for name, key := range map[string]string{
		"backend":         "cameras.backend",
		"device":          "cameras.devices",
		"width":           "cameras.width",
		"height":          "cameras.height",
		"channels":        "cameras.channels",
		"framerate":       "cameras.framerate",
		"grab-timeout":    "cameras.grabtimeout",
		"stale-threshold": "cameras.stalethreshold",
		"max-cycle-rate":  "cameras.maxcyclerate",
		"capacity":        "buffer.capacity",
		"remove-on-close": "buffer.removeonclose",
		"api":             "api.enabled",
		"listen":          "api.listen",
		"telemetry":       "telemetry.enabled",
		"realtime":        "simulator.realtime",
		"seed":            "simulator.seed",
	} {
		conf.BindFlag(f, name, key)
	}
}
