package serve

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/capture"
	"github.com/tphakala/tricam/internal/conf"
)

// Command creates the serve command, which exposes an existing shared
// buffer over HTTP from a separate process.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an existing shared buffer over HTTP",
		Long: "Attach to the shared buffer written by a running capture process and expose its " +
			"observations, images and marker poses as an HTTP/JSON API.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, stopTelemetry, err := capture.StartTelemetry(&settings.Telemetry)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			return capture.Serve(cmd.Context(), settings, m)
		},
	}

	cmd.Flags().String("listen", "127.0.0.1:8090", "HTTP API listen address")
	cmd.Flags().Bool("telemetry", false, "Enable the Prometheus telemetry endpoint")
	conf.BindFlag(cmd.Flags(), "listen", "api.listen")
	conf.BindFlag(cmd.Flags(), "telemetry", "telemetry.enabled")
	return cmd
}
