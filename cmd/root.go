package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/cmd/config"
	"github.com/tphakala/tricam/cmd/inspect"
	"github.com/tphakala/tricam/cmd/playback"
	"github.com/tphakala/tricam/cmd/pose"
	"github.com/tphakala/tricam/cmd/record"
	"github.com/tphakala/tricam/cmd/run"
	"github.com/tphakala/tricam/cmd/serve"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled from
// the configuration file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "tricam",
		Short:         "Tri-camera capture into a shared-memory ring buffer",
		Version:       fmt.Sprintf("%s (built %s)", settings.Version, settings.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("buffer", conf.DefaultBufferName, "Shared buffer name")
	rootCmd.PersistentFlags().String("buffer-dir", conf.DefaultBufferDir, "Directory holding the shared buffer")
	conf.BindFlag(rootCmd.PersistentFlags(), "debug", "debug")
	conf.BindFlag(rootCmd.PersistentFlags(), "buffer", "buffer.name")
	conf.BindFlag(rootCmd.PersistentFlags(), "buffer-dir", "buffer.dir")

	rootCmd.AddCommand(
		run.Command(settings),
		serve.Command(settings),
		inspect.Command(settings),
		record.Command(settings),
		playback.Command(settings),
		pose.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			conf.SetConfigFile(configPath)
		}
		if err := conf.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize loads the settings and sets up logging and error reporting.
func initialize(settings *conf.Settings) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	loaded.Version = settings.Version
	loaded.BuildDate = settings.BuildDate
	*settings = *loaded

	if settings.Debug && settings.Logging.DefaultLevel != "debug" {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Version); err != nil {
			cl.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}
	return nil
}
