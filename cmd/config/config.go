package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/conf"
)

// Command creates the config command, which prints the effective settings
// after the config file, TRICAM_* variables and flags have been merged.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return conf.WriteYAML(cmd.OutOrStdout(), settings)
		},
	}
}
