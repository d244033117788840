package record

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/shmbuf"
	"github.com/tphakala/tricam/internal/tricamlog"
)

// Command creates the record command.
func Command(settings *conf.Settings) *cobra.Command {
	var cfg tricamlog.RecorderConfig

	cmd := &cobra.Command{
		Use:   "record <file>",
		Short: "Record shared buffer observations into a tri-camera log",
		Long: "Follow the shared buffer and write every observation into a compressed tri-camera log " +
			"until interrupted, the record limit is reached or the capture process closes the buffer.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := logger.Global()
			reader, layout, err := shmbuf.DiscoverTriCamera(settings.Buffer.Path(), shmbuf.ReaderConfig{
				StaleAfter: settings.Buffer.StaleAfter,
				Logger:     cl.Module("shmbuf"),
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			w, err := tricamlog.Create(args[0], layout, settings.Recording.Level)
			if err != nil {
				return err
			}

			cfg.Logger = cl.Module("record")
			stats, runErr := tricamlog.NewRecorder(reader, w, cfg).Run(cmd.Context())
			if err := w.Close(); err != nil && runErr == nil {
				runErr = err
			}
			if runErr != nil {
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d observations (seq %d..%d, %d missing, %d skipped) in %s\n",
				stats.Count, stats.FirstSeq, stats.LastSeq, stats.Missing, stats.Skipped, stats.Duration().Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&cfg.FromOldest, "from-oldest", false, "Start at the oldest retained observation")
	cmd.Flags().Uint64VarP(&cfg.MaxRecords, "max", "n", 0, "Stop after this many observations, 0 for no limit")
	cmd.Flags().DurationVar(&cfg.WaitTimeout, "wait", time.Second, "Wait per observation before checking the capture process")
	cmd.Flags().Int("level", 1, "Compression level, 1 fastest to 4 best")
	conf.BindFlag(cmd.Flags(), "level", "recording.level")
	return cmd
}
