package playback

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/tricamlog"
)

// Command creates the playback command.
func Command(_ *conf.Settings) *cobra.Command {
	var (
		exportDir string
		every     uint64
	)

	cmd := &cobra.Command{
		Use:   "playback <file>",
		Short: "Summarize a tri-camera log and optionally export its frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := tricamlog.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if exportDir != "" {
				if err := os.MkdirAll(exportDir, 0o755); err != nil {
					return fmt.Errorf("failed to create export directory: %w", err)
				}
			}
			if every == 0 {
				every = 1
			}

			log := logger.Global().Module("playback")
			var index, exported uint64
			stats, err := tricamlog.Summarize(r, func(rec tricamlog.Record) error {
				defer func() { index++ }()
				if exportDir == "" || index%every != 0 {
					return nil
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				names, err := tricamlog.ExportPNG(exportDir, rec)
				if err != nil {
					return err
				}
				exported++
				log.Debug("exported frames", logger.Uint64("seq", rec.Seq), logger.Int("files", len(names)))
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "layout:           %s\n", r.Layout().Descriptor())
			fmt.Fprintf(out, "observations:     %d\n", stats.Count)
			fmt.Fprintf(out, "sequence:         %d..%d (%d missing)\n", stats.FirstSeq, stats.LastSeq, stats.Missing)
			fmt.Fprintf(out, "duration:         %s\n", stats.Duration().Round(time.Millisecond))
			fmt.Fprintf(out, "average interval: %s\n", stats.AverageInterval().Round(time.Microsecond))
			fmt.Fprintf(out, "rate:             %.2f fps\n", stats.FPS())
			if exportDir != "" {
				fmt.Fprintf(out, "exported:         %d observations to %s\n", exported, exportDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&exportDir, "export", "o", "", "Export every camera image as PNG into this directory")
	cmd.Flags().Uint64Var(&every, "every", 1, "Export only every n-th observation")
	return cmd
}
