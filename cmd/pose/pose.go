package pose

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
	estimator "github.com/tphakala/tricam/internal/pose"
	"github.com/tphakala/tricam/internal/shmbuf"
)

type cameraPose struct {
	Camera  string `json:"camera"`
	FrameID uint64 `json:"frame_id"`
	Found   bool   `json:"found"`
	estimator.Result
}

type observationPose struct {
	Seq     uint64       `json:"seq"`
	Cameras []cameraPose `json:"cameras"`
}

// Command creates the pose command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pose [seq]",
		Short: "Estimate the marker pose in every camera of one observation",
		Long: "Run the configured marker pose estimator on the three images of one observation, " +
			"the latest one unless a sequence number is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			est, err := estimator.NewExecEstimator(&settings.Pose)
			if err != nil {
				return err
			}

			reader, _, err := shmbuf.DiscoverTriCamera(settings.Buffer.Path(), shmbuf.ReaderConfig{
				StaleAfter: settings.Buffer.StaleAfter,
				Logger:     logger.Global().Module("shmbuf"),
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			seq, ok := reader.Latest()
			if len(args) == 1 {
				if seq, err = strconv.ParseUint(args[0], 10, 64); err != nil {
					return fmt.Errorf("invalid sequence number %q: %w", args[0], err)
				}
			} else if !ok {
				return fmt.Errorf("shared buffer is empty")
			}

			res := reader.Read(seq)
			if res.Status != shmbuf.Available {
				return fmt.Errorf("observation %d is %s", seq, res.Status)
			}

			results, err := estimator.EstimateAll(cmd.Context(), est, res.Value)
			if err != nil {
				return err
			}

			out := observationPose{Seq: seq}
			for i, role := range observation.Roles {
				out.Cameras = append(out.Cameras, cameraPose{
					Camera:  role.String(),
					FrameID: res.Value.Camera(role).FrameID,
					Found:   results[i].Found(),
					Result:  results[i],
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().String("command", "", "Pose estimator executable")
	cmd.Flags().Duration("timeout", 0, "Pose estimator timeout per image")
	conf.BindFlag(cmd.Flags(), "command", "pose.command")
	conf.BindFlag(cmd.Flags(), "timeout", "pose.timeout")
	return cmd
}
