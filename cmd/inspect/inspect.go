package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/shmbuf"
)

type bufferSummary struct {
	Info   shmbuf.Info         `json:"info"`
	Writer shmbuf.WriterStatus `json:"writer"`
	Oldest *uint64             `json:"oldest"`
	Latest *uint64             `json:"latest"`
}

type cameraSummary struct {
	Camera    string `json:"camera"`
	FrameID   uint64 `json:"frame_id"`
	Timestamp string `json:"timestamp"`
	Shape     string `json:"shape"`
	Captured  bool   `json:"captured"`
}

type entrySummary struct {
	Seq     uint64          `json:"seq"`
	Status  string          `json:"status"`
	Cameras []cameraSummary `json:"cameras,omitempty"`
}

// Command creates the inspect command.
func Command(settings *conf.Settings) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "inspect [seq|latest]",
		Short: "Show the shared buffer state or one observation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, _, err := shmbuf.DiscoverTriCamera(settings.Buffer.Path(), shmbuf.ReaderConfig{
				StaleAfter: settings.Buffer.StaleAfter,
				Logger:     logger.Global().Module("shmbuf"),
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			if wait > 0 {
				latest, ok := reader.Latest()
				next := uint64(0)
				if ok {
					next = latest + 1
				}
				status, err := reader.WaitForSequence(cmd.Context(), next, wait)
				if err != nil {
					return err
				}
				if status != shmbuf.Available {
					return writeJSON(out, entrySummary{Seq: next, Status: status.String()})
				}
				return writeJSON(out, summarize(reader.Read(next)))
			}

			if len(args) == 0 {
				s := bufferSummary{Info: reader.Info(), Writer: reader.WriterStatus()}
				if seq, ok := reader.Oldest(); ok {
					s.Oldest = &seq
				}
				if seq, ok := reader.Latest(); ok {
					s.Latest = &seq
				}
				return writeJSON(out, s)
			}

			seq, err := parseSeq(args[0], reader)
			if err != nil {
				return err
			}
			return writeJSON(out, summarize(reader.Read(seq)))
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the next observation and show it")
	return cmd
}

// parseSeq accepts a sequence number or "latest".
func parseSeq(arg string, reader *shmbuf.TriCameraReader) (uint64, error) {
	if arg == "latest" {
		seq, ok := reader.Latest()
		if !ok {
			return 0, fmt.Errorf("shared buffer is empty")
		}
		return seq, nil
	}
	seq, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %w", arg, err)
	}
	return seq, nil
}

func summarize(res shmbuf.TriCameraResult) entrySummary {
	s := entrySummary{Seq: res.Seq, Status: res.Status.String()}
	if res.Status != shmbuf.Available {
		return s
	}
	for _, role := range observation.Roles {
		obs := res.Value.Camera(role)
		s.Cameras = append(s.Cameras, cameraSummary{
			Camera:    role.String(),
			FrameID:   obs.FrameID,
			Timestamp: obs.Timestamp.String(),
			Shape:     obs.Image.Shape(),
			Captured:  !obs.IsPlaceholder(),
		})
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
