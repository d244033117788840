package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
)

// DefaultTimeout bounds one estimator run when none is configured.
const DefaultTimeout = 5 * time.Second

// maxStderr caps how much of the command's stderr is kept for errors.
const maxStderr = 4096

// ExecEstimator runs an external command per image. The command reads a PNG
// on stdin and prints
//
//	{"rotation_vector": [rx, ry, rz] | null, "translation_vector": [tx, ty, tz] | null}
//
// on stdout.
type ExecEstimator struct {
	command string
	args    []string
	timeout time.Duration
	log     logger.Logger
}

// NewExecEstimator returns an estimator for the configured command.
func NewExecEstimator(settings *conf.PoseSettings) (*ExecEstimator, error) {
	if strings.TrimSpace(settings.Command) == "" {
		return nil, errors.Newf("pose estimation command is not configured").
			Component("pose").
			Category(errors.CategoryConfiguration).
			Build()
	}
	path, err := exec.LookPath(settings.Command)
	if err != nil {
		return nil, errors.New(err).
			Component("pose").
			Category(errors.CategoryConfiguration).
			Context("command", settings.Command).
			Build()
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecEstimator{
		command: path,
		args:    settings.Args,
		timeout: timeout,
		log:     log.With(logger.String("command", settings.Command)),
	}, nil
}

// Estimate implements Estimator.
func (e *ExecEstimator) Estimate(ctx context.Context, obs observation.Observation) (Result, error) {
	var stdin bytes.Buffer
	if err := obs.Image.EncodePNG(&stdin); err != nil {
		return Result{}, e.fail(err, "encode")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderr}
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	// children of a killed command may hold the pipes open
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return Result{}, errors.New(err).
			Component("pose").
			Category(errors.CategoryCommandExecution).
			Context("stderr", strings.TrimSpace(stderr.String())).
			Context("frame_id", obs.FrameID).
			Build()
	}

	res, err := parseResult(stdout.Bytes())
	if err != nil {
		return Result{}, e.fail(err, "parse")
	}
	e.log.Debug("pose estimated",
		logger.Uint64("frame_id", obs.FrameID),
		logger.Bool("found", res.Found()),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (e *ExecEstimator) fail(err error, op string) error {
	return errors.New(err).
		Component("pose").
		Category(errors.CategoryPose).
		Context("operation", op).
		Build()
}

// parseResult decodes the estimator output. One vector without the other is
// rejected.
func parseResult(out []byte) (Result, error) {
	var res Result
	dec := json.NewDecoder(bytes.NewReader(out))
	if err := dec.Decode(&res); err != nil {
		return Result{}, err
	}
	if (res.RotationVector == nil) != (res.TranslationVector == nil) {
		return Result{}, errors.NewStd("estimator returned only one of rotation_vector and translation_vector")
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		c.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
