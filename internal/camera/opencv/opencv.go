//go:build opencv

package opencv

import (
	"context"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
)

// Available reports whether the backend was compiled in.
const Available = true

// Driver wraps a gocv VideoCapture. VideoCapture.Read cannot be interrupted,
// so grabs go through a PendingGrab and a timed-out read is collected by the
// next call.
type Driver struct {
	name string
	cfg  Config
	info camera.SensorInfo
	log  logger.Logger

	vc   *gocv.VideoCapture
	grab camera.PendingGrab

	// touched only by the read in flight
	frame   gocv.Mat
	conv    gocv.Mat
	frameID uint64

	closeOnce sync.Once
	closeErr  error
}

var _ camera.Driver = (*Driver)(nil)

// Open opens cfg.Device and applies the requested capture properties.
func Open(role observation.Role, cfg Config) (*Driver, error) {
	name := role.String()
	if cfg.Info.Channels != 1 && cfg.Info.Channels != 3 {
		return nil, camera.NewConfigurationError(name, conf.BackendOpenCV, "unsupported channel count %d", cfg.Info.Channels)
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, camera.NewConfigurationError(name, conf.BackendOpenCV, "open %q: %v", cfg.Device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, camera.NewConfigurationError(name, conf.BackendOpenCV, "device %q did not open", cfg.Device)
	}

	if cfg.Info.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Info.Width))
	}
	if cfg.Info.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Info.Height))
	}
	if cfg.Info.FrameRate > 0 {
		vc.Set(gocv.VideoCaptureFPS, cfg.Info.FrameRate)
	}

	// the device may not honour the request, report what it delivers
	info := camera.SensorInfo{
		Width:     int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:    int(vc.Get(gocv.VideoCaptureFrameHeight)),
		Channels:  cfg.Info.Channels,
		FrameRate: vc.Get(gocv.VideoCaptureFPS),
	}
	if info.FrameRate <= 0 {
		info.FrameRate = cfg.Info.FrameRate
	}
	if _, err := info.Layout(); err != nil {
		_ = vc.Close()
		return nil, camera.NewConfigurationError(name, conf.BackendOpenCV, "device %q reports %s: %v", cfg.Device, info, err)
	}

	d := &Driver{
		name:  name,
		cfg:   cfg,
		info:  info,
		log:   cfg.Logger.With(logger.String("camera", name)),
		vc:    vc,
		frame: gocv.NewMat(),
		conv:  gocv.NewMat(),
	}
	d.log.Info("opencv camera opened",
		logger.String("device", cfg.Device),
		logger.String("sensor", info.String()))
	return d, nil
}

// GetObservation reads one frame, bounded by ctx and the configured grab
// timeout.
func (d *Driver) GetObservation(ctx context.Context) (observation.Observation, error) {
	if _, ok := ctx.Deadline(); !ok && d.cfg.GrabTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.GrabTimeout)
		defer cancel()
	}

	obs, err := d.grab.Do(ctx, d.read)
	if err != nil {
		if _, ok := camera.AsCaptureError(err); ok {
			return obs, err
		}
		return obs, camera.NewCaptureError(d.name, conf.BackendOpenCV, "grab", camera.KindTimeout, err)
	}
	return obs, nil
}

func (d *Driver) read() (observation.Observation, error) {
	if ok := d.vc.Read(&d.frame); !ok {
		return observation.Observation{}, camera.NewCaptureError(d.name, conf.BackendOpenCV, "read", camera.KindDevice, nil)
	}
	ts := observation.Now()
	if d.frame.Empty() {
		return observation.Observation{}, camera.NewCaptureError(d.name, conf.BackendOpenCV, "read", camera.KindNotReady, nil)
	}

	code := gocv.ColorBGRToRGB
	if d.info.Channels == 1 {
		code = gocv.ColorBGRToGray
	}
	if err := gocv.CvtColor(d.frame, &d.conv, code); err != nil {
		return observation.Observation{}, camera.NewCaptureError(d.name, conf.BackendOpenCV, "convert", camera.KindDecode, err)
	}

	img := observation.Image{
		Width:    d.conv.Cols(),
		Height:   d.conv.Rows(),
		Channels: d.conv.Channels(),
		Pix:      d.conv.ToBytes(),
	}
	d.frameID++
	return observation.Observation{Image: img, Timestamp: ts, FrameID: d.frameID}, nil
}

// SensorInfo implements camera.Driver.
func (d *Driver) SensorInfo() camera.SensorInfo {
	return d.info
}

// Close waits for a read in flight and releases the device.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.grab.Wait()
		d.closeErr = d.vc.Close()
		_ = d.frame.Close()
		_ = d.conv.Close()
		d.log.Info("opencv camera closed")
	})
	return d.closeErr
}
