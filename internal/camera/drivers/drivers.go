// Package drivers builds the three rig cameras for the configured backend.
// This is the only place that knows which backends exist.
package drivers

import (
	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/camera/opencv"
	"github.com/tphakala/tricam/internal/camera/simcam"
	"github.com/tphakala/tricam/internal/camera/vendor"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/simulator"
)

var log = logger.Global().Module("camera")

// Rig is one driver per role, in slot order.
type Rig [observation.NumCameras]camera.Driver

// Close closes every opened driver.
func (r Rig) Close() error {
	var errs []error
	for _, d := range r {
		if d != nil {
			errs = append(errs, d.Close())
		}
	}
	return errors.Join(errs...)
}

// Open opens the rig for cfg.Backend. world is required for the sim backend
// and ignored otherwise. On failure every driver opened so far is closed.
func Open(cfg *conf.CameraSettings, world *simulator.World) (Rig, error) {
	info := camera.SensorInfo{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Channels:  cfg.Channels,
		FrameRate: cfg.FrameRate,
	}

	var rig Rig
	for i, role := range observation.Roles {
		d, err := open(cfg, world, role, info)
		if err != nil {
			_ = rig.Close()
			return Rig{}, err
		}
		rig[i] = d
	}

	if err := checkRig(cfg.Backend, rig); err != nil {
		_ = rig.Close()
		return Rig{}, err
	}

	log.Info("camera rig opened",
		logger.String("backend", cfg.Backend),
		logger.String("sensor", rig[0].SensorInfo().String()))
	return rig, nil
}

func open(cfg *conf.CameraSettings, world *simulator.World, role observation.Role, info camera.SensorInfo) (camera.Driver, error) {
	switch cfg.Backend {
	case conf.BackendSim:
		if world == nil {
			return nil, camera.NewConfigurationError(role.String(), cfg.Backend, "sim backend needs a simulator world")
		}
		return simcam.Open(world, role, info)

	case conf.BackendOpenCV:
		dev, err := device(cfg, role)
		if err != nil {
			return nil, err
		}
		return opencv.Open(role, opencv.Config{
			Device:      dev,
			Info:        info,
			GrabTimeout: cfg.EffectiveGrabTimeout(),
			Logger:      log.Module("opencv"),
		})

	case conf.BackendVendor:
		dev, err := device(cfg, role)
		if err != nil {
			return nil, err
		}
		format, err := vendor.ParsePixelFormat(cfg.PixelFormat)
		if err != nil {
			return nil, camera.NewConfigurationError(role.String(), cfg.Backend, "%v", err)
		}
		return vendor.Open(role, vendor.Config{
			Device:      dev,
			Format:      format,
			Info:        info,
			GrabTimeout: cfg.EffectiveGrabTimeout(),
			Logger:      log.Module("vendor"),
		})

	default:
		return nil, camera.NewConfigurationError(role.String(), cfg.Backend, "unknown camera backend %q", cfg.Backend)
	}
}

func device(cfg *conf.CameraSettings, role observation.Role) (string, error) {
	dev, ok := cfg.Devices[role.String()]
	if !ok || dev == "" {
		return "", camera.NewConfigurationError(role.String(), cfg.Backend, "no device configured for %s", role)
	}
	return dev, nil
}

// checkRig requires every camera to report the same frame shape, since the
// shared buffer layout has one shape for all three.
func checkRig(backend string, rig Rig) error {
	first := rig[0].SensorInfo()
	for i, d := range rig[1:] {
		info := d.SensorInfo()
		if info.Width != first.Width || info.Height != first.Height || info.Channels != first.Channels {
			role := observation.Roles[i+1]
			return camera.NewConfigurationError(role.String(), backend,
				"sensor %s differs from %s sensor %s", info, observation.Roles[0], first)
		}
	}
	return nil
}
