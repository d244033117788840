// Package simcam is a camera backend that renders frames from a
// simulator.World. It follows the hardware contract: a frame becomes
// available once simulated time reaches it, and a grab that runs out of time
// first fails with a not-ready CaptureError.
package simcam

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/simulator"
)

var log = logger.Global().Module("camera.sim")

// Driver renders one rig position.
type Driver struct {
	role  observation.Role
	world *simulator.World
	cam   *simulator.Camera
	info  camera.SensorInfo
	log   logger.Logger

	mu        sync.Mutex
	frameID   uint64
	nextFrame time.Duration // simulated time of the next frame
	closed    bool
}

var _ camera.Driver = (*Driver)(nil)

// Open returns a driver for role rendering frames of info's shape.
func Open(world *simulator.World, role observation.Role, info camera.SensorInfo) (*Driver, error) {
	if !role.Valid() {
		return nil, camera.NewConfigurationError(role.String(), conf.BackendSim, "invalid role")
	}
	if _, err := info.Layout(); err != nil {
		return nil, camera.NewConfigurationError(role.String(), conf.BackendSim, "invalid sensor shape %s: %v", info, err)
	}
	if info.FrameRate <= 0 {
		return nil, camera.NewConfigurationError(role.String(), conf.BackendSim, "frame rate must be positive, got %v", info.FrameRate)
	}

	d := &Driver{
		role:  role,
		world: world,
		cam:   simulator.NewCamera(role.Angle(), info.Width, info.Height),
		info:  info,
		log:   log.With(logger.String("camera", role.String())),
	}
	d.nextFrame = world.Time()
	d.log.Debug("simulated camera opened", logger.String("sensor", info.String()))
	return d, nil
}

// OpenRig opens one driver per rig position over a shared world.
func OpenRig(world *simulator.World, info camera.SensorInfo) ([observation.NumCameras]*Driver, error) {
	var rig [observation.NumCameras]*Driver
	for i, role := range observation.Roles {
		d, err := Open(world, role, info)
		if err != nil {
			return rig, err
		}
		rig[i] = d
	}
	return rig, nil
}

// GetObservation waits for the next frame time and renders the world.
func (d *Driver) GetObservation(ctx context.Context) (observation.Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return observation.Observation{}, camera.NewCaptureError(d.role.String(), conf.BackendSim, "grab", camera.KindDevice, camera.ErrClosed)
	}

	if err := d.world.WaitUntil(ctx, d.nextFrame); err != nil {
		return observation.Observation{}, camera.NewCaptureError(d.role.String(), conf.BackendSim, "grab", camera.KindNotReady, err)
	}

	state := d.world.Snapshot()
	img := d.cam.Render(state, d.info.Channels)
	d.frameID++
	d.nextFrame = state.Time + d.info.FramePeriod()

	// img is freshly allocated, no copy needed
	return observation.Observation{Image: img, Timestamp: observation.Now(), FrameID: d.frameID}, nil
}

// SensorInfo implements camera.Driver.
func (d *Driver) SensorInfo() camera.SensorInfo {
	return d.info
}

// Close implements camera.Driver. The world is owned by the caller.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
