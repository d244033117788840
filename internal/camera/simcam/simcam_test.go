package simcam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/simulator"
)

var testInfo = camera.SensorInfo{Width: 32, Height: 24, Channels: 3, FrameRate: 30}

func newWorld() *simulator.World {
	return simulator.NewWorld(simulator.Config{StepRate: 240, Seed: 1, Logger: logger.NewDiscardLogger()})
}

func TestFirstFrameIsImmediate(t *testing.T) {
	t.Parallel()

	d, err := Open(newWorld(), observation.Camera60, testInfo)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	obs, err := d.GetObservation(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), obs.FrameID)
	require.NoError(t, camera.CheckFrame("camera60", d.SensorInfo(), obs))
}

func TestNextFrameWaitsForSimulatedTime(t *testing.T) {
	t.Parallel()

	w := newWorld()
	d, err := Open(w, observation.Camera180, testInfo)
	require.NoError(t, err)

	_, err = d.GetObservation(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	_, err = d.GetObservation(ctx)
	cancel()
	require.Error(t, err)
	ce, ok := camera.AsCaptureError(err)
	require.True(t, ok)
	assert.Equal(t, camera.KindNotReady, ce.Kind)
	assert.True(t, ce.Timeout())

	// one frame period is 8 steps at 240 Hz; stepping past it releases the grab
	w.Step(10)
	obs, err := d.GetObservation(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), obs.FrameID)
}

func TestOpenRejectsBadSensor(t *testing.T) {
	t.Parallel()

	_, err := Open(newWorld(), observation.Camera300, camera.SensorInfo{Width: 4, Height: 4, Channels: 2, FrameRate: 30})
	require.Error(t, err)
	assert.True(t, camera.IsConfigurationError(err))

	_, err = Open(newWorld(), observation.Camera300, camera.SensorInfo{Width: 4, Height: 4, Channels: 3})
	assert.True(t, camera.IsConfigurationError(err))
}

func TestOpenRigAndClose(t *testing.T) {
	t.Parallel()

	rig, err := OpenRig(newWorld(), testInfo)
	require.NoError(t, err)

	var frames [observation.NumCameras]observation.Observation
	for i, d := range rig {
		frames[i], err = d.GetObservation(t.Context())
		require.NoError(t, err)
	}
	// cameras see the same world from different angles
	assert.NotEqual(t, frames[0].Image.Pix, frames[1].Image.Pix)

	require.NoError(t, rig[0].Close())
	_, err = rig[0].GetObservation(t.Context())
	require.ErrorIs(t, err, camera.ErrClosed)
}
