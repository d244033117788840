package coordinator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
	"github.com/tphakala/tricam/internal/observation"
)

var testInfo = camera.SensorInfo{Width: 4, Height: 2, Channels: 1, FrameRate: 100}

var errGrabTimeout = stderrors.New("select timeout")

// fakeDriver fails the calls for which fail returns true. Frame ids count
// successful grabs and every pixel of frame n is n.
type fakeDriver struct {
	name string
	info camera.SensorInfo
	fail func(call int) bool

	// gate, when set, blocks the first call until closed
	gate chan struct{}
	// delay is how long every call takes
	delay time.Duration

	calls       atomic.Int32
	frameID     atomic.Uint64
	sawCancel   atomic.Bool
	hadDeadline atomic.Bool
}

func newFake(name string) *fakeDriver {
	return &fakeDriver{name: name, info: testInfo}
}

func (d *fakeDriver) GetObservation(ctx context.Context) (observation.Observation, error) {
	n := int(d.calls.Add(1))
	if _, ok := ctx.Deadline(); ok {
		d.hadDeadline.Store(true)
	}
	if d.gate != nil && n == 1 {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return observation.Observation{}, camera.NewCaptureError(d.name, "fake", "grab", camera.KindTimeout, ctx.Err())
		}
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			d.sawCancel.Store(true)
			return observation.Observation{}, camera.NewCaptureError(d.name, "fake", "grab", camera.KindTimeout, ctx.Err())
		}
	}
	if d.fail != nil && d.fail(n) {
		return observation.Observation{}, camera.NewCaptureError(d.name, "fake", "grab", camera.KindTimeout, errGrabTimeout)
	}
	id := d.frameID.Add(1)
	img := observation.NewImage(d.info.Width, d.info.Height, d.info.Channels)
	for i := range img.Pix {
		img.Pix[i] = byte(id)
	}
	return observation.New(img, time.Duration(n)*time.Millisecond, id), nil
}

func (d *fakeDriver) SensorInfo() camera.SensorInfo { return d.info }
func (d *fakeDriver) Close() error                  { return nil }

// recordingSink keeps every appended observation and cancels after limit.
type recordingSink struct {
	mu     sync.Mutex
	got    []observation.TriCameraObservation
	limit  int
	cancel context.CancelFunc
	err    error
}

func (s *recordingSink) Append(obs observation.TriCameraObservation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.got = append(s.got, obs)
	if s.limit > 0 && len(s.got) == s.limit && s.cancel != nil {
		s.cancel()
	}
	return uint64(len(s.got) - 1), nil
}

func (s *recordingSink) appended() []observation.TriCameraObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]observation.TriCameraObservation(nil), s.got...)
}

func rig(ds ...*fakeDriver) [observation.NumCameras]camera.Driver {
	return [observation.NumCameras]camera.Driver{ds[0], ds[1], ds[2]}
}

func newTestCoordinator(t *testing.T, drivers [observation.NumCameras]camera.Driver, sink Sink, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCaptureMetrics(reg)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(logger.NewDiscardLogger()), WithMetrics(m)}, opts...)
	c, err := New(drivers, sink, cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestSingleStaleCameraReusesLastFrame(t *testing.T) {
	t.Parallel()

	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	b.fail = func(call int) bool { return call >= 2 && call <= 4 }

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recordingSink{limit: 5, cancel: cancel}

	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: time.Second})
	require.NoError(t, co.Run(ctx))
	assert.Equal(t, Stopped, co.State())

	got := sink.appended()
	require.Len(t, got, 5)

	first := got[0].Camera(observation.Camera180)
	assert.Equal(t, uint64(1), first.FrameID)
	for cycle := 1; cycle <= 3; cycle++ {
		slot := got[cycle].Camera(observation.Camera180)
		assert.Equal(t, first.FrameID, slot.FrameID, "cycle %d", cycle)
		assert.Equal(t, first.Image.Pix, slot.Image.Pix, "cycle %d", cycle)
		assert.Equal(t, first.Timestamp, slot.Timestamp, "cycle %d", cycle)

		assert.Equal(t, uint64(cycle+1), got[cycle].Camera(observation.Camera60).FrameID)
		assert.Equal(t, uint64(cycle+1), got[cycle].Camera(observation.Camera300).FrameID)
	}
	assert.Equal(t, uint64(2), got[4].Camera(observation.Camera180).FrameID)

	stats := co.Stats()
	assert.Equal(t, "stopped", stats.State)
	assert.Equal(t, uint64(5), stats.Cycles)
	assert.Equal(t, uint64(5), stats.Appends)
	assert.Equal(t, uint64(4), stats.LastSequence)
	assert.Equal(t, uint64(3), stats.Cameras[1].Stale)
	assert.Zero(t, stats.Cameras[1].ConsecutiveStale)
	assert.Zero(t, stats.Cameras[0].Stale)
	assert.Empty(t, stats.Cameras[1].LastError)
}

func TestAllStaleStopsWithCaptureLoss(t *testing.T) {
	t.Parallel()

	always := func(int) bool { return true }
	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	a.fail, b.fail, c.fail = always, always, always

	sink := &recordingSink{}
	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: time.Second, StaleThreshold: 10})

	err := co.Run(t.Context())
	require.Error(t, err)
	assert.True(t, IsCaptureLoss(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryCaptureLoss))
	assert.ErrorIs(t, err, errGrabTimeout)

	var loss *CaptureLossError
	require.ErrorAs(t, err, &loss)
	assert.Equal(t, 10, loss.Cycles)
	for _, cause := range loss.Causes {
		assert.Error(t, cause)
	}

	assert.Equal(t, Stopped, co.State())
	got := sink.appended()
	// the tenth stale cycle stops instead of publishing
	require.Len(t, got, 9)
	for _, tri := range got {
		assert.Equal(t, [observation.NumCameras]uint64{}, tri.FrameIDs())
		assert.True(t, tri.Camera(observation.Camera60).IsPlaceholder())
	}

	stats := co.Stats()
	assert.Equal(t, uint64(10), stats.Cycles)
	assert.Equal(t, uint64(9), stats.Appends)
	assert.Equal(t, 10, stats.AllStaleCycles)

	// a stopped coordinator never appends again
	require.ErrorIs(t, co.Run(t.Context()), ErrAlreadyStarted)
	assert.Len(t, sink.appended(), 9)
}

func TestPartialRecoveryResetsAllStaleCount(t *testing.T) {
	t.Parallel()

	// every camera fails except camera60 on every fifth call
	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	a.fail = func(call int) bool { return call%5 != 0 }
	b.fail = func(int) bool { return true }
	c.fail = func(int) bool { return true }

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recordingSink{limit: 30, cancel: cancel}

	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: time.Second, StaleThreshold: 5})
	require.NoError(t, co.Run(ctx))
	assert.Len(t, sink.appended(), 30)
	assert.Less(t, co.Stats().AllStaleCycles, 5)
}

func TestResolutionChangeIsFatal(t *testing.T) {
	t.Parallel()

	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	sink := &recordingSink{}
	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: time.Second},
		WithCycleHook(func(seq uint64, _ observation.TriCameraObservation) {
			if seq == 1 {
				// the driver starts producing frames of another shape
				c.info = camera.SensorInfo{Width: 8, Height: 2, Channels: 1, FrameRate: 100}
			}
		}))

	err := co.Run(t.Context())
	require.Error(t, err)
	assert.True(t, camera.IsConfigurationError(err))
	assert.Equal(t, Stopped, co.State())
	assert.Len(t, sink.appended(), 2)
}

func TestSlowGrabIsJoinedNextCycle(t *testing.T) {
	t.Parallel()

	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	b.gate = make(chan struct{})

	var callsAtSecondCycle int32
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recordingSink{limit: 3, cancel: cancel}

	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: 20 * time.Millisecond},
		WithCycleHook(func(seq uint64, _ observation.TriCameraObservation) {
			switch seq {
			case 0:
				close(b.gate)
			case 1:
				callsAtSecondCycle = b.calls.Load()
			}
		}))
	require.NoError(t, co.Run(ctx))

	got := sink.appended()
	require.Len(t, got, 3)
	assert.True(t, got[0].Camera(observation.Camera180).IsPlaceholder())
	assert.Equal(t, uint64(1), got[1].Camera(observation.Camera180).FrameID)
	assert.Equal(t, int32(1), callsAtSecondCycle, "second cycle must reuse the in-flight grab")
	assert.Equal(t, uint64(1), co.Stats().Cameras[1].Stale)
}

func TestSinkFailureStops(t *testing.T) {
	t.Parallel()

	boom := stderrors.New("buffer closed")
	sink := &recordingSink{err: boom}
	co := newTestCoordinator(t, rig(newFake("a"), newFake("b"), newFake("c")), sink, Config{})

	err := co.Run(t.Context())
	require.ErrorIs(t, err, boom)
	assert.True(t, errors.IsCategory(err, errors.CategorySharedBuffer))
	assert.Equal(t, Stopped, co.State())
}

func TestCancelledContextStopsCleanly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	sink := &recordingSink{}
	co := newTestCoordinator(t, rig(newFake("a"), newFake("b"), newFake("c")), sink, Config{})
	assert.Equal(t, Idle, co.State())
	require.NoError(t, co.Run(ctx))
	assert.Equal(t, Stopped, co.State())
	assert.Empty(t, sink.appended())
}

func TestCancelMidCycleFinishesCycle(t *testing.T) {
	t.Parallel()

	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	for _, d := range []*fakeDriver{a, b, c} {
		d.delay = 50 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	stop := time.AfterFunc(10*time.Millisecond, cancel)
	defer stop.Stop()

	sink := &recordingSink{}
	co := newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: 500 * time.Millisecond})
	require.NoError(t, co.Run(ctx))

	assert.Equal(t, Stopped, co.State())
	for _, d := range []*fakeDriver{a, b, c} {
		assert.False(t, d.sawCancel.Load(), "%s grab was interrupted", d.name)
		assert.Equal(t, int32(1), d.calls.Load(), d.name)
	}
	got := sink.appended()
	require.Len(t, got, 1)
	assert.Equal(t, [observation.NumCameras]uint64{1, 1, 1}, got[0].FrameIDs())
	assert.Equal(t, uint64(1), co.Stats().Appends)
}

func TestGrabBudgetExpiryIsCaptureTimeout(t *testing.T) {
	t.Parallel()

	a, b, c := newFake("camera60"), newFake("camera180"), newFake("camera300")
	// never opened; only the read limit ends the call
	b.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recordingSink{limit: 2, cancel: cancel}

	var firstErr error
	var co *Coordinator
	co = newTestCoordinator(t, rig(a, b, c), sink, Config{GrabTimeout: 10 * time.Millisecond, StaleThreshold: 3},
		WithCycleHook(func(seq uint64, _ observation.TriCameraObservation) {
			if seq == 0 {
				firstErr = co.cams[1].lastErr
			}
		}))
	require.NoError(t, co.Run(ctx))

	require.Error(t, firstErr)
	ce, ok := camera.AsCaptureError(firstErr)
	require.True(t, ok, "got %T", firstErr)
	assert.Equal(t, camera.KindTimeout, ce.Kind)
	assert.Equal(t, "camera180", ce.Camera)
	assert.ErrorIs(t, firstErr, context.DeadlineExceeded)
	assert.Equal(t, metrics.StatusTimeout, grabStatus(firstErr))

	// Run returned, so the abandoned read ended on its own deadline
	assert.True(t, b.hadDeadline.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, uint64(2), co.Stats().Cameras[1].Stale)
}

func TestMaxCycleRate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := &recordingSink{limit: 6, cancel: cancel}
	co := newTestCoordinator(t, rig(newFake("a"), newFake("b"), newFake("c")), sink, Config{MaxCycleRate: 100})

	start := time.Now()
	require.NoError(t, co.Run(ctx))
	// burst of one, then 10ms per cycle
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(rig(newFake("a"), newFake("b"), newFake("c")), nil, Config{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	odd := newFake("c")
	odd.info.Channels = 3
	_, err = New(rig(newFake("a"), newFake("b"), odd), &recordingSink{}, Config{})
	assert.True(t, camera.IsConfigurationError(err))

	var drivers [observation.NumCameras]camera.Driver
	drivers[0], drivers[1] = newFake("a"), newFake("b")
	_, err = New(drivers, &recordingSink{}, Config{})
	assert.True(t, camera.IsConfigurationError(err))

	co, err := New(rig(newFake("a"), newFake("b"), newFake("c")), &recordingSink{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, co.Config().GrabTimeout)
	assert.Equal(t, DefaultStaleThreshold, co.Config().StaleThreshold)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(7).String())
}
