// Package coordinator drives the three rig cameras in lockstep and appends
// one TriCameraObservation per cycle to a sink, normally the shared buffer
// writer.
//
// Every cycle grabs from all cameras concurrently, each bounded by the grab
// timeout. A camera that fails or runs out of time contributes its last good
// frame with the frame id unchanged, so readers can see it is stale. A grab
// still running from an earlier cycle is joined rather than restarted. When
// every camera has been stale for StaleThreshold consecutive cycles the
// coordinator stops and Run returns a *CaptureLossError.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
	"github.com/tphakala/tricam/internal/observation"
)

var log = logger.Global().Module("coordinator")

// Sink receives composed observations in capture order.
type Sink interface {
	Append(observation.TriCameraObservation) (uint64, error)
}

// camState is owned by the Run goroutine.
type camState struct {
	role   observation.Role
	driver camera.Driver
	info   camera.SensorInfo
	grab   camera.PendingGrab

	last        observation.Observation
	frames      uint64
	stale       uint64
	consecutive int
	lastErr     error
}

type grabOutcome struct {
	obs     observation.Observation
	err     error
	joined  bool
	elapsed time.Duration
}

// Coordinator is created Idle, runs once and ends Stopped.
type Coordinator struct {
	cams    [observation.NumCameras]*camState
	sink    Sink
	cfg     Config
	limiter *rate.Limiter
	log     logger.Logger
	metrics *metrics.CaptureMetrics
	onCycle func(seq uint64, obs observation.TriCameraObservation)

	state    atomic.Int32
	allStale int

	mu    sync.Mutex
	stats Stats
}

// New validates the rig and returns an Idle coordinator. Every camera must
// report the same frame shape.
func New(drivers [observation.NumCameras]camera.Driver, sink Sink, cfg Config, opts ...Option) (*Coordinator, error) {
	if sink == nil {
		return nil, errors.Newf("coordinator needs a sink").
			Component("coordinator").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Coordinator{sink: sink, log: log}
	for _, opt := range opts {
		opt(c)
	}

	var slowest time.Duration
	for i, d := range drivers {
		role := observation.Roles[i]
		if d == nil {
			return nil, camera.NewConfigurationError(role.String(), "", "no driver for %s", role)
		}
		info := d.SensorInfo()
		if _, err := info.Layout(); err != nil {
			return nil, camera.NewConfigurationError(role.String(), "", "invalid sensor %s: %v", info, err)
		}
		if first := c.cams[0]; first != nil &&
			(info.Width != first.info.Width || info.Height != first.info.Height || info.Channels != first.info.Channels) {
			return nil, camera.NewConfigurationError(role.String(), "",
				"sensor %s differs from %s sensor %s", info, first.role, first.info)
		}
		slowest = max(slowest, info.FramePeriod())
		c.cams[i] = &camState{
			role:   role,
			driver: d,
			info:   info,
			last:   observation.Placeholder(info.Width, info.Height, info.Channels),
		}
	}

	if cfg.GrabTimeout <= 0 {
		if slowest == 0 {
			slowest = defaultFramePeriod
		}
		cfg.GrabTimeout = 3 * slowest
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.MaxCycleRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxCycleRate), 1)
	}
	c.cfg = cfg

	c.stats.State = Idle.String()
	for i, cs := range c.cams {
		c.stats.Cameras[i].Role = cs.role.String()
	}
	c.metrics.UpdateState(Idle.String(), stateNames)
	return c, nil
}

// Config returns the effective configuration after defaults.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.mu.Lock()
	c.stats.State = s.String()
	c.mu.Unlock()
	c.metrics.UpdateState(s.String(), stateNames)
}

// Run captures until ctx is done or a fatal condition occurs. Cancellation
// is observed between cycles and returns nil. A configuration mismatch,
// capture loss or sink failure stops the coordinator and is returned. Run
// may only be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrAlreadyStarted
	}
	c.setState(Running)

	// Stopping takes effect between cycles. Grabs already running finish or
	// time out on their own budget.
	grabCtx := context.WithoutCancel(ctx)
	defer func() {
		for _, cs := range c.cams {
			cs.grab.Wait()
		}
		c.setState(Stopped)
	}()

	c.log.Info("capture started",
		logger.Duration("grab_timeout", c.cfg.GrabTimeout),
		logger.Int("stale_threshold", c.cfg.StaleThreshold),
		logger.Float64("max_cycle_rate", c.cfg.MaxCycleRate),
		logger.String("sensor", c.cams[0].info.String()))

	for {
		if ctx.Err() != nil {
			c.logStop("context done")
			return nil
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.logStop("context done")
				return nil
			}
		}

		if err := c.cycle(grabCtx); err != nil {
			c.log.Error("capture stopped", logger.Error(err))
			return err
		}
	}
}

func (c *Coordinator) logStop(reason string) {
	s := c.Stats()
	c.log.Info("capture stopped",
		logger.String("reason", reason),
		logger.Uint64("cycles", s.Cycles),
		logger.Uint64("appends", s.Appends))
}

// cycle grabs once from every camera and appends the result. grabCtx is
// never cancelled, so a cycle always runs to completion.
func (c *Coordinator) cycle(grabCtx context.Context) error {
	start := time.Now()

	var outcomes [observation.NumCameras]grabOutcome
	var wg sync.WaitGroup
	for i, cs := range c.cams {
		wg.Go(func() {
			outcomes[i] = c.grab(grabCtx, cs)
		})
	}
	wg.Wait()

	var tri observation.TriCameraObservation
	fresh := 0
	for i, cs := range c.cams {
		if err := c.absorb(cs, outcomes[i]); err != nil {
			return err
		}
		if outcomes[i].err == nil {
			fresh++
		}
		tri.Cameras[i] = cs.last
	}

	if fresh == 0 {
		c.allStale++
	} else {
		c.allStale = 0
	}
	if c.allStale >= c.cfg.StaleThreshold {
		loss := &CaptureLossError{Cycles: c.allStale}
		for i, cs := range c.cams {
			loss.Causes[i] = cs.lastErr
		}
		c.metrics.RecordCaptureLoss()
		c.updateStats(0, false)
		return errors.New(loss).
			Component("coordinator").
			Category(errors.CategoryCaptureLoss).
			Context("consecutive_cycles", c.allStale).
			Priority(errors.PriorityCritical).
			Build()
	}

	seq, err := c.sink.Append(tri)
	if err != nil {
		c.updateStats(0, false)
		return errors.New(err).
			Component("coordinator").
			Category(errors.CategorySharedBuffer).
			Context("operation", "append").
			Build()
	}
	c.updateStats(seq, true)

	c.metrics.RecordCycle(time.Since(start).Seconds(), seq)
	if fresh < observation.NumCameras {
		c.log.Debug("cycle published with stale cameras",
			logger.Uint64("sequence", seq),
			logger.Int("fresh", fresh),
			logger.Int("all_stale_cycles", c.allStale))
	}
	if c.onCycle != nil {
		c.onCycle(seq, tri)
	}
	return nil
}

// grab waits at most the grab timeout for cs's next frame, joining a read
// left over from an earlier cycle. Running out of budget is reported as a
// timeout CaptureError, the same as a driver that gives up on its own.
func (c *Coordinator) grab(grabCtx context.Context, cs *camState) grabOutcome {
	budget, cancel := context.WithTimeout(grabCtx, c.cfg.GrabTimeout)
	defer cancel()

	start := time.Now()
	joined := cs.grab.InFlight()
	obs, err := cs.grab.Do(budget, func() (observation.Observation, error) {
		// a read may be joined for a few cycles, not forever
		readCtx, cancelRead := context.WithTimeout(grabCtx, c.readLimit())
		defer cancelRead()
		return cs.driver.GetObservation(readCtx)
	})
	if _, ok := camera.AsCaptureError(err); !ok && err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = camera.NewCaptureError(cs.role.String(), "", "grab", camera.KindTimeout, err)
	}
	return grabOutcome{obs: obs, err: err, joined: joined, elapsed: time.Since(start)}
}

// readLimit bounds a single driver read. A read still running after
// StaleThreshold grab budgets is abandoned by drivers that honour ctx.
func (c *Coordinator) readLimit() time.Duration {
	return time.Duration(c.cfg.StaleThreshold) * c.cfg.GrabTimeout
}

// absorb folds one grab outcome into cs. Only configuration errors are
// returned; capture failures leave cs.last in place.
func (c *Coordinator) absorb(cs *camState, out grabOutcome) error {
	name := cs.role.String()

	if out.err == nil {
		if err := camera.CheckFrame(name, cs.info, out.obs); err != nil {
			c.metrics.RecordGrab(name, metrics.StatusError, out.elapsed.Seconds())
			return err
		}
		status := metrics.StatusOK
		if out.joined {
			status = metrics.StatusReused
		}
		c.metrics.RecordGrab(name, status, out.elapsed.Seconds())
		if cs.consecutive > 0 {
			c.log.Info("camera recovered",
				logger.String("camera", name),
				logger.Int("stale_cycles", cs.consecutive))
			c.metrics.ResetStale(name)
		}
		cs.last = out.obs
		cs.frames++
		cs.consecutive = 0
		cs.lastErr = nil
		return nil
	}

	if camera.IsConfigurationError(out.err) {
		c.metrics.RecordGrab(name, metrics.StatusError, out.elapsed.Seconds())
		return out.err
	}

	c.metrics.RecordGrab(name, grabStatus(out.err), out.elapsed.Seconds())
	cs.stale++
	cs.consecutive++
	cs.lastErr = out.err
	c.metrics.RecordStale(name, cs.consecutive)
	if cs.consecutive == 1 {
		c.log.Warn("camera stale, reusing last frame",
			logger.String("camera", name),
			logger.Uint64("frame_id", cs.last.FrameID),
			logger.Error(out.err))
	}
	return nil
}

func grabStatus(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.StatusTimeout
	}
	if ce, ok := camera.AsCaptureError(err); ok {
		switch ce.Kind {
		case camera.KindTimeout:
			return metrics.StatusTimeout
		case camera.KindNotReady:
			return metrics.StatusNotReady
		}
	}
	return metrics.StatusError
}
