// Package simulator is a small deterministic physics world used in place of
// a camera rig: a cube falling and bouncing inside a walled arena, rendered
// from three virtual cameras on a ring around it.
package simulator

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
)

// World constants, SI units.
const (
	Gravity     = 9.81
	ArenaHalf   = 0.5  // arena spans [-ArenaHalf, ArenaHalf] in x and y
	CubeHalf    = 0.05 // half edge length of the cube
	Restitution = 0.8  // fraction of normal speed kept on impact
	Friction    = 0.98 // tangential speed kept on floor impact

	DefaultStepRate = 240.0
)

// State is a snapshot of the world.
type State struct {
	Time     time.Duration
	Steps    uint64
	Position r3.Vec // cube centre
	Velocity r3.Vec
	Yaw      float64 // rotation about z, radians
}

// Config configures a World.
type Config struct {
	StepRate float64 // physics steps per simulated second
	Seed     int64
	Logger   logger.Logger
}

// World is safe for concurrent use. Time only moves when Step or Run is
// called, so callers control how far the simulation is ahead of capture.
type World struct {
	dt  float64
	log logger.Logger

	mu      sync.Mutex
	state   State
	spin    float64 // yaw rate, rad/s
	changed chan struct{}
}

// NewWorld returns a world whose initial velocity and spin are derived from
// cfg.Seed.
func NewWorld(cfg Config) *World {
	if cfg.StepRate <= 0 {
		cfg.StepRate = DefaultStepRate
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	w := &World{
		dt:      1 / cfg.StepRate,
		log:     cfg.Logger,
		changed: make(chan struct{}),
		spin:    rng.Float64()*4 - 2,
	}
	w.state = State{
		Position: r3.Vec{X: 0, Y: 0, Z: 0.6},
		Velocity: r3.Vec{X: rng.Float64()*1.2 - 0.6, Y: rng.Float64()*1.2 - 0.6, Z: rng.Float64() * 1.5},
	}
	return w
}

// StepDuration is the simulated time covered by one step.
func (w *World) StepDuration() time.Duration {
	return time.Duration(w.dt * float64(time.Second))
}

// Step advances the world by n fixed steps and wakes WaitUntil callers.
func (w *World) Step(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	for range n {
		w.integrate()
	}
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

// integrate advances one step; w.mu must be held.
func (w *World) integrate() {
	s := &w.state
	s.Velocity.Z -= Gravity * w.dt
	s.Position = r3.Add(s.Position, r3.Scale(w.dt, s.Velocity))
	s.Yaw = math.Mod(s.Yaw+w.spin*w.dt, 2*math.Pi)

	if s.Position.Z < CubeHalf {
		s.Position.Z = CubeHalf
		if s.Velocity.Z < 0 {
			s.Velocity.Z = -s.Velocity.Z * Restitution
			s.Velocity.X *= Friction
			s.Velocity.Y *= Friction
			w.spin *= Friction
		}
	}
	bounce(&s.Position.X, &s.Velocity.X)
	bounce(&s.Position.Y, &s.Velocity.Y)

	s.Steps++
	s.Time = time.Duration(float64(s.Steps) * w.dt * float64(time.Second))
}

// bounce reflects one horizontal axis off the arena walls.
func bounce(pos, vel *float64) {
	limit := ArenaHalf - CubeHalf
	switch {
	case *pos > limit:
		*pos = limit
		*vel = -math.Abs(*vel) * Restitution
	case *pos < -limit:
		*pos = -limit
		*vel = math.Abs(*vel) * Restitution
	}
}

// Snapshot returns the current state.
func (w *World) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Time returns the simulated clock.
func (w *World) Time() time.Duration {
	return w.Snapshot().Time
}

// WaitUntil blocks until simulated time reaches t or ctx is done.
func (w *World) WaitUntil(ctx context.Context, t time.Duration) error {
	for {
		w.mu.Lock()
		now := w.state.Time
		ch := w.changed
		w.mu.Unlock()

		if now >= t {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component("simulator").
				Category(errors.CategorySimulator).
				Context("sim_time", now.String()).
				Context("wanted", t.String()).
				Build()
		}
	}
}

// Run steps the world until ctx is done. With realtime set, simulated time
// tracks the wall clock; otherwise it runs as fast as the host allows,
// yielding between batches.
func (w *World) Run(ctx context.Context, realtime bool) error {
	const batch = 8

	w.log.Info("simulator running",
		logger.Bool("realtime", realtime),
		logger.Float64("step_rate", 1/w.dt))

	if !realtime {
		for ctx.Err() == nil {
			w.Step(batch)
			runtime.Gosched()
		}
		return nil
	}

	ticker := time.NewTicker(w.StepDuration() * batch)
	defer ticker.Stop()

	start := time.Now()
	base := w.Snapshot().Steps
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			want := base + uint64(now.Sub(start).Seconds()/w.dt)
			if have := w.Snapshot().Steps; want > have {
				w.Step(int(want - have))
			}
		}
	}
}
