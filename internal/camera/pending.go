package camera

import (
	"context"
	"sync"

	"github.com/tphakala/tricam/internal/observation"
)

type grabResult struct {
	obs observation.Observation
	err error
}

// PendingGrab serializes a blocking read that cannot be interrupted. When a
// caller gives up, the read keeps running and the next caller collects its
// result instead of issuing a second read against the device.
type PendingGrab struct {
	mu      sync.Mutex
	pending chan grabResult
	wg      sync.WaitGroup
}

// Do runs read, or joins the read already in flight, and waits for it or ctx.
func (g *PendingGrab) Do(ctx context.Context, read func() (observation.Observation, error)) (observation.Observation, error) {
	g.mu.Lock()
	ch := g.pending
	if ch == nil {
		ch = make(chan grabResult, 1)
		g.pending = ch
		g.wg.Go(func() {
			obs, err := read()
			ch <- grabResult{obs: obs, err: err}
		})
	}
	g.mu.Unlock()

	select {
	case res := <-ch:
		g.mu.Lock()
		if g.pending == ch {
			g.pending = nil
		}
		g.mu.Unlock()
		return res.obs, res.err
	case <-ctx.Done():
		return observation.Observation{}, ctx.Err()
	}
}

// InFlight reports whether a read is still outstanding.
func (g *PendingGrab) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Wait blocks until the outstanding read, if any, returns. Drivers call it
// from Close after releasing the device.
func (g *PendingGrab) Wait() {
	g.wg.Wait()
}
