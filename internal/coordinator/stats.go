package coordinator

import (
	"github.com/tphakala/tricam/internal/observation"
)

// CameraStats is the per-camera view of Stats.
type CameraStats struct {
	Role             string `json:"role"`
	Frames           uint64 `json:"frames"`
	Stale            uint64 `json:"stale"`
	ConsecutiveStale int    `json:"consecutive_stale"`
	LastFrameID      uint64 `json:"last_frame_id"`
	LastError        string `json:"last_error,omitempty"`
}

// Stats is a snapshot of coordinator progress.
type Stats struct {
	State          string                                `json:"state"`
	Cycles         uint64                                `json:"cycles"`
	Appends        uint64                                `json:"appends"`
	AllStaleCycles int                                   `json:"all_stale_cycles"`
	LastSequence   uint64                                `json:"last_sequence"`
	Published      bool                                  `json:"published"` // LastSequence is valid
	Cameras        [observation.NumCameras]CameraStats `json:"cameras"`
}

// Stats returns a snapshot safe to use from any goroutine.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// updateStats runs on the Run goroutine at the end of each cycle.
func (c *Coordinator) updateStats(seq uint64, appended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Cycles++
	c.stats.AllStaleCycles = c.allStale
	if appended {
		c.stats.Appends++
		c.stats.LastSequence = seq
		c.stats.Published = true
	}
	for i, cs := range c.cams {
		s := &c.stats.Cameras[i]
		s.Frames = cs.frames
		s.Stale = cs.stale
		s.ConsecutiveStale = cs.consecutive
		s.LastFrameID = cs.last.FrameID
		s.LastError = ""
		if cs.lastErr != nil {
			s.LastError = cs.lastErr.Error()
		}
	}
}
