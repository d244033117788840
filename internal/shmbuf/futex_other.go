//go:build !linux

package shmbuf

import (
	"sync/atomic"
	"time"
)

const pollInterval = 5 * time.Millisecond

// futexWait polls word until it changes or d elapses.
func futexWait(word *atomic.Uint32, val uint32, d time.Duration) error {
	deadline := time.Now().Add(d)
	for word.Load() == val {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		time.Sleep(min(remaining, pollInterval))
	}
	return nil
}

func futexWake(*atomic.Uint32) {}
