//go:build !unix

package observation

import "time"

// Now returns a monotonic timestamp relative to process start.
func Now() time.Duration {
	return fallbackNow()
}
