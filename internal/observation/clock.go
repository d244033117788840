package observation

import "time"

var processStart = time.Now()

// fallbackNow is only comparable within one process.
func fallbackNow() time.Duration {
	return time.Since(processStart)
}
