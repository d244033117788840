package metrics

import "time"

// Status label values shared by capture and buffer metrics.
const (
	StatusOK       = "ok"
	StatusTimeout  = "timeout"
	StatusError    = "error"
	StatusReused   = "reused"
	StatusNotReady = "not_ready"
)

// ShutdownTimeout bounds how long the metrics HTTP server waits to drain.
const ShutdownTimeout = 5 * time.Second
