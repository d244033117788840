// Package opencv captures from webcams, video files and network streams
// through OpenCV. The backend needs cgo and an installed OpenCV, so it is
// only compiled with the "opencv" build tag; without it Open reports a
// configuration error.
package opencv

import (
	"time"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/logger"
)

// Config describes one OpenCV camera.
type Config struct {
	Device      string            // device index, file path or stream URL
	Info        camera.SensorInfo // requested resolution, channels and rate
	GrabTimeout time.Duration     // per grab budget when ctx has no deadline
	Logger      logger.Logger
}

var log = logger.Global().Module("camera.opencv")
