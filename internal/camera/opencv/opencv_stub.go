//go:build !opencv

package opencv

import (
	"context"

	"github.com/tphakala/tricam/internal/camera"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/observation"
)

// Available reports whether the backend was compiled in.
const Available = false

// Driver is never constructed without the opencv build tag.
type Driver struct{}

var _ camera.Driver = (*Driver)(nil)

// Open always fails: the binary was built without OpenCV support.
func Open(role observation.Role, cfg Config) (*Driver, error) {
	return nil, camera.NewConfigurationError(role.String(), conf.BackendOpenCV,
		"opencv backend not compiled in, rebuild with -tags opencv (device %q)", cfg.Device)
}

func (*Driver) GetObservation(context.Context) (observation.Observation, error) {
	return observation.Observation{}, camera.ErrClosed
}

func (*Driver) SensorInfo() camera.SensorInfo { return camera.SensorInfo{} }

func (*Driver) Close() error { return nil }
