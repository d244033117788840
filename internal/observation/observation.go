// Package observation defines the frames produced by camera drivers and the
// fixed binary layout used to place them in shared memory.
package observation

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/tricam/internal/errors"
)

// Role identifies a camera position on the rig.
type Role int

const (
	Camera60 Role = iota
	Camera180
	Camera300
)

// NumCameras is the number of camera slots in a TriCameraObservation.
const NumCameras = 3

// Roles lists the camera roles in slot order.
var Roles = [NumCameras]Role{Camera60, Camera180, Camera300}

// String returns the role name used in configuration and APIs.
func (r Role) String() string {
	switch r {
	case Camera60:
		return "camera60"
	case Camera180:
		return "camera180"
	case Camera300:
		return "camera300"
	default:
		return fmt.Sprintf("camera(%d)", int(r))
	}
}

// Angle returns the mounting angle of the role around the rig, in degrees.
func (r Role) Angle() float64 {
	switch r {
	case Camera60:
		return 60
	case Camera180:
		return 180
	case Camera300:
		return 300
	default:
		return 0
	}
}

// Valid reports whether r is one of the three rig positions.
func (r Role) Valid() bool {
	return r >= Camera60 && r <= Camera300
}

// ParseRole accepts "camera60", "60", or a slot index "0".."2".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camera60", "60", "0":
		return Camera60, nil
	case "camera180", "180", "1":
		return Camera180, nil
	case "camera300", "300", "2":
		return Camera300, nil
	}
	return 0, errors.Newf("unknown camera role %q", s).
		Category(errors.CategoryValidation).
		Build()
}

// Observation is a single captured frame. Constructors copy pixel data so a
// value never aliases a driver's reusable buffer.
type Observation struct {
	Image     Image
	Timestamp time.Duration // CLOCK_MONOTONIC at capture
	FrameID   uint64        // 0 means the camera has not produced a frame yet
}

// New builds an Observation from a copy of img.
func New(img Image, timestamp time.Duration, frameID uint64) Observation {
	return Observation{
		Image:     img.Clone(),
		Timestamp: timestamp,
		FrameID:   frameID,
	}
}

// Placeholder returns the black frame that stands in for a camera before its
// first successful capture.
func Placeholder(width, height, channels int) Observation {
	return Observation{Image: NewImage(width, height, channels)}
}

// IsPlaceholder reports whether the observation was never captured.
func (o Observation) IsPlaceholder() bool {
	return o.FrameID == 0
}

// Clone returns a deep copy.
func (o Observation) Clone() Observation {
	return New(o.Image, o.Timestamp, o.FrameID)
}

// TriCameraObservation groups one Observation per rig position.
type TriCameraObservation struct {
	Cameras [NumCameras]Observation
}

// Camera returns the observation for role.
func (t TriCameraObservation) Camera(r Role) Observation {
	return t.Cameras[r]
}

// FrameIDs returns the per-camera frame ids in slot order.
func (t TriCameraObservation) FrameIDs() [NumCameras]uint64 {
	var ids [NumCameras]uint64
	for i := range t.Cameras {
		ids[i] = t.Cameras[i].FrameID
	}
	return ids
}
