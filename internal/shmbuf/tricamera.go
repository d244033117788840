package shmbuf

import (
	"github.com/tphakala/tricam/internal/observation"
)

// Tri-camera instantiations of the generic buffer.
type (
	TriCameraWriter = Writer[observation.TriCameraObservation]
	TriCameraReader = Reader[observation.TriCameraObservation]
	TriCameraCursor = Cursor[observation.TriCameraObservation]
	TriCameraResult = Result[observation.TriCameraObservation]
	TriCameraEntry  = Entry[observation.TriCameraObservation]
)

// CreateTriCamera creates a writer for TriCameraObservations in layout.
func CreateTriCamera(path string, layout observation.Layout, cfg WriterConfig) (*TriCameraWriter, error) {
	return Create[observation.TriCameraObservation](path, layout, cfg)
}

// AttachTriCamera attaches a reader for TriCameraObservations in layout.
func AttachTriCamera(path string, layout observation.Layout, cfg ReaderConfig) (*TriCameraReader, error) {
	return Attach[observation.TriCameraObservation](path, layout, cfg)
}

// DiscoverTriCamera attaches to the region at path using the layout recorded
// in its header, so readers need no resolution settings of their own.
func DiscoverTriCamera(path string, cfg ReaderConfig) (*TriCameraReader, observation.Layout, error) {
	info, err := Stat(path)
	if err != nil {
		return nil, observation.Layout{}, err
	}
	layout, err := observation.ParseDescriptor(info.Descriptor)
	if err != nil {
		return nil, observation.Layout{}, configError(path, "region does not hold tri-camera observations: %v", err)
	}
	r, err := AttachTriCamera(path, layout, cfg)
	if err != nil {
		return nil, observation.Layout{}, err
	}
	return r, layout, nil
}
