package observation

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/tricam/internal/errors"
)

// CameraHeaderSize is the fixed per-camera header preceding pixel data:
// timestamp i64, frame id u64, width u32, height u32, channels u32, reserved u32.
const CameraHeaderSize = 32

// ErrShapeMismatch is wrapped by Encode when an image does not match the layout.
var ErrShapeMismatch = errors.NewStd("observation shape does not match layout")

// Layout fixes the per-camera image shape of a TriCameraObservation so every
// encoded payload has the same size. It implements the shared buffer codec.
type Layout struct {
	Width    int
	Height   int
	Channels int
}

// NewLayout returns a validated layout.
func NewLayout(width, height, channels int) (Layout, error) {
	l := Layout{Width: width, Height: height, Channels: channels}
	if err := (Image{Width: width, Height: height, Channels: channels, Pix: make([]byte, l.imageSize())}).Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

func (l Layout) imageSize() int {
	return l.Width * l.Height * l.Channels
}

// CameraStride is the number of bytes one camera occupies in a payload.
func (l Layout) CameraStride() int {
	return CameraHeaderSize + l.imageSize()
}

// Size is the encoded size of one TriCameraObservation.
func (l Layout) Size() int {
	return NumCameras * l.CameraStride()
}

// Descriptor is a stable description of the payload format. Two processes
// with equal descriptors agree on the binary layout.
func (l Layout) Descriptor() string {
	return fmt.Sprintf("tricamera/v1/%dx%dx%dx%d/le", NumCameras, l.Width, l.Height, l.Channels)
}

// ParseDescriptor is the inverse of Descriptor.
func ParseDescriptor(desc string) (Layout, error) {
	var cameras, width, height, channels int
	var order string
	n, err := fmt.Sscanf(strings.ReplaceAll(desc, "/", " "), "tricamera v1 %dx%dx%dx%d %s",
		&cameras, &width, &height, &channels, &order)
	if err != nil || n != 5 || order != "le" {
		return Layout{}, errors.Newf("unrecognized layout descriptor %q", desc).
			Category(errors.CategoryValidation).
			Build()
	}
	if cameras != NumCameras {
		return Layout{}, errors.Newf("descriptor %q has %d cameras, want %d", desc, cameras, NumCameras).
			Category(errors.CategoryValidation).
			Build()
	}
	return NewLayout(width, height, channels)
}

// Matches reports whether img has the layout's shape.
func (l Layout) Matches(img Image) bool {
	return img.Width == l.Width && img.Height == l.Height && img.Channels == l.Channels
}

// Placeholder returns a TriCameraObservation of blank frames in this layout.
func (l Layout) Placeholder() TriCameraObservation {
	var t TriCameraObservation
	for i := range t.Cameras {
		t.Cameras[i] = Placeholder(l.Width, l.Height, l.Channels)
	}
	return t
}

// Encode writes v into dst, which must be at least Size() bytes.
func (l Layout) Encode(dst []byte, v TriCameraObservation) error {
	if len(dst) < l.Size() {
		return errors.Newf("encode buffer is %d bytes, layout needs %d", len(dst), l.Size()).
			Category(errors.CategoryValidation).
			Build()
	}

	for i, obs := range v.Cameras {
		if !l.Matches(obs.Image) || len(obs.Image.Pix) != l.imageSize() {
			return errors.New(fmt.Errorf("%w: %s is %s, layout is %dx%dx%d",
				ErrShapeMismatch, Roles[i], obs.Image.Shape(), l.Width, l.Height, l.Channels)).
				Category(errors.CategoryConfiguration).
				Context("camera", Roles[i].String()).
				Build()
		}
	}

	// dst is untouched unless every camera fits
	stride := l.CameraStride()
	for i, obs := range v.Cameras {
		b := dst[i*stride : (i+1)*stride]
		binary.LittleEndian.PutUint64(b[0:8], uint64(obs.Timestamp))
		binary.LittleEndian.PutUint64(b[8:16], obs.FrameID)
		binary.LittleEndian.PutUint32(b[16:20], uint32(obs.Image.Width))
		binary.LittleEndian.PutUint32(b[20:24], uint32(obs.Image.Height))
		binary.LittleEndian.PutUint32(b[24:28], uint32(obs.Image.Channels))
		binary.LittleEndian.PutUint32(b[28:32], 0)
		copy(b[CameraHeaderSize:], obs.Image.Pix)
	}
	return nil
}

// Decode reads a TriCameraObservation from src into freshly allocated images.
func (l Layout) Decode(src []byte) (TriCameraObservation, error) {
	var v TriCameraObservation
	if len(src) < l.Size() {
		return v, errors.Newf("payload is %d bytes, layout needs %d", len(src), l.Size()).
			Category(errors.CategoryValidation).
			Build()
	}

	stride := l.CameraStride()
	for i := range v.Cameras {
		b := src[i*stride : (i+1)*stride]
		w := int(binary.LittleEndian.Uint32(b[16:20]))
		h := int(binary.LittleEndian.Uint32(b[20:24]))
		c := int(binary.LittleEndian.Uint32(b[24:28]))
		if w != l.Width || h != l.Height || c != l.Channels {
			return v, errors.New(fmt.Errorf("%w: %s header says %dx%dx%d",
				ErrShapeMismatch, Roles[i], w, h, c)).
				Category(errors.CategoryConfiguration).
				Build()
		}

		pix := make([]byte, l.imageSize())
		copy(pix, b[CameraHeaderSize:])
		v.Cameras[i] = Observation{
			Image:     Image{Width: w, Height: h, Channels: c, Pix: pix},
			Timestamp: time.Duration(binary.LittleEndian.Uint64(b[0:8])),
			FrameID:   binary.LittleEndian.Uint64(b[8:16]),
		}
	}
	return v, nil
}
