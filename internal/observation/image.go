package observation

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"slices"

	"github.com/tphakala/tricam/internal/errors"
)

// Image is a row-major 8-bit image with 1 (gray) or 3 (RGB) channels.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) Image {
	return Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Len is the number of pixel bytes the dimensions call for.
func (im Image) Len() int {
	return im.Width * im.Height * im.Channels
}

// Validate checks channel count and that Pix matches the dimensions.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return errors.Newf("invalid image size %dx%d", im.Width, im.Height).
			Category(errors.CategoryValidation).
			Build()
	}
	if im.Channels != 1 && im.Channels != 3 {
		return errors.Newf("invalid channel count %d", im.Channels).
			Category(errors.CategoryValidation).
			Build()
	}
	if len(im.Pix) != im.Len() {
		return errors.Newf("pixel buffer is %d bytes, %dx%dx%d needs %d",
			len(im.Pix), im.Width, im.Height, im.Channels, im.Len()).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// SameShape reports whether both images have identical dimensions.
func (im Image) SameShape(other Image) bool {
	return im.Width == other.Width && im.Height == other.Height && im.Channels == other.Channels
}

// Clone returns a deep copy.
func (im Image) Clone() Image {
	im.Pix = slices.Clone(im.Pix)
	return im
}

// Shape renders the dimensions as WxHxC.
func (im Image) Shape() string {
	return fmt.Sprintf("%dx%dx%d", im.Width, im.Height, im.Channels)
}

// ToImage converts to a standard library image. Single-channel images become
// *image.Gray, RGB images become *image.RGBA with opaque alpha.
func (im Image) ToImage() image.Image {
	rect := image.Rect(0, 0, im.Width, im.Height)
	if im.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, im.Pix)
		return g
	}

	rgba := image.NewRGBA(rect)
	for i, j := 0, 0; i+2 < len(im.Pix) && j+3 < len(rgba.Pix); i, j = i+3, j+4 {
		rgba.Pix[j] = im.Pix[i]
		rgba.Pix[j+1] = im.Pix[i+1]
		rgba.Pix[j+2] = im.Pix[i+2]
		rgba.Pix[j+3] = 0xff
	}
	return rgba
}

// FromImage converts any image.Image to an Image with the requested channel count.
func FromImage(src image.Image, channels int) Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy(), channels)

	// fast paths for the formats decoders hand back most often
	switch s := src.(type) {
	case *image.Gray:
		if channels == 1 {
			for y := range out.Height {
				copy(out.Pix[y*out.Width:(y+1)*out.Width], s.Pix[y*s.Stride:y*s.Stride+out.Width])
			}
			return out
		}
	case *image.RGBA:
		if channels == 3 {
			for y := range out.Height {
				row := s.Pix[y*s.Stride:]
				for x := range out.Width {
					o := (y*out.Width + x) * 3
					out.Pix[o], out.Pix[o+1], out.Pix[o+2] = row[x*4], row[x*4+1], row[x*4+2]
				}
			}
			return out
		}
	}

	for y := range out.Height {
		for x := range out.Width {
			c := src.At(b.Min.X+x, b.Min.Y+y)
			if channels == 1 {
				out.Pix[y*out.Width+x] = color.GrayModel.Convert(c).(color.Gray).Y
				continue
			}
			r, g, bl, _ := c.RGBA()
			o := (y*out.Width + x) * 3
			out.Pix[o], out.Pix[o+1], out.Pix[o+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
		}
	}
	return out
}

// EncodePNG writes the image as PNG.
func (im Image) EncodePNG(w io.Writer) error {
	if err := im.Validate(); err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, im.ToImage())
}
