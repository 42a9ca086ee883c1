package output

import (
	"fmt"
	"image"

	"github.com/x448/float16"

	"github.com/gogpu/cedartoy"
)

// Image is a converted output frame: RGBA, top row first. Exactly one of
// the pixel slices is set, chosen by Depth.
type Image struct {
	Width  int
	Height int
	Depth  cedartoy.BitDepth

	Pix8  []uint8
	Pix16 []float16.Float16
	Pix32 []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height int, depth cedartoy.BitDepth) *Image {
	img := &Image{Width: width, Height: height, Depth: depth}
	n := width * height * 4
	switch depth {
	case cedartoy.BitDepth16F:
		img.Pix16 = make([]float16.Float16, n)
	case cedartoy.BitDepth32F:
		img.Pix32 = make([]float32, n)
	default:
		img.Depth = cedartoy.BitDepth8
		img.Pix8 = make([]uint8, n)
	}
	return img
}

// SetRow converts one row of float RGBA values into the image. Fixed-point
// images clip to [0,1] and truncate v*255; float images cast.
func (img *Image) SetRow(y int, row []float32) {
	off := y * img.Width * 4
	switch img.Depth {
	case cedartoy.BitDepth16F:
		for i, v := range row[:img.Width*4] {
			img.Pix16[off+i] = float16.Fromfloat32(v)
		}
	case cedartoy.BitDepth32F:
		copy(img.Pix32[off:off+img.Width*4], row)
	default:
		for i, v := range row[:img.Width*4] {
			img.Pix8[off+i] = to8(v)
		}
	}
}

func to8(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

// At returns the pixel at (x, y) as float RGBA.
func (img *Image) At(x, y int) [4]float32 {
	var c [4]float32
	i := (y*img.Width + x) * 4
	for k := range c {
		switch img.Depth {
		case cedartoy.BitDepth16F:
			c[k] = img.Pix16[i+k].Float32()
		case cedartoy.BitDepth32F:
			c[k] = img.Pix32[i+k]
		default:
			c[k] = float32(img.Pix8[i+k]) / 255
		}
	}
	return c
}

// NRGBA wraps an 8-bit image for the standard library encoders.
func (img *Image) NRGBA() (*image.NRGBA, error) {
	if img.Depth != cedartoy.BitDepth8 {
		return nil, fmt.Errorf("%w: %s image is not 8-bit", cedartoy.ErrUnsupported, img.Depth)
	}
	return &image.NRGBA{
		Pix:    img.Pix8,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}, nil
}

// Stack joins images of equal depth. Horizontal places b to the right of a,
// otherwise b goes below a.
func Stack(a, b *Image, horizontal bool) (*Image, error) {
	if a.Depth != b.Depth {
		return nil, fmt.Errorf("stack: depth %s != %s", a.Depth, b.Depth)
	}
	if horizontal {
		if a.Height != b.Height {
			return nil, fmt.Errorf("stack: heights %d != %d", a.Height, b.Height)
		}
		out := NewImage(a.Width+b.Width, a.Height, a.Depth)
		for y := range a.Height {
			copyRow(out, y, 0, a, y)
			copyRow(out, y, a.Width, b, y)
		}
		return out, nil
	}
	if a.Width != b.Width {
		return nil, fmt.Errorf("stack: widths %d != %d", a.Width, b.Width)
	}
	out := NewImage(a.Width, a.Height+b.Height, a.Depth)
	for y := range a.Height {
		copyRow(out, y, 0, a, y)
	}
	for y := range b.Height {
		copyRow(out, a.Height+y, 0, b, y)
	}
	return out, nil
}

func copyRow(dst *Image, dy, dx int, src *Image, sy int) {
	d := (dy*dst.Width + dx) * 4
	s := sy * src.Width * 4
	n := src.Width * 4
	switch dst.Depth {
	case cedartoy.BitDepth16F:
		copy(dst.Pix16[d:d+n], src.Pix16[s:s+n])
	case cedartoy.BitDepth32F:
		copy(dst.Pix32[d:d+n], src.Pix32[s:s+n])
	default:
		copy(dst.Pix8[d:d+n], src.Pix8[s:s+n])
	}
}
