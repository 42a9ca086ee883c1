package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cedartoy"
)

// TextureFormat is the storage format of a texture or render target.
type TextureFormat uint8

const (
	// TextureFormatRGBA8 is 8-bit unsigned normalized RGBA.
	TextureFormatRGBA8 TextureFormat = iota

	// TextureFormatRGBA16F is half-float RGBA.
	TextureFormatRGBA16F

	// TextureFormatRGBA32F is float RGBA.
	TextureFormatRGBA32F

	// TextureFormatR32F is single-channel float, used for audio textures.
	TextureFormatR32F
)

// String returns a human-readable name for the format.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8:
		return "RGBA8"
	case TextureFormatRGBA16F:
		return "RGBA16F"
	case TextureFormatRGBA32F:
		return "RGBA32F"
	case TextureFormatR32F:
		return "R32F"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// Channels returns the number of components per texel.
func (f TextureFormat) Channels() int {
	if f == TextureFormatR32F {
		return 1
	}
	return 4
}

// BytesPerPixel returns the storage size of one texel.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatRGBA16F:
		return 8
	case TextureFormatRGBA32F:
		return 16
	default:
		return 4
	}
}

// ToWGPUFormat returns the WebGPU name of the format.
func (f TextureFormat) ToWGPUFormat() gputypes.TextureFormat {
	switch f {
	case TextureFormatRGBA16F:
		return gputypes.TextureFormatRGBA16Float
	case TextureFormatRGBA32F:
		return gputypes.TextureFormatRGBA32Float
	case TextureFormatR32F:
		return gputypes.TextureFormatR32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

var wgpuNames = map[gputypes.TextureFormat]string{
	gputypes.TextureFormatRGBA8Unorm:  "rgba8unorm",
	gputypes.TextureFormatRGBA16Float: "rgba16float",
	gputypes.TextureFormatRGBA32Float: "rgba32float",
	gputypes.TextureFormatR32Float:    "r32float",
}

// WGPUName returns the WebGPU spelling of the format, as used in WGSL
// storage texture declarations.
func (f TextureFormat) WGPUName() string {
	if n, ok := wgpuNames[f.ToWGPUFormat()]; ok {
		return n
	}
	return f.String()
}

// FormatForDepth returns the render target format of a pass bit depth.
func FormatForDepth(d cedartoy.BitDepth) TextureFormat {
	switch d {
	case cedartoy.BitDepth16F:
		return TextureFormatRGBA16F
	case cedartoy.BitDepth32F:
		return TextureFormatRGBA32F
	default:
		return TextureFormatRGBA8
	}
}
