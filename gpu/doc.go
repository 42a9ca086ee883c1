// Package gpu defines the rendering context the engine drives and the
// registry of backends that provide it.
//
// # Backend Registration
//
// Backends register a factory from init:
//
//	import _ "github.com/gogpu/cedartoy/backend/opengl"   // "opengl"
//	import _ "github.com/gogpu/cedartoy/backend/software" // "software"
//
// # Backend Selection
//
//	dev, err := gpu.Open("opengl")
//	// or the first backend that opens, OpenGL before software:
//	dev, err := gpu.Default()
//
// # Pixel Orientation
//
// Texture data and read-backs are bottom-up, as in OpenGL. Callers flip
// when producing top-down images.
package gpu
