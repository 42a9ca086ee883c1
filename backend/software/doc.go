// Package software provides a deterministic CPU rendering device.
//
// GLSL cannot run on the CPU, so each pass program is replaced by a Go
// FragmentFunc registered with Device.Define under the shader's path. The
// device otherwise behaves like the OpenGL backend: rows are bottom-up,
// fragment coordinates are pixel centres offset by iTileOffset, and targets
// quantize their contents (8-bit targets round to n/255, half-float targets
// round to the nearest half).
//
// It registers itself as "software":
//
//	import _ "github.com/gogpu/cedartoy/backend/software"
package software
