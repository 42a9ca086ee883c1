// Package opengl implements gpu.Device on an OpenGL 4.3 core context.
//
// The context lives in a hidden 1x1 GLFW window. OpenGL contexts are bound
// to an OS thread, so New locks the calling goroutine to its thread and the
// device must only be used from that goroutine.
//
// Every draw renders one full-screen triangle into a framebuffer whose
// color attachment is the target texture.
//
// Builds with the nogl tag leave this package empty, for machines without
// a C toolchain or GL headers.
//
//	import _ "github.com/gogpu/cedartoy/backend/opengl"
package opengl
