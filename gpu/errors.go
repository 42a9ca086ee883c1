package gpu

import "errors"

// Device errors.
var (
	// ErrNoBackend is returned when a requested backend is not registered.
	ErrNoBackend = errors.New("gpu: backend not available")

	// ErrReleased is returned when using a released device or resource.
	ErrReleased = errors.New("gpu: resource has been released")

	// ErrInvalidDimensions is returned when width or height is not positive.
	ErrInvalidDimensions = errors.New("gpu: invalid dimensions")

	// ErrDataSize is returned when texture data does not match its size.
	ErrDataSize = errors.New("gpu: texture data size mismatch")

	// ErrForeignResource is returned when a resource created by another
	// device is passed to a device.
	ErrForeignResource = errors.New("gpu: resource belongs to another device")

	// ErrFeedbackLoop is returned when a draw samples its own target.
	ErrFeedbackLoop = errors.New("gpu: draw samples its own target")

	// ErrCompile is returned when a program fails to compile or link.
	ErrCompile = errors.New("gpu: program compilation failed")
)
