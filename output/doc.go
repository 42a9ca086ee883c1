// Package output converts rendered frames to image files.
//
// The set of writable formats is fixed when the package initialises and
// can be listed with Capabilities:
//
//	png   8-bit
//	tiff  8-bit
//	pfm   16f, 32f (stored as 32-bit float RGB)
//	exr   recognised, unavailable
//
// Lookup turns a (format, depth) pair into a Writer or a configuration
// error wrapping cedartoy.ErrUnsupported.
package output
