//go:build !linux

package render

// availableMemory cannot query free memory on this platform; callers fall
// back to a fixed threshold.
func availableMemory() (uint64, bool) { return 0, false }
