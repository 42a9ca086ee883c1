//go:build linux

package render

import "golang.org/x/sys/unix"

// availableMemory returns the free physical memory in bytes.
func availableMemory() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	return uint64(info.Freeram) * uint64(info.Unit), true
}
