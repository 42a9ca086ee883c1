package cedartoy

// BitDepth is the per-channel precision of a pass texture and of the
// written frames.
type BitDepth string

const (
	// BitDepth8 is 8-bit unsigned normalized.
	BitDepth8 BitDepth = "8"
	// BitDepth16F is 16-bit IEEE half float.
	BitDepth16F BitDepth = "16f"
	// BitDepth32F is 32-bit IEEE float.
	BitDepth32F BitDepth = "32f"
)

// Valid reports whether d is one of the known depths.
func (d BitDepth) Valid() bool {
	switch d {
	case BitDepth8, BitDepth16F, BitDepth32F:
		return true
	default:
		return false
	}
}

// IsFloat reports whether d stores floating-point samples.
func (d BitDepth) IsFloat() bool {
	return d == BitDepth16F || d == BitDepth32F
}

// Bits returns the number of bits per channel.
func (d BitDepth) Bits() int {
	switch d {
	case BitDepth16F:
		return 16
	case BitDepth32F:
		return 32
	default:
		return 8
	}
}

// PassDepth resolves the bit depth of a buffer: its own override first, then
// the job default, then 8-bit.
func (j *RenderJob) PassDepth(buf *BufferConfig) BitDepth {
	if buf != nil && buf.BitDepth != "" {
		return buf.BitDepth
	}
	if j.DefaultBitDepth != "" {
		return j.DefaultBitDepth
	}
	return BitDepth8
}
