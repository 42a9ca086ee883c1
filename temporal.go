package cedartoy

// Temporal sampling is a pure function of (frame, sample, count) so any frame
// of a sequence can be re-rendered in isolation with identical results.

const (
	frameMix  = 73856093
	sampleMix = 19349663
)

// hash32 is an integer avalanche mix.
func hash32(x uint32) uint32 {
	x += 0x9E3779B9
	x = (x ^ (x >> 16)) * 0x7FEB352D
	x = (x ^ (x >> 15)) * 0x846CA68B
	return x ^ (x >> 16)
}

// TemporalOffsets returns n shutter offsets in [0, 1] for the frame. Sample s
// sits at the centre of its stratum, (s+0.5)/n, displaced by a hashed jitter
// of at most half a stratum.
func TemporalOffsets(n, frame int) []float64 {
	if n <= 0 {
		return nil
	}
	offsets := make([]float64, n)
	for s := range n {
		base := (float64(s) + 0.5) / float64(n)
		h := hash32(uint32(frame)*frameMix + uint32(s)*sampleMix)
		jitter := (float64(h)/(1<<32) - 0.5) / float64(n)
		offsets[s] = min(max(base+jitter, 0), 1)
	}
	return offsets
}

// SampleTime returns the shader time of a sample: the frame time displaced
// by (offset-0.5) * shutter seconds.
func SampleTime(frame int, fps, offset, shutter float64) float64 {
	return float64(frame)/fps + (offset-0.5)*shutter
}

// SubpixelJitter returns the Halton(2,3) point of index frame*n+s, mapped to
// [-0.5, 0.5)².
func SubpixelJitter(frame, s, n int) (x, y float64) {
	i := frame*n + s
	return halton(i, 2) - 0.5, halton(i, 3) - 0.5
}

// halton returns the radical inverse of i in the given base.
func halton(i, base int) float64 {
	f, r := 1.0, 0.0
	for i > 0 {
		f /= float64(base)
		r += f * float64(i%base)
		i /= base
	}
	return r
}
