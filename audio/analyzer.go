package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/gogpu/cedartoy/internal/cache"
)

const (
	// WindowSize is the FFT length of both audio textures.
	WindowSize = 1024
	// Bins is the number of frequency bins kept per channel.
	Bins = 512
	// FrameTextureWidth and FrameTextureHeight give the per-frame texture
	// layout: row 0 is the spectrum, row 1 the waveform.
	FrameTextureWidth  = Bins
	FrameTextureHeight = 2

	frameCacheSize = 64
)

// Meta describes an analyzed track.
type Meta struct {
	SampleRate int
	Channels   int
	// Duration is the track length in seconds.
	Duration float64
	// FrameCount is the number of whole frames of the track at FPS.
	FrameCount int
	FPS        float64
	FreqBins   int
}

// Analyzer turns a track into the per-frame Shadertoy audio texture and the
// full-duration spectrogram history texture. Results are cached and
// recomputation is bit-identical.
type Analyzer struct {
	track  *Track
	fps    float64
	frames int

	fft  *fourier.FFT
	hann []float64 // symmetric, for the per-frame spectrum

	textures *cache.Cache[int, []float32]

	historyOnce sync.Once
	history     []float32
}

// NewAnalyzer prepares an analyzer for a track rendered at fps. frames is
// the job's total frame count and fixes the width of the history texture.
func NewAnalyzer(t *Track, fps float64, frames int) *Analyzer {
	return &Analyzer{
		track:    t,
		fps:      fps,
		frames:   max(frames, 0),
		fft:      fourier.NewFFT(WindowSize),
		hann:     hannWindow(WindowSize, true),
		textures: cache.New[int, []float32](frameCacheSize),
	}
}

// Meta returns the track description at the analyzer's fps.
func (a *Analyzer) Meta() Meta {
	d := a.track.Duration()
	return Meta{
		SampleRate: a.track.SampleRate,
		Channels:   len(a.track.Channels),
		Duration:   d,
		FrameCount: int(d * a.fps),
		FPS:        a.fps,
		FreqBins:   Bins,
	}
}

// FrameTexture returns the 512×2 texture for frame, row-major, row 0 first.
//
// Row 0 is the log-compressed magnitude spectrum of a 1024-sample mono window
// centred on the frame time, normalized by its own peak. Row 1 is the same
// window's waveform mapped from [-1, 1] to [0, 1], every other sample.
// The returned slice is shared and must not be modified.
func (a *Analyzer) FrameTexture(frame int) []float32 {
	tex, _ := a.textures.GetOrLoad(frame, func() ([]float32, error) {
		return a.frameTexture(frame), nil
	})
	return tex
}

func (a *Analyzer) frameTexture(frame int) []float32 {
	window := a.monoWindow(frame)

	seq := make([]float64, WindowSize)
	for i, v := range window {
		seq[i] = v * a.hann[i]
	}
	coeffs := a.fft.Coefficients(nil, seq)

	tex := make([]float32, FrameTextureWidth*FrameTextureHeight)
	spectrum := tex[:Bins]
	peak := 0.0
	mags := make([]float64, Bins)
	for i := range mags {
		mags[i] = math.Log1p(cmplxAbs(coeffs[i]))
		peak = max(peak, mags[i])
	}
	for i, m := range mags {
		if peak > 0 {
			m /= peak
		}
		spectrum[i] = float32(clamp(m, 0, 1))
	}

	wave := tex[Bins:]
	for i := range wave {
		wave[i] = float32(clamp(window[2*i], -1, 1)*0.5 + 0.5)
	}
	return tex
}

// monoWindow extracts WindowSize samples centred on the frame time,
// averaged across channels and zero padded past either end of the track.
func (a *Analyzer) monoWindow(frame int) []float64 {
	out := make([]float64, WindowSize)
	n := a.track.Frames()
	nch := len(a.track.Channels)
	if n == 0 || nch == 0 {
		return out
	}
	centre := int(float64(frame) / a.fps * float64(a.track.SampleRate))
	start := centre - WindowSize/2
	for i := range out {
		j := start + i
		if j < 0 || j >= n {
			continue
		}
		sum := 0.0
		for _, ch := range a.track.Channels {
			sum += ch[j]
		}
		out[i] = sum / float64(nch)
	}
	return out
}

// HopLength returns the STFT hop of the history texture: one frame of
// audio, at least 1 and below the window length.
func (a *Analyzer) HopLength() int {
	hop := int(math.Round(float64(a.track.SampleRate) / a.fps))
	return min(max(hop, 1), WindowSize-1)
}

// HistoryTexture returns the spectrogram of the whole track, row-major with
// width equal to the job's frame count and Bins rows per channel. Channel c
// occupies rows [c*Bins, (c+1)*Bins). The returned slice is shared and must
// not be modified.
func (a *Analyzer) HistoryTexture() (tex []float32, width, height int) {
	a.historyOnce.Do(a.computeHistory)
	return a.history, a.frames, Bins * len(a.track.Channels)
}

func (a *Analyzer) computeHistory() {
	width := a.frames
	nch := len(a.track.Channels)
	a.history = make([]float32, Bins*nch*width)
	if width == 0 {
		return
	}

	hop := a.HopLength()
	fft := fourier.NewFFT(WindowSize)
	win := hannWindow(WindowSize, false)
	winSq := 0.0
	for _, w := range win {
		winSq += w * w
	}
	// Density scaling of a magnitude spectrogram.
	scale := math.Sqrt(1 / (float64(a.track.SampleRate) * winSq))

	n := a.track.Frames()
	segments := 0
	if n >= WindowSize {
		segments = (n-WindowSize)/hop + 1
	}
	segments = min(segments, width)

	seq := make([]float64, WindowSize)
	coeffs := make([]complex128, WindowSize/2+1)
	for c, ch := range a.track.Channels {
		rows := a.history[c*Bins*width : (c+1)*Bins*width]
		for s := range segments {
			seg := ch[s*hop : s*hop+WindowSize]
			mean := 0.0
			for _, v := range seg {
				mean += v
			}
			mean /= WindowSize
			for i, v := range seg {
				seq[i] = (v - mean) * win[i]
			}
			coeffs = fft.Coefficients(coeffs, seq)
			for b := range Bins {
				rows[b*width+s] = float32(cmplxAbs(coeffs[b]) * scale)
			}
		}
	}
}

// hannWindow returns a Hann window of length n. The symmetric form has
// zeros at both ends; the periodic form is the first n points of a window
// of length n+1.
func hannWindow(n int, symmetric bool) []float64 {
	w := make([]float64, n)
	den := float64(n)
	if symmetric {
		den = float64(n - 1)
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/den)
	}
	return w
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
