package cedartoy

import (
	"fmt"
	"math"
	"path/filepath"
	"time"
)

// CameraMode selects the projection a shader should use for its primary rays.
type CameraMode string

// Camera modes, in uniform index order.
const (
	CameraMode2D       CameraMode = "2d"
	CameraModeEquirect CameraMode = "equirect"
	CameraModeLL180    CameraMode = "ll180"
)

// Index returns the value bound to iCameraMode, or -1 for unknown modes.
func (m CameraMode) Index() int {
	switch m {
	case CameraMode2D, "":
		return 0
	case CameraModeEquirect:
		return 1
	case CameraModeLL180:
		return 2
	default:
		return -1
	}
}

// StereoMode selects how left and right eye renders are composited.
type StereoMode string

// Stereo modes, in uniform index order.
const (
	StereoNone       StereoMode = "none"
	StereoSideBySide StereoMode = "sbs"
	StereoTopBottom  StereoMode = "tb"
)

// Index returns the value bound to iCameraStereo, or -1 for unknown modes.
func (m StereoMode) Index() int {
	switch m {
	case StereoNone, "":
		return 0
	case StereoSideBySide:
		return 1
	case StereoTopBottom:
		return 2
	default:
		return -1
	}
}

// StreamingPolicy controls disk-backed stitching of streamed tiles.
type StreamingPolicy string

const (
	// StreamingAuto spills to disk when the stitched image would exceed half
	// of the available RAM.
	StreamingAuto StreamingPolicy = "auto"
	// StreamingOn always stitches through disk.
	StreamingOn StreamingPolicy = "on"
	// StreamingOff always stitches in memory.
	StreamingOff StreamingPolicy = "off"
)

// AudioMode selects which audio textures are produced.
type AudioMode string

const (
	AudioShadertoy AudioMode = "shadertoy"
	AudioHistory   AudioMode = "history"
	AudioBoth      AudioMode = "both"
)

// WantsSpectrum reports whether the per-frame spectrum texture is produced.
func (m AudioMode) WantsSpectrum() bool { return m == AudioShadertoy || m == AudioBoth || m == "" }

// WantsHistory reports whether the spectrogram history texture is produced.
func (m AudioMode) WantsHistory() bool { return m == AudioHistory || m == AudioBoth || m == "" }

// Eye identifies the camera a view is rendered from.
type Eye string

const (
	EyeCenter Eye = "center"
	EyeLeft   Eye = "left"
	EyeRight  Eye = "right"
)

// Camera describes the virtual camera exposed to shaders.
type Camera struct {
	Mode    CameraMode
	Stereo  StereoMode
	FOV     float64 // degrees
	TiltDeg float64
	IPD     float64

	// Position, Direction and Up default to the origin looking down -Z with
	// +Y up when left zero.
	Position  [3]float32
	Direction [3]float32
	Up        [3]float32
}

// Quality groups the sampling parameters of a job.
type Quality struct {
	// SupersampleScale multiplies the output size to get the internal
	// render size.
	SupersampleScale float64
	// TemporalSamples is the number of time samples averaged per frame.
	TemporalSamples int
	// Shutter scales the spread of sample times around the frame time.
	Shutter float64
}

// Tiling splits the terminal pass into TilesX × TilesY pieces.
type Tiling struct {
	X int
	Y int
}

// Count returns the number of tiles.
func (t Tiling) Count() int { return t.X * t.Y }

// AudioInput references the optional audio track.
type AudioInput struct {
	Path string
	Mode AudioMode
}

// RenderJob is the immutable descriptor of a render run. It is built once by
// the caller and only read afterwards.
type RenderJob struct {
	Width      int
	Height     int
	FPS        float64
	Duration   float64
	FrameStart int
	// FrameEnd is exclusive. Zero means "derive from duration or audio".
	FrameEnd int

	Quality Quality
	Tiles   Tiling

	OutputDir       string
	OutputPattern   string
	DefaultFormat   string
	DefaultBitDepth BitDepth

	Camera Camera
	Mouse  [4]float32

	// Defines are injected after the #version line. An empty value emits a
	// bare "#define NAME".
	Defines map[string]string

	// Params are user uniforms forwarded verbatim. One value binds a float,
	// two to four values bind vec2..vec4.
	Params map[string][]float32

	Audio AudioInput
	Graph *MultipassGraphConfig

	DiskStreaming StreamingPolicy

	// BaseDir anchors relative shader, texture and audio paths.
	BaseDir string

	// Date is the wall-clock origin for iDate. Zero uses the engine start
	// time.
	Date time.Time
}

// DefaultDuration is used to size the frame range when neither a duration
// nor an audio track is available.
const DefaultDuration = 10.0

// Validate checks every job parameter that can be checked without touching
// the filesystem or a GPU.
func (j *RenderJob) Validate() error {
	switch {
	case j.Width <= 0 || j.Height <= 0:
		return fmt.Errorf("%w: output size %dx%d must be positive", ErrInvalidJob, j.Width, j.Height)
	case !(j.FPS > 0) || math.IsInf(j.FPS, 0):
		return fmt.Errorf("%w: fps %v must be positive", ErrInvalidJob, j.FPS)
	case j.Tiles.X < 1 || j.Tiles.Y < 1:
		return fmt.Errorf("%w: tiles %dx%d must be at least 1x1", ErrInvalidJob, j.Tiles.X, j.Tiles.Y)
	case j.Quality.TemporalSamples < 1:
		return fmt.Errorf("%w: temporal samples %d must be at least 1", ErrInvalidJob, j.Quality.TemporalSamples)
	case !(j.Quality.SupersampleScale > 0) || math.IsInf(j.Quality.SupersampleScale, 0):
		return fmt.Errorf("%w: supersample scale %v must be positive", ErrInvalidJob, j.Quality.SupersampleScale)
	case j.Quality.Shutter < 0 || math.IsNaN(j.Quality.Shutter):
		return fmt.Errorf("%w: shutter %v must not be negative", ErrInvalidJob, j.Quality.Shutter)
	case j.Duration < 0:
		return fmt.Errorf("%w: duration %v must not be negative", ErrInvalidJob, j.Duration)
	case j.FrameStart < 0 || j.FrameEnd < 0:
		return fmt.Errorf("%w: frame range [%d, %d) must not be negative", ErrInvalidJob, j.FrameStart, j.FrameEnd)
	case j.FrameEnd != 0 && j.FrameEnd <= j.FrameStart:
		return fmt.Errorf("%w: frame end %d must be after frame start %d", ErrInvalidJob, j.FrameEnd, j.FrameStart)
	case j.Camera.Mode.Index() < 0:
		return fmt.Errorf("%w: unknown camera mode %q", ErrInvalidJob, j.Camera.Mode)
	case j.Camera.Stereo.Index() < 0:
		return fmt.Errorf("%w: unknown stereo mode %q", ErrInvalidJob, j.Camera.Stereo)
	case j.Camera.IPD < 0:
		return fmt.Errorf("%w: ipd %v must not be negative", ErrInvalidJob, j.Camera.IPD)
	case j.DefaultBitDepth != "" && !j.DefaultBitDepth.Valid():
		return fmt.Errorf("%w: unknown bit depth %q", ErrInvalidJob, j.DefaultBitDepth)
	case j.Graph == nil:
		return fmt.Errorf("%w: no multipass graph", ErrInvalidJob)
	}

	switch j.DiskStreaming {
	case StreamingAuto, StreamingOn, StreamingOff, "":
	default:
		return fmt.Errorf("%w: unknown disk streaming policy %q", ErrInvalidJob, j.DiskStreaming)
	}
	switch j.Audio.Mode {
	case AudioShadertoy, AudioHistory, AudioBoth, "":
	default:
		return fmt.Errorf("%w: unknown audio mode %q", ErrInvalidJob, j.Audio.Mode)
	}

	for name, v := range j.Params {
		if len(v) < 1 || len(v) > 4 {
			return fmt.Errorf("%w: uniform %q has %d components, want 1..4", ErrInvalidJob, name, len(v))
		}
	}

	if err := j.Graph.Check(); err != nil {
		return err
	}
	for _, buf := range j.Graph.Buffers {
		if buf.BitDepth != "" && !buf.BitDepth.Valid() {
			return fmt.Errorf("%w: buffer %q: unknown bit depth %q", ErrInvalidJob, buf.Name, buf.BitDepth)
		}
	}

	if j.Stereo() && len(j.Graph.Feedback) > 0 {
		return fmt.Errorf("%w: feedback passes cannot be rendered in stereo", ErrUnsupported)
	}
	return nil
}

// Stereo reports whether two eyes are rendered per frame.
func (j *RenderJob) Stereo() bool {
	return j.Camera.Stereo == StereoSideBySide || j.Camera.Stereo == StereoTopBottom
}

// Eyes returns the views rendered for every frame, in render order.
func (j *RenderJob) Eyes() []Eye {
	if j.Stereo() {
		return []Eye{EyeLeft, EyeRight}
	}
	return []Eye{EyeCenter}
}

// InternalSize returns the supersampled render size.
func (j *RenderJob) InternalSize() (w, h int) {
	w = int(math.Round(float64(j.Width) * j.Quality.SupersampleScale))
	h = int(math.Round(float64(j.Height) * j.Quality.SupersampleScale))
	return max(w, 1), max(h, 1)
}

// TileSize returns the size of one terminal-pass tile at internal
// resolution. Edge tiles extend past the image and are clipped on placement.
func (j *RenderJob) TileSize() (w, h int) {
	iw, ih := j.InternalSize()
	return ceilDiv(iw, j.Tiles.X), ceilDiv(ih, j.Tiles.Y)
}

// FrameRange returns the resolved [start, end) frame range. audioDuration is
// the loaded track length in seconds, or zero when there is no audio.
func (j *RenderJob) FrameRange(audioDuration float64) (start, end int) {
	end = j.FrameEnd
	if end == 0 {
		d := j.Duration
		if d <= 0 {
			d = audioDuration
		}
		if d <= 0 {
			d = DefaultDuration
		}
		end = int(d * j.FPS)
	}
	return j.FrameStart, end
}

// ResolvePath anchors a relative path at the job's base directory.
func (j *RenderJob) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || j.BaseDir == "" {
		return p
	}
	return filepath.Join(j.BaseDir, p)
}

// ScreenFormat returns the output format and bit depth of the screen pass,
// applying the per-pass override before the job default.
func (j *RenderJob) ScreenFormat() (string, BitDepth) {
	format, depth := j.DefaultFormat, j.DefaultBitDepth
	if buf, ok := j.Graph.Buffers[j.Graph.Screen]; ok {
		if buf.Format != "" {
			format = buf.Format
		}
		if buf.BitDepth != "" {
			depth = buf.BitDepth
		}
	}
	if depth == "" {
		depth = BitDepth8
	}
	return format, depth
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
