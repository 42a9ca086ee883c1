package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/cedartoy"
)

// JobFile is the YAML job descriptor. Keys follow the option names of the
// interactive renderer, so job files written for it load unchanged.
type JobFile struct {
	Shader string `yaml:"shader"`

	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FPS         float64 `yaml:"fps"`
	DurationSec float64 `yaml:"duration_sec"`
	FrameStart  int     `yaml:"frame_start"`
	FrameEnd    int     `yaml:"frame_end"`

	TilesX          int     `yaml:"tiles_x"`
	TilesY          int     `yaml:"tiles_y"`
	SSScale         float64 `yaml:"ss_scale"`
	TemporalSamples int     `yaml:"temporal_samples"`
	Shutter         float64 `yaml:"shutter"`

	DefaultOutputFormat string `yaml:"default_output_format"`
	DefaultBitDepth     string `yaml:"default_bit_depth"`

	AudioPath string `yaml:"audio_path"`
	AudioMode string `yaml:"audio_mode"`

	CameraMode    string     `yaml:"camera_mode"`
	CameraStereo  string     `yaml:"camera_stereo"`
	CameraFOV     float64    `yaml:"camera_fov"`
	CameraTiltDeg float64    `yaml:"camera_tilt_deg"`
	CameraIPD     float64    `yaml:"camera_ipd"`
	CameraPos     [3]float32 `yaml:"camera_pos"`
	CameraDir     [3]float32 `yaml:"camera_dir"`
	CameraUp      [3]float32 `yaml:"camera_up"`

	DiskStreaming Streaming `yaml:"disk_streaming"`
	OutputDir     string    `yaml:"output_dir"`
	OutputPattern string    `yaml:"output_pattern"`

	Mouse    [4]float32           `yaml:"mouse"`
	Defines  map[string]string    `yaml:"defines"`
	Uniforms map[string][]float32 `yaml:"uniforms"`
	Date     string               `yaml:"date"`

	Multipass *MultipassFile `yaml:"multipass"`
}

// MultipassFile describes the passes of a multipass job.
type MultipassFile struct {
	Buffers        map[string]BufferFile `yaml:"buffers"`
	ExecutionOrder []string              `yaml:"execution_order"`
}

// BufferFile is one pass of a multipass job.
type BufferFile struct {
	Shader          string         `yaml:"shader"`
	OutputsToScreen bool           `yaml:"outputs_to_screen"`
	Channels        map[int]string `yaml:"channels"`
	OutputFormat    string         `yaml:"output_format"`
	BitDepth        string         `yaml:"bit_depth"`
}

// Streaming is the disk_streaming option. It accepts auto, on and off, the
// booleans true and false. Null keeps the default, auto.
type Streaming cedartoy.StreamingPolicy

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Streaming) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: disk_streaming must be a scalar", n.Line)
	}
	if n.ShortTag() == "!!bool" {
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		*s = Streaming(cedartoy.StreamingOff)
		if b {
			*s = Streaming(cedartoy.StreamingOn)
		}
		return nil
	}
	switch p := cedartoy.StreamingPolicy(strings.ToLower(n.Value)); p {
	case cedartoy.StreamingAuto, cedartoy.StreamingOn, cedartoy.StreamingOff:
		*s = Streaming(p)
		return nil
	}
	return fmt.Errorf("line %d: unknown disk_streaming %q", n.Line, n.Value)
}

// DefaultJobFile returns the values used for keys a job file leaves out.
// The duration is left at zero so an audio track can set the frame range;
// without one the engine falls back to cedartoy.DefaultDuration.
func DefaultJobFile() JobFile {
	return JobFile{
		Width:               1920,
		Height:              1080,
		FPS:                 60,
		TilesX:              1,
		TilesY:              1,
		SSScale:             1,
		TemporalSamples:     1,
		Shutter:             0.5,
		DefaultOutputFormat: "png",
		DefaultBitDepth:     string(cedartoy.BitDepth8),
		AudioMode:           string(cedartoy.AudioBoth),
		CameraMode:          string(cedartoy.CameraMode2D),
		CameraStereo:        string(cedartoy.StereoNone),
		CameraFOV:           90,
		CameraTiltDeg:       65,
		CameraIPD:           0.064,
		DiskStreaming:       Streaming(cedartoy.StreamingAuto),
		OutputDir:           "renders",
		OutputPattern:       "frame_{frame:05d}.{ext}",
	}
}

// LoadJob reads a job file. Relative paths inside it are resolved against
// the file's directory.
func LoadJob(path string) (*cedartoy.RenderJob, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the job path is the user's argument
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: job file %s", cedartoy.ErrMissingFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read job file: %w", cedartoy.ErrIO, err)
	}
	jf, err := ParseJobFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cedartoy.ErrIO, err)
	}
	return jf.Job(base)
}

// ParseJobFile decodes a job descriptor on top of DefaultJobFile. Unknown
// keys are rejected.
func ParseJobFile(r io.Reader) (*JobFile, error) {
	jf := DefaultJobFile()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&jf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: job file: %w", cedartoy.ErrInvalidJob, err)
	}
	return &jf, nil
}

// Job converts the descriptor into a render job rooted at baseDir and
// validates it.
func (jf *JobFile) Job(baseDir string) (*cedartoy.RenderJob, error) {
	graph, err := jf.graph()
	if err != nil {
		return nil, err
	}

	job := &cedartoy.RenderJob{
		Width:      jf.Width,
		Height:     jf.Height,
		FPS:        jf.FPS,
		Duration:   jf.DurationSec,
		FrameStart: jf.FrameStart,
		FrameEnd:   jf.FrameEnd,
		Quality: cedartoy.Quality{
			SupersampleScale: jf.SSScale,
			TemporalSamples:  jf.TemporalSamples,
			Shutter:          jf.Shutter,
		},
		Tiles:           cedartoy.Tiling{X: jf.TilesX, Y: jf.TilesY},
		OutputPattern:   jf.OutputPattern,
		DefaultFormat:   jf.DefaultOutputFormat,
		DefaultBitDepth: cedartoy.BitDepth(strings.ToLower(jf.DefaultBitDepth)),
		Camera: cedartoy.Camera{
			Mode:      cedartoy.CameraMode(jf.CameraMode),
			Stereo:    cedartoy.StereoMode(jf.CameraStereo),
			FOV:       jf.CameraFOV,
			TiltDeg:   jf.CameraTiltDeg,
			IPD:       jf.CameraIPD,
			Position:  jf.CameraPos,
			Direction: jf.CameraDir,
			Up:        jf.CameraUp,
		},
		Mouse:         jf.Mouse,
		Defines:       jf.Defines,
		Params:        jf.Uniforms,
		Audio:         cedartoy.AudioInput{Path: jf.AudioPath, Mode: cedartoy.AudioMode(jf.AudioMode)},
		Graph:         graph,
		DiskStreaming: cedartoy.StreamingPolicy(jf.DiskStreaming),
		BaseDir:       baseDir,
	}
	job.OutputDir = job.ResolvePath(jf.OutputDir)

	if jf.Date != "" {
		d, err := time.Parse(time.RFC3339, jf.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: date: %w", cedartoy.ErrInvalidJob, err)
		}
		job.Date = d
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func (jf *JobFile) graph() (*cedartoy.MultipassGraphConfig, error) {
	if jf.Multipass == nil || len(jf.Multipass.Buffers) == 0 {
		if jf.Shader == "" {
			return nil, fmt.Errorf("%w: job names neither a shader nor a multipass graph", cedartoy.ErrInvalidJob)
		}
		return cedartoy.DefaultGraph(jf.Shader), nil
	}
	if jf.Shader != "" {
		cedartoy.Logger().Warn("cli: shader ignored, the job has a multipass graph", "shader", jf.Shader)
	}

	specs := make(map[string]cedartoy.PassSpec, len(jf.Multipass.Buffers))
	for name, b := range jf.Multipass.Buffers {
		specs[name] = cedartoy.PassSpec{
			Shader:          b.Shader,
			OutputsToScreen: b.OutputsToScreen,
			Channels:        b.Channels,
			Format:          b.OutputFormat,
			BitDepth:        cedartoy.BitDepth(strings.ToLower(b.BitDepth)),
		}
	}
	return cedartoy.BuildGraph(specs, jf.Multipass.ExecutionOrder)
}
