package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/backend/software"
	"github.com/gogpu/cedartoy/gpu"
	"github.com/gogpu/cedartoy/metrics"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "cedartoy", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["render"], "should have 'render' command")
	assert.True(t, names["capabilities"], "should have 'capabilities' command")
}

func TestBuildRenderCommand(t *testing.T) {
	cmd := buildRenderCommand()

	assert.Equal(t, "render", cmd.Name())
	require.NotNil(t, cmd.RunE)

	defaults := map[string]string{
		"backend":       "",
		"log-level":     "info",
		"log-format":    "text",
		"events":        "false",
		"redis-addr":    "",
		"redis-channel": "cedartoy:progress",
		"metrics-addr":  "",
		"temp-dir":      "",
	}
	for name, want := range defaults {
		fl := cmd.Flags().Lookup(name)
		if assert.NotNil(t, fl, "missing --%s", name) {
			assert.Equal(t, want, fl.DefValue, "--%s default", name)
		}
	}

	assert.Error(t, cmd.Args(cmd, nil), "render requires a job file")
	assert.NoError(t, cmd.Args(cmd, []string{"job.yaml"}))
}

func TestParseJobFile_Defaults(t *testing.T) {
	jf, err := ParseJobFile(strings.NewReader("shader: main.glsl\n"))
	require.NoError(t, err)

	assert.Equal(t, "main.glsl", jf.Shader)
	assert.Equal(t, 1920, jf.Width)
	assert.Equal(t, 1080, jf.Height)
	assert.Equal(t, 60.0, jf.FPS)
	assert.Equal(t, 1, jf.TilesX)
	assert.Equal(t, 1.0, jf.SSScale)
	assert.Equal(t, 1, jf.TemporalSamples)
	assert.Equal(t, 0.5, jf.Shutter)
	assert.Equal(t, "png", jf.DefaultOutputFormat)
	assert.Equal(t, "8", jf.DefaultBitDepth)
	assert.Equal(t, "both", jf.AudioMode)
	assert.Equal(t, 65.0, jf.CameraTiltDeg)
	assert.Equal(t, 0.064, jf.CameraIPD)
	assert.Equal(t, Streaming(cedartoy.StreamingAuto), jf.DiskStreaming)
	assert.Equal(t, "frame_{frame:05d}.{ext}", jf.OutputPattern)
}

func TestParseJobFile_EmptyInput(t *testing.T) {
	jf, err := ParseJobFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultJobFile(), *jf)
}

func TestParseJobFile_UnknownKey(t *testing.T) {
	_, err := ParseJobFile(strings.NewReader("shader: a.glsl\nwidht: 10\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cedartoy.ErrConfig)
}

func TestParseJobFile_DiskStreaming(t *testing.T) {
	tests := []struct {
		value string
		want  Streaming
	}{
		{"auto", Streaming(cedartoy.StreamingAuto)},
		{"on", Streaming(cedartoy.StreamingOn)},
		{"OFF", Streaming(cedartoy.StreamingOff)},
		{"true", Streaming(cedartoy.StreamingOn)},
		{"false", Streaming(cedartoy.StreamingOff)},
		{"null", Streaming(cedartoy.StreamingAuto)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			jf, err := ParseJobFile(strings.NewReader("disk_streaming: " + tt.value + "\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, jf.DiskStreaming)
		})
	}

	_, err := ParseJobFile(strings.NewReader("disk_streaming: sometimes\n"))
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadJob_SinglePass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	writeFile(t, path, `
shader: shaders/main.glsl
width: 640
height: 360
fps: 30
duration_sec: 2
tiles_x: 2
tiles_y: 3
ss_scale: 1.5
temporal_samples: 4
default_output_format: pfm
default_bit_depth: "32f"
camera_mode: equirect
camera_fov: 75
disk_streaming: on
output_dir: out
mouse: [1, 2, 3, 4]
defines:
  QUALITY: "2"
  FAST: ""
uniforms:
  uGain: [0.5]
date: 2024-03-02T10:30:00Z
`)

	job, err := LoadJob(path)
	require.NoError(t, err)

	assert.Equal(t, 640, job.Width)
	assert.Equal(t, 360, job.Height)
	assert.Equal(t, 30.0, job.FPS)
	assert.Equal(t, 2.0, job.Duration)
	assert.Equal(t, cedartoy.Tiling{X: 2, Y: 3}, job.Tiles)
	assert.Equal(t, cedartoy.Quality{SupersampleScale: 1.5, TemporalSamples: 4, Shutter: 0.5}, job.Quality)
	assert.Equal(t, "pfm", job.DefaultFormat)
	assert.Equal(t, cedartoy.BitDepth32F, job.DefaultBitDepth)
	assert.Equal(t, cedartoy.CameraModeEquirect, job.Camera.Mode)
	assert.Equal(t, 75.0, job.Camera.FOV)
	assert.Equal(t, cedartoy.StreamingOn, job.DiskStreaming)
	assert.Equal(t, [4]float32{1, 2, 3, 4}, job.Mouse)
	assert.Equal(t, map[string]string{"QUALITY": "2", "FAST": ""}, job.Defines)
	assert.Equal(t, []float32{0.5}, job.Params["uGain"])
	assert.True(t, job.Date.Equal(time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC)))

	base, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, base, job.BaseDir)
	assert.Equal(t, filepath.Join(base, "out"), job.OutputDir)

	require.NotNil(t, job.Graph)
	assert.Equal(t, []string{cedartoy.DefaultPassName}, job.Graph.ExecutionOrder)
	assert.Equal(t, "shaders/main.glsl", job.Graph.Buffers[cedartoy.DefaultPassName].Shader)
	assert.Equal(t, filepath.Join(base, "shaders/main.glsl"), job.ResolvePath(job.Graph.Buffers[cedartoy.DefaultPassName].Shader))
}

func TestLoadJob_Multipass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	writeFile(t, path, `
width: 64
height: 64
multipass:
  buffers:
    Image:
      shader: image.glsl
      outputs_to_screen: true
      channels:
        0: BufferA
        1: audio
    BufferA:
      shader: a.glsl
      bit_depth: 16F
      channels:
        0: BufferA
`)

	job, err := LoadJob(path)
	require.NoError(t, err)

	g := job.Graph
	assert.Equal(t, []string{"BufferA", "Image"}, g.ExecutionOrder)
	assert.Equal(t, "Image", g.Screen)
	assert.Equal(t, []string{"BufferA"}, g.Feedback)
	assert.Equal(t, cedartoy.BitDepth16F, g.Buffers["BufferA"].BitDepth)
	assert.Equal(t, "audio", g.Buffers["Image"].Channels[1])
}

func TestLoadJob_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"no shader", "width: 10\n", cedartoy.ErrInvalidJob},
		{"bad yaml", "width: [\n", cedartoy.ErrInvalidJob},
		{"bad date", "shader: a.glsl\ndate: yesterday\n", cedartoy.ErrInvalidJob},
		{"invalid size", "shader: a.glsl\nwidth: -1\n", cedartoy.ErrInvalidJob},
		{"two screens", `
multipass:
  buffers:
    A: {shader: a.glsl, outputs_to_screen: true}
    B: {shader: b.glsl, outputs_to_screen: true}
`, cedartoy.ErrInvalidGraph},
		{"feedback in stereo", `
camera_stereo: sbs
multipass:
  buffers:
    BufferA: {shader: a.glsl, channels: {0: BufferA}}
    Image: {shader: b.glsl, outputs_to_screen: true, channels: {0: BufferA}}
`, cedartoy.ErrUnsupported},
		{"screen feedback", `
multipass:
  buffers:
    Image: {shader: a.glsl, outputs_to_screen: true, channels: {0: Image}}
`, cedartoy.ErrInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			writeFile(t, path, tt.content)
			_, err := LoadJob(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, cedartoy.ErrConfig)
		})
	}

	_, err := LoadJob(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, cedartoy.ErrMissingFile)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	log.Info("hidden")
	log.Warn("shown", "frame", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 3, rec["frame"])
	assert.True(t, strings.HasSuffix(rec["time"].(string), "Z"), "time should be UTC")

	buf.Reset()
	NewLogger(LogConfig{Level: "bogus", Output: &buf}).Info("text", "k", "v")
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "k=v")
}

func TestWriteCapabilities(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCapabilities(&buf))

	out := buf.String()
	assert.Contains(t, out, "backends: ")
	assert.Contains(t, out, gpu.BackendSoftware)
	for _, format := range []string{"png", "tiff", "pfm"} {
		assert.Regexp(t, `(?m)^`+format+`\s.*yes$`, out)
	}
	assert.Regexp(t, `(?m)^exr\s.*no: `, out)
	assert.Regexp(t, `(?m)^png\s+png\s+8\s+rgba8unorm\s+yes$`, out)
	assert.Regexp(t, `(?m)^pfm\s+pfm\s+16f,32f\s+rgba16float,rgba32float\s+yes$`, out)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	c.FrameDone(time.Second)

	srv := httptest.NewServer(NewRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "cedartoy_frames_total 1")

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunRender(t *testing.T) {
	// A software device with the job's shader defined stands in for a GPU.
	gpu.Register("clitest", func() (gpu.Device, error) {
		d := software.New()
		d.Define("main.glsl", software.Shader{
			Uniforms: []string{"iResolution"},
			Main: func(f *software.Fragment) mgl32.Vec4 {
				res := f.Vec3("iResolution")
				return mgl32.Vec4{f.Coord[0] / res[0], f.Coord[1] / res[1], 0, 1}
			},
		})
		return d, nil
	})
	t.Cleanup(func() { gpu.Unregister("clitest") })

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.glsl"), "void mainImage(out vec4 c, in vec2 p) { c = vec4(0.0); }\n")
	jobPath := filepath.Join(dir, "job.yaml")
	writeFile(t, jobPath, `
shader: main.glsl
width: 8
height: 4
fps: 10
frame_end: 3
tiles_x: 2
output_dir: frames
output_pattern: "shot_####.{ext}"
`)

	var stdout, stderr bytes.Buffer
	flags := renderFlags{backend: "clitest", logLevel: "debug", logFormat: "json", events: true, tempDir: t.TempDir()}
	require.NoError(t, runRender(context.Background(), flags, jobPath, &stdout, &stderr))

	for _, name := range []string{"shot_0000.png", "shot_0001.png", "shot_0002.png"} {
		assert.FileExists(t, filepath.Join(dir, "frames", name))
	}

	var kinds []string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line %q", line)
		kinds = append(kinds, ev["type"].(string))
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, "start", kinds[0])
	assert.Equal(t, "done", kinds[len(kinds)-1])
	assert.Equal(t, 6, strings.Count(strings.Join(kinds, " "), "tile"))
	assert.Equal(t, 3, strings.Count(strings.Join(kinds, " "), "frame_saved"))

	assert.Contains(t, stderr.String(), `"backend":"software"`)
}

func TestRunRender_Errors(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job.yaml")
	writeFile(t, jobPath, "shader: main.glsl\nwidth: 4\nheight: 4\n")
	writeFile(t, filepath.Join(dir, "main.glsl"), "void mainImage(out vec4 c, in vec2 p) {}\n")

	var out bytes.Buffer
	err := runRender(context.Background(), renderFlags{backend: "no-such-backend"}, jobPath, &out, &out)
	assert.ErrorIs(t, err, gpu.ErrNoBackend)
	assert.ErrorIs(t, err, cedartoy.ErrResource)

	// The plain software backend has no program for the shader.
	err = runRender(context.Background(), renderFlags{backend: gpu.BackendSoftware}, jobPath, &out, &out)
	assert.ErrorIs(t, err, cedartoy.ErrCompile)

	err = runRender(context.Background(), renderFlags{}, filepath.Join(dir, "none.yaml"), &out, &out)
	assert.ErrorIs(t, err, cedartoy.ErrMissingFile)
}

func TestRunRender_ChecksBeforeOpeningDevice(t *testing.T) {
	opened := 0
	gpu.Register("clicount", func() (gpu.Device, error) {
		opened++
		return software.New(), nil
	})
	t.Cleanup(func() { gpu.Unregister("clicount") })

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.glsl"), "void mainImage(out vec4 c, in vec2 p) {}\n")

	tests := []struct {
		name string
		job  string
		want error
	}{
		{"missing shader", "shader: other.glsl\nwidth: 4\nheight: 4\n", cedartoy.ErrMissingFile},
		{"missing texture", "width: 4\nheight: 4\nmultipass:\n  buffers:\n    Image:\n      shader: main.glsl\n      outputs_to_screen: true\n      channels: {0: noise.png}\n", cedartoy.ErrMissingFile},
		{"missing audio", "shader: main.glsl\nwidth: 4\nheight: 4\naudio_path: track.wav\n", cedartoy.ErrMissingFile},
		{"unavailable format", "shader: main.glsl\nwidth: 4\nheight: 4\ndefault_output_format: exr\ndefault_bit_depth: 16f\n", cedartoy.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobPath := filepath.Join(dir, "job.yaml")
			writeFile(t, jobPath, tt.job)
			var out bytes.Buffer
			err := runRender(context.Background(), renderFlags{backend: "clicount"}, jobPath, &out, &out)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, opened, "device opened before the job was checked")
		})
	}
}
