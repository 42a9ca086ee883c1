package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/backend/software"
	"github.com/gogpu/cedartoy/gpu"
	"github.com/gogpu/cedartoy/metrics"
	"github.com/gogpu/cedartoy/output"
	"github.com/gogpu/cedartoy/progress"
)

func renderOne(t *testing.T, job *cedartoy.RenderJob, opts Options, frame int) *output.Image {
	t.Helper()
	e, _ := newEngine(t, job, opts)
	img, err := e.RenderFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("RenderFrame(%d) error = %v", frame, err)
	}
	return img
}

func TestTilingIsPixelExact(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	base := newJob(t, dir, 37, 23, twoPass())
	base.Quality.TemporalSamples = 3
	want := renderOne(t, base, Options{}, 5)

	tests := []struct {
		name   string
		tiles  cedartoy.Tiling
		policy cedartoy.StreamingPolicy
	}{
		{"2x2 memory", cedartoy.Tiling{X: 2, Y: 2}, cedartoy.StreamingOff},
		{"2x2 disk", cedartoy.Tiling{X: 2, Y: 2}, cedartoy.StreamingOn},
		{"4x3 disk", cedartoy.Tiling{X: 4, Y: 3}, cedartoy.StreamingOn},
		{"5x1 memory", cedartoy.Tiling{X: 5, Y: 1}, cedartoy.StreamingOff},
		{"1x7 disk", cedartoy.Tiling{X: 1, Y: 7}, cedartoy.StreamingOn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := *base
			job.Tiles = tt.tiles
			job.DiskStreaming = tt.policy
			got := renderOne(t, &job, Options{TempDir: t.TempDir()}, 5)
			comparePix(t, got, want)
		})
	}
}

func TestTilingWithSupersampling(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	base := newJob(t, dir, 21, 13, twoPass())
	base.Quality.SupersampleScale = 1.5
	want := renderOne(t, base, Options{}, 0)
	if want.Width != 21 || want.Height != 13 {
		t.Fatalf("output size = %dx%d, want 21x13", want.Width, want.Height)
	}

	job := *base
	job.Tiles = cedartoy.Tiling{X: 3, Y: 2}
	job.DiskStreaming = cedartoy.StreamingOn
	comparePix(t, renderOne(t, &job, Options{TempDir: t.TempDir()}, 0), want)
}

func comparePix(t *testing.T, got, want *output.Image) {
	t.Helper()
	if got.Width != want.Width || got.Height != want.Height {
		t.Fatalf("size = %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
	}
	for i := range want.Pix32 {
		if got.Pix32[i] != want.Pix32[i] {
			p := i / 4
			t.Fatalf("pixel (%d,%d) channel %d = %v, want %v",
				p%want.Width, p/want.Width, i%4, got.Pix32[i], want.Pix32[i])
		}
	}
}

func TestOutputIsTopDown(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	img := renderOne(t, newJob(t, dir, 4, 4, single("gradient.glsl")), Options{}, 0)

	// Green is the bottom-up y coordinate, so the top output row is the
	// largest.
	top, bottom := img.At(0, 0)[1], img.At(0, 3)[1]
	if top != 3.5/4 || bottom != 0.5/4 {
		t.Errorf("green top = %v bottom = %v, want %v and %v", top, bottom, 3.5/4, 0.5/4)
	}
}

func TestFeedbackReadsPreviousFrame(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	specs := map[string]cedartoy.PassSpec{
		"BufferA": {Shader: "counter.glsl", Channels: map[int]string{0: "BufferA"}},
		"Image":   {Shader: "show.glsl", OutputsToScreen: true, Channels: map[int]string{0: "BufferA"}},
	}

	tests := []struct {
		name    string
		samples int
		tiles   cedartoy.Tiling
	}{
		{"single sample", 1, cedartoy.Tiling{X: 1, Y: 1}},
		{"temporal samples", 3, cedartoy.Tiling{X: 1, Y: 1}},
		{"streamed", 2, cedartoy.Tiling{X: 2, Y: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, dir, 5, 3, specs)
			job.Quality.TemporalSamples = tt.samples
			job.Tiles = tt.tiles
			e, _ := newEngine(t, job, Options{TempDir: t.TempDir()})

			for frame := range 4 {
				img, err := e.RenderFrame(context.Background(), frame)
				if err != nil {
					t.Fatal(err)
				}
				// Frame k reads the value written at frame k-1, starting
				// from zero.
				want := float32(frame + 1)
				for y := range img.Height {
					for x := range img.Width {
						if got := img.At(x, y)[0]; got != want {
							t.Fatalf("frame %d pixel (%d,%d) = %v, want %v", frame, x, y, got, want)
						}
					}
				}
			}
		})
	}
}

func TestFeedbackTargetsAreDistinct(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	specs := map[string]cedartoy.PassSpec{
		"BufferA": {Shader: "counter.glsl", Channels: map[int]string{0: "BufferA"}},
		"Image":   {Shader: "show.glsl", OutputsToScreen: true, Channels: map[int]string{0: "BufferA"}},
	}
	e, _ := newEngine(t, newJob(t, dir, 2, 2, specs), Options{})
	p := e.passes["BufferA"]
	if p.targets[0] == nil || p.targets[1] == nil || p.targets[0] == p.targets[1] {
		t.Fatal("feedback pass needs two distinct targets")
	}
	first := p.output()
	if _, err := e.RenderFrame(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if p.previous() != first {
		t.Error("target written in frame 0 is not read in frame 1")
	}
	if e.passes["Image"].targets[1] != nil {
		t.Error("non-feedback pass allocated a second target")
	}
}

func TestSupersampleConstant(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	for _, ss := range []float64{2, 1.5, 0.5} {
		job := newJob(t, dir, 9, 5, single("constant.glsl"))
		job.Quality.SupersampleScale = ss
		img := renderOne(t, job, Options{}, 0)
		if img.Width != 9 || img.Height != 5 {
			t.Fatalf("ss %v: size = %dx%d, want 9x5", ss, img.Width, img.Height)
		}
		want := [4]float32{0.5, 0.25, 1, 1}
		for y := range img.Height {
			for x := range img.Width {
				got := img.At(x, y)
				for k := range got {
					if math.Abs(float64(got[k]-want[k])) > 1e-6 {
						t.Fatalf("ss %v: pixel (%d,%d) = %v, want %v", ss, x, y, got, want)
					}
				}
			}
		}
	}
}

func TestEightBitOutputClips(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 3, 2, single("overrange.glsl"))
	job.DefaultFormat = "png"
	job.DefaultBitDepth = cedartoy.BitDepth8

	img := renderOne(t, job, Options{}, 0)
	if img.Depth != cedartoy.BitDepth8 {
		t.Fatalf("depth = %s, want 8", img.Depth)
	}
	for p := range img.Width * img.Height {
		px := img.Pix8[4*p : 4*p+4]
		if px[0] != 255 || px[1] != 0 || px[3] != 255 {
			t.Fatalf("pixel %d = %v, want red 255 green 0 alpha 255", p, px)
		}
		if px[2] != 127 && px[2] != 128 {
			t.Fatalf("pixel %d blue = %d, want about half", p, px[2])
		}
	}
}

func TestStereoLayouts(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	tests := []struct {
		mode         cedartoy.StereoMode
		w, h         int
		leftX, leftY int
		rightX       int
		rightY       int
	}{
		{cedartoy.StereoSideBySide, 8, 3, 0, 0, 4, 0},
		{cedartoy.StereoTopBottom, 4, 6, 0, 0, 0, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			job := newJob(t, dir, 4, 3, single("eye.glsl"))
			job.Camera.Stereo = tt.mode
			job.Camera.IPD = 0.2
			img := renderOne(t, job, Options{}, 0)
			if img.Width != tt.w || img.Height != tt.h {
				t.Fatalf("size = %dx%d, want %dx%d", img.Width, img.Height, tt.w, tt.h)
			}
			left := img.At(tt.leftX, tt.leftY)[0]
			right := img.At(tt.rightX, tt.rightY)[0]
			if math.Abs(float64(left-0.4)) > 1e-6 || math.Abs(float64(right-0.6)) > 1e-6 {
				t.Errorf("left = %v right = %v, want 0.4 and 0.6", left, right)
			}
		})
	}
}

func TestSpillFilesRemoved(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	tmp := t.TempDir()

	for _, policy := range []cedartoy.StreamingPolicy{cedartoy.StreamingOn, cedartoy.StreamingOff} {
		job := newJob(t, dir, 10, 10, twoPass())
		job.Tiles = cedartoy.Tiling{X: 2, Y: 3}
		job.DiskStreaming = policy
		renderOne(t, job, Options{TempDir: tmp}, 0)

		entries, err := os.ReadDir(tmp)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("policy %s left %d entries in the temp dir", policy, len(entries))
		}
	}
}

// failingReads fails every ReadPixels after the first ok calls.
type failingReads struct {
	*software.Device
	ok, reads int
}

var errReadBack = errors.New("read back lost")

func (d *failingReads) ReadPixels(t gpu.RenderTarget) ([]float32, error) {
	d.reads++
	if d.reads > d.ok {
		return nil, errReadBack
	}
	return d.Device.ReadPixels(t)
}

func TestSpillFilesRemovedOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	for _, policy := range []cedartoy.StreamingPolicy{cedartoy.StreamingOn, cedartoy.StreamingOff} {
		t.Run(string(policy), func(t *testing.T) {
			tmp := t.TempDir()
			job := newJob(t, dir, 10, 10, twoPass())
			job.Tiles = cedartoy.Tiling{X: 2, Y: 3}
			job.DiskStreaming = policy
			dev := &failingReads{Device: newDevice(), ok: 3}
			e, err := New(job, dev, Options{TempDir: tmp})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer e.Close()

			_, err = e.RenderFrame(context.Background(), 0)
			if !errors.Is(err, errReadBack) || !errors.Is(err, cedartoy.ErrResource) {
				t.Fatalf("RenderFrame() error = %v, want read back failure", err)
			}
			if dev.reads != 4 {
				t.Errorf("ReadPixels called %d times, want 4", dev.reads)
			}
			entries, err := os.ReadDir(tmp)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("failed render left %d entries in the temp dir", len(entries))
			}
		})
	}
}

func TestDiskStitchPolicy(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 100, 100, single("constant.glsl"))
	need := uint64(100 * 100 * 16)

	tests := []struct {
		policy cedartoy.StreamingPolicy
		avail  uint64
		ok     bool
		want   bool
	}{
		{cedartoy.StreamingOn, 1 << 40, true, true},
		{cedartoy.StreamingOff, 0, true, false},
		{cedartoy.StreamingAuto, need * 2, true, false},
		{cedartoy.StreamingAuto, need*2 - 2, true, true},
		{"", need, true, true},
		{cedartoy.StreamingAuto, 0, false, false},
	}
	for _, tt := range tests {
		j := *job
		j.DiskStreaming = tt.policy
		e, _ := newEngine(t, &j, Options{
			AvailableMemory: func() (uint64, bool) { return tt.avail, tt.ok },
		})
		if got := e.diskStitch(); got != tt.want {
			t.Errorf("policy %q avail %d/%v: diskStitch() = %v, want %v", tt.policy, tt.avail, tt.ok, got, tt.want)
		}
	}
}

type probe struct {
	values map[string]any
}

// probeShader records the uniforms of the first fragment it shades.
func (p *probe) shader() software.Shader {
	return software.Shader{
		Uniforms: []string{
			"iTime", "iTimeDelta", "iFrame", "iResolution", "iPassIndex", "iMouse",
			"iCameraFov", "iCameraMode", "iDate", "iDuration", "iSampleRate",
			"iChannel0", "iChannel1", "iChannelTime", "iChannelResolution", "uGain", "uTint",
		},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			if p.values == nil {
				p.values = map[string]any{
					"iTime":              f.Float("iTime"),
					"iTimeDelta":         f.Float("iTimeDelta"),
					"iFrame":             f.Int("iFrame"),
					"iResolution":        f.Vec3("iResolution"),
					"iPassIndex":         f.Int("iPassIndex"),
					"iMouse":             f.Vec4("iMouse"),
					"iCameraFov":         f.Float("iCameraFov"),
					"iCameraMode":        f.Int("iCameraMode"),
					"iDate":              f.Vec4("iDate"),
					"iDuration":          f.Float("iDuration"),
					"iSampleRate":        f.Float("iSampleRate"),
					"iChannelTime":       f.Floats("iChannelTime"),
					"iChannelResolution": f.Vec3s("iChannelResolution"),
					"uGain":              f.Float("uGain"),
					"uTint":              f.Vec3("uTint"),
					"bound0":             f.Bound("iChannel0"),
					"bound1":             f.Bound("iChannel1"),
				}
			}
			return mgl32.Vec4{}
		},
	}
}

func TestUniformBinding(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 6, 4, map[string]cedartoy.PassSpec{
		"BufferA": {Shader: "pattern.glsl"},
		"Image":   {Shader: "probe.glsl", OutputsToScreen: true, Channels: map[int]string{1: "BufferA"}},
	})
	job.Quality.SupersampleScale = 2
	job.Quality.Shutter = 0
	job.Mouse = [4]float32{1, 2, 3, 4}
	job.Params = map[string][]float32{"uGain": {0.75}, "uTint": {1, 0.5, 0.25}}
	job.Duration = 2

	p := &probe{}
	dev := newDevice()
	dev.Define("probe.glsl", p.shader())
	e, err := New(job, dev, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, err := e.RenderFrame(context.Background(), 12); err != nil {
		t.Fatal(err)
	}

	v := p.values
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"iTime", v["iTime"], float32(0.5)},
		{"iTimeDelta", v["iTimeDelta"], float32(1.0 / 24)},
		{"iFrame", v["iFrame"], int32(12)},
		{"iResolution", v["iResolution"], mgl32.Vec3{12, 8, 1}},
		{"iPassIndex", v["iPassIndex"], int32(1)},
		{"iMouse", v["iMouse"], mgl32.Vec4{1, 2, 3, 4}},
		{"iCameraFov", v["iCameraFov"], float32(math.Pi / 2)},
		{"iCameraMode", v["iCameraMode"], int32(0)},
		{"iDate", v["iDate"], mgl32.Vec4{2024, 2, 2, 10*3600 + 30*60 + 0.5}},
		{"iDuration", v["iDuration"], float32(2)},
		{"iSampleRate", v["iSampleRate"], float32(44100)},
		{"uGain", v["uGain"], float32(0.75)},
		{"uTint", v["uTint"], mgl32.Vec3{1, 0.5, 0.25}},
		{"bound0", v["bound0"], false},
		{"bound1", v["bound1"], true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	times := v["iChannelTime"].([]float32)
	res := v["iChannelResolution"].([]mgl32.Vec3)
	if len(times) != 4 || len(res) != 4 {
		t.Fatalf("channel arrays have %d and %d entries, want 4", len(times), len(res))
	}
	for slot := range 4 {
		wantTime, wantRes := float32(0), mgl32.Vec3{}
		if slot == 1 {
			wantTime, wantRes = 0.5, mgl32.Vec3{12, 8, 1}
		}
		if times[slot] != wantTime || res[slot] != wantRes {
			t.Errorf("slot %d: time %v res %v, want %v %v", slot, times[slot], res[slot], wantTime, wantRes)
		}
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255}) // top left
	img.Set(0, 1, color.NRGBA{G: 255, A: 255}) // bottom left
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeTone(t *testing.T, path string, seconds float64) {
	t.Helper()
	const rate = 8192
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	n := int(seconds * rate)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: rate}, SourceBitDepth: 16, Data: make([]int, n)}
	for i := range n {
		buf.Data[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestFileAndAudioChannels(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	writePNG(t, filepath.Join(dir, "tex.png"))
	writeTone(t, filepath.Join(dir, "tone.wav"), 1)

	var fetched, audioRes, histRes mgl32.Vec4
	var bound bool
	var rate float32
	dev := newDevice()
	dev.Define("probe.glsl", software.Shader{
		Uniforms: []string{"iChannel0", "iChannel1", "iChannelResolution", "iAudioHistoryTex", "iAudioHistoryResolution", "iSampleRate"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			fetched = f.TexelFetch("iChannel1", 0, 0)
			res := f.Vec3s("iChannelResolution")
			audioRes = res[0].Vec4(0)
			histRes = f.Vec3("iAudioHistoryResolution").Vec4(0)
			bound = f.Bound("iAudioHistoryTex")
			rate = f.Float("iSampleRate")
			return mgl32.Vec4{}
		},
	})

	job := newJob(t, dir, 2, 2, map[string]cedartoy.PassSpec{
		"Image": {Shader: "probe.glsl", OutputsToScreen: true, Channels: map[int]string{1: "file:tex.png"}},
	})
	job.FrameEnd = 0
	job.Audio = cedartoy.AudioInput{Path: "tone.wav", Mode: cedartoy.AudioBoth}

	e, err := New(job, dev, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if start, end := e.FrameRange(); start != 0 || end != 24 {
		t.Errorf("FrameRange() = %d, %d, want 0, 24 from the audio length", start, end)
	}
	if _, err := e.RenderFrame(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	e.Close()
	if n := dev.Live(); n != 0 {
		t.Errorf("%d resources leaked", n)
	}

	if fetched != (mgl32.Vec4{0, 1, 0, 1}) {
		t.Errorf("texel (0,0) = %v, want the bottom-left green pixel", fetched)
	}
	if audioRes != (mgl32.Vec4{512, 2, 1, 0}) {
		t.Errorf("iChannel0 resolution = %v, want the default audio texture 512x2", audioRes)
	}
	if !bound || histRes != (mgl32.Vec4{24, 512, 0, 0}) {
		t.Errorf("history bound = %v resolution = %v, want 24x512", bound, histRes)
	}
	if rate != 8192 {
		t.Errorf("iSampleRate = %v, want 8192", rate)
	}
}

func TestConstructionErrors(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	tests := []struct {
		name   string
		mutate func(j *cedartoy.RenderJob)
		want   []error
	}{
		{
			name:   "invalid size",
			mutate: func(j *cedartoy.RenderJob) { j.Width = 0 },
			want:   []error{cedartoy.ErrInvalidJob, cedartoy.ErrConfig},
		},
		{
			name: "feedback in stereo",
			mutate: func(j *cedartoy.RenderJob) {
				j.Graph.Buffers["BufferA"].Channels = map[int]string{0: "BufferA"}
				j.Graph.Feedback = []string{"BufferA"}
				j.Camera.Stereo = cedartoy.StereoSideBySide
			},
			want: []error{cedartoy.ErrUnsupported},
		},
		{
			name:   "screen not last",
			mutate: func(j *cedartoy.RenderJob) { j.Graph.ExecutionOrder = []string{"Image", "BufferA"} },
			want:   []error{cedartoy.ErrInvalidGraph, cedartoy.ErrConfig},
		},
		{
			name:   "empty execution order",
			mutate: func(j *cedartoy.RenderJob) { j.Graph.ExecutionOrder = nil },
			want:   []error{cedartoy.ErrInvalidGraph, cedartoy.ErrConfig},
		},
		{
			name:   "unavailable format",
			mutate: func(j *cedartoy.RenderJob) { j.DefaultFormat = "exr" },
			want:   []error{cedartoy.ErrUnsupported},
		},
		{
			name:   "missing shader",
			mutate: func(j *cedartoy.RenderJob) { j.Graph.Buffers["BufferA"].Shader = "nope.glsl" },
			want:   []error{cedartoy.ErrMissingFile, cedartoy.ErrResource},
		},
		{
			name: "missing texture",
			mutate: func(j *cedartoy.RenderJob) {
				j.Graph.Buffers["Image"].Channels = map[int]string{0: "BufferA", 1: "missing.png"}
			},
			want: []error{cedartoy.ErrMissingFile},
		},
		{
			name:   "missing audio",
			mutate: func(j *cedartoy.RenderJob) { j.Audio.Path = "missing.wav" },
			want:   []error{cedartoy.ErrMissingFile},
		},
		{
			name:   "compile failure",
			mutate: func(j *cedartoy.RenderJob) { j.Graph.Buffers["Image"].Shader = "undefined.glsl" },
			want:   []error{cedartoy.ErrCompile, gpu.ErrCompile, cedartoy.ErrResource},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, dir, 8, 8, twoPass())
			tt.mutate(job)
			dev := newDevice()
			e, err := New(job, dev, Options{})
			if err == nil {
				e.Close()
				t.Fatal("New() succeeded")
			}
			for _, w := range tt.want {
				if !errors.Is(err, w) {
					t.Errorf("New() error = %v, want %v", err, w)
				}
			}
			if n := dev.Live(); n != 0 {
				t.Errorf("%d resources left after a failed New", n)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)

	tests := []struct {
		name   string
		mutate func(j *cedartoy.RenderJob)
		want   error
	}{
		{"valid", func(*cedartoy.RenderJob) {}, nil},
		{"invalid size", func(j *cedartoy.RenderJob) { j.Height = 0 }, cedartoy.ErrInvalidJob},
		{"screen not last", func(j *cedartoy.RenderJob) { j.Graph.ExecutionOrder = []string{"Image", "BufferA"} }, cedartoy.ErrInvalidGraph},
		{"unavailable format", func(j *cedartoy.RenderJob) { j.DefaultFormat = "exr" }, cedartoy.ErrUnsupported},
		{"missing shader", func(j *cedartoy.RenderJob) { j.Graph.Buffers["BufferA"].Shader = "nope.glsl" }, cedartoy.ErrMissingFile},
		{"missing texture", func(j *cedartoy.RenderJob) {
			j.Graph.Buffers["Image"].Channels = map[int]string{0: "BufferA", 2: "file:missing.png"}
		}, cedartoy.ErrMissingFile},
		{"missing audio", func(j *cedartoy.RenderJob) { j.Audio.Path = "missing.wav" }, cedartoy.ErrMissingFile},
		// Check does not compile, so an undefined program passes.
		{"undefined program", func(j *cedartoy.RenderJob) { j.Graph.Buffers["Image"].Shader = "undefined.glsl" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, dir, 8, 8, twoPass())
			tt.mutate(job)
			err := Check(job)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Check() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Check() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 4, 4, twoPass())
	job.DefaultFormat = "png"
	job.DefaultBitDepth = cedartoy.BitDepth8
	job.Tiles = cedartoy.Tiling{X: 2, Y: 1}

	var events []progress.Event
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(t, job, Options{
		Observer: progress.ObserverFunc(func(_ context.Context, ev progress.Event) { events = append(events, ev) }),
		Metrics:  m,
		TempDir:  t.TempDir(),
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, name := range []string{"frame_00000.png", "frame_00001.png"} {
		if _, err := os.Stat(filepath.Join(job.OutputDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	var kinds []progress.Kind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []progress.Kind{
		progress.KindStart,
		progress.KindTile, progress.KindTile, progress.KindFrameSaved,
		progress.KindTile, progress.KindTile, progress.KindFrameSaved,
		progress.KindDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				counts[f.GetName()] += c.GetValue()
			}
		}
	}
	// Two frames of two tiles, with the dependency pass redrawn per tile.
	if counts["cedartoy_frames_total"] != 2 || counts["cedartoy_tiles_total"] != 4 || counts["cedartoy_pass_draws_total"] != 8 {
		t.Errorf("counters = %v", counts)
	}
}

func TestRunStopsBetweenFrames(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 2, 2, single("constant.glsl"))
	e, _ := newEngine(t, job, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	entries, _ := os.ReadDir(job.OutputDir)
	if len(entries) != 0 {
		t.Errorf("cancelled run wrote %d files", len(entries))
	}
}

func TestRunReportsCancellation(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	job := newJob(t, dir, 2, 2, single("constant.glsl"))
	job.FrameEnd = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var events []progress.Event
	var live []error
	e, _ := newEngine(t, job, Options{
		Observer: progress.ObserverFunc(func(ctx context.Context, ev progress.Event) {
			events = append(events, ev)
			live = append(live, ctx.Err())
			if ev.Kind == progress.KindFrameSaved && ev.Frame == 0 {
				cancel()
			}
		}),
	})

	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want start, frame_saved, error", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != progress.KindError {
		t.Fatalf("last event = %s, want %s", last.Kind, progress.KindError)
	}
	if last.Frame != 1 || last.Total != 3 {
		t.Errorf("error event frame %d/%d, want 1/3", last.Frame, last.Total)
	}
	if last.Message != context.Canceled.Error() {
		t.Errorf("error message = %q, want %q", last.Message, context.Canceled.Error())
	}
	if err := live[len(live)-1]; err != nil {
		t.Errorf("error event delivered with a done context: %v", err)
	}
	for _, ev := range events {
		if ev.Kind == progress.KindDone {
			t.Error("cancelled run reported done")
		}
	}
}

func TestClosedEngine(t *testing.T) {
	dir := t.TempDir()
	writeShaders(t, dir)
	dev := newDevice()
	e, err := New(newJob(t, dir, 2, 2, twoPass()), dev, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if dev.Live() == 0 {
		t.Fatal("engine allocated nothing")
	}
	e.Close()
	e.Close()
	if n := dev.Live(); n != 0 {
		t.Errorf("Live() = %d after Close", n)
	}
	if _, err := e.RenderFrame(context.Background(), 0); !errors.Is(err, gpu.ErrReleased) {
		t.Errorf("RenderFrame after Close error = %v, want ErrReleased", err)
	}
}
