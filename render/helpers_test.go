package render

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/backend/software"
)

// Every test shader file holds a trivial GLSL body; the software device
// runs the Go program defined under the same file name.
const glslStub = "void mainImage(out vec4 fragColor, in vec2 fragCoord) { fragColor = vec4(0.0); }\n"

var testShaders = map[string]software.Shader{
	// gradient depends on position and time only.
	"gradient.glsl": {
		Uniforms: []string{"iResolution", "iTime"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			res := f.Vec3("iResolution")
			t := f.Float("iTime")
			return mgl32.Vec4{f.Coord[0] / res[0], f.Coord[1] / res[1], t - float32(math.Floor(float64(t))), 1}
		},
	},
	// pattern is a dependency pass with structure at every scale.
	"pattern.glsl": {
		Uniforms: []string{"iTime"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			t := float64(f.Float("iTime"))
			x, y := float64(f.Coord[0]), float64(f.Coord[1])
			return mgl32.Vec4{
				float32(0.5 + 0.5*math.Sin(x*0.37+t*3)),
				float32(0.5 + 0.5*math.Cos(y*0.23-t)),
				float32(math.Mod(x*y, 7) / 7),
				1,
			}
		},
	},
	// combine adds the gradient to iChannel0 read at the same pixel.
	"combine.glsl": {
		Uniforms: []string{"iResolution", "iTime", "iChannel0"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			res := f.Vec3("iResolution")
			c := f.TexelFetch("iChannel0", int(f.Coord[0]), int(f.Coord[1]))
			return mgl32.Vec4{
				c[0]*0.5 + f.Coord[0]/res[0]*0.5,
				c[1]*0.5 + f.Coord[1]/res[1]*0.5,
				c[2] + f.Float("iTime"),
				1,
			}
		},
	},
	// counter adds one to its previous frame.
	"counter.glsl": {
		Uniforms: []string{"iChannel0"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			prev := f.TexelFetch("iChannel0", int(f.Coord[0]), int(f.Coord[1]))
			return prev.Add(mgl32.Vec4{1, 1, 1, 1})
		},
	},
	// show displays iChannel0 at the same pixel.
	"show.glsl": {
		Uniforms: []string{"iChannel0"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			return f.TexelFetch("iChannel0", int(f.Coord[0]), int(f.Coord[1]))
		},
	},
	"constant.glsl": {
		Main: func(*software.Fragment) mgl32.Vec4 { return mgl32.Vec4{0.5, 0.25, 1, 1} },
	},
	"overrange.glsl": {
		Main: func(*software.Fragment) mgl32.Vec4 { return mgl32.Vec4{1.5, -0.2, 0.5, 1} },
	},
	// eye encodes the camera position in red.
	"eye.glsl": {
		Uniforms: []string{"iCameraPos"},
		Main: func(f *software.Fragment) mgl32.Vec4 {
			return mgl32.Vec4{0.5 + f.Vec3("iCameraPos")[0], 0, 0, 1}
		},
	},
}

// newDevice returns a software device with every test shader defined.
func newDevice() *software.Device {
	dev := software.New()
	for name, s := range testShaders {
		dev.Define(name, s)
	}
	return dev
}

// writeShaders writes a stub file for every test shader into dir.
func writeShaders(t *testing.T, dir string) {
	t.Helper()
	for name := range testShaders {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(glslStub), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"probe.glsl", "undefined.glsl"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(glslStub), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// newJob returns a small valid job rooted at dir whose graph is built from
// specs.
func newJob(t *testing.T, dir string, w, h int, specs map[string]cedartoy.PassSpec) *cedartoy.RenderJob {
	t.Helper()
	graph, err := cedartoy.BuildGraph(specs, nil)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	return &cedartoy.RenderJob{
		Width:    w,
		Height:   h,
		FPS:      24,
		FrameEnd: 2,
		Quality: cedartoy.Quality{
			SupersampleScale: 1,
			TemporalSamples:  1,
			Shutter:          0.5,
		},
		Tiles:           cedartoy.Tiling{X: 1, Y: 1},
		OutputDir:       filepath.Join(dir, "out"),
		OutputPattern:   "frame_{frame:05d}.{ext}",
		DefaultFormat:   "pfm",
		DefaultBitDepth: cedartoy.BitDepth32F,
		Camera: cedartoy.Camera{
			Mode:   cedartoy.CameraMode2D,
			Stereo: cedartoy.StereoNone,
			FOV:    90,
			IPD:    0.064,
		},
		Graph:         graph,
		DiskStreaming: cedartoy.StreamingOff,
		BaseDir:       dir,
		Date:          time.Date(2024, time.March, 2, 10, 30, 0, 0, time.UTC),
	}
}

func single(shader string) map[string]cedartoy.PassSpec {
	return map[string]cedartoy.PassSpec{
		cedartoy.DefaultPassName: {Shader: shader, OutputsToScreen: true},
	}
}

// twoPass is BufferA(pattern) feeding Image(combine).
func twoPass() map[string]cedartoy.PassSpec {
	return map[string]cedartoy.PassSpec{
		"BufferA": {Shader: "pattern.glsl"},
		"Image":   {Shader: "combine.glsl", OutputsToScreen: true, Channels: map[int]string{0: "BufferA"}},
	}
}

// newEngine builds an engine on a fresh device and closes it with the test.
func newEngine(t *testing.T, job *cedartoy.RenderJob, opts Options) (*Engine, *software.Device) {
	t.Helper()
	dev := newDevice()
	e, err := New(job, dev, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		if n := dev.Live(); n != 0 {
			t.Errorf("%d device resources leaked", n)
		}
	})
	return e, dev
}
