package software

import (
	"fmt"
	"math"
	"path/filepath"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/x448/float16"

	"github.com/gogpu/cedartoy/gpu"
)

func init() {
	gpu.Register(gpu.BackendSoftware, func() (gpu.Device, error) {
		return New(), nil
	})
}

// FragmentFunc computes the color of one fragment.
type FragmentFunc func(f *Fragment) mgl32.Vec4

// Shader is a Go stand-in for a GLSL pass program.
type Shader struct {
	// Uniforms lists the uniforms and samplers the program declares.
	// iTileOffset is always active.
	Uniforms []string
	Main     FragmentFunc
}

// Device is a CPU implementation of gpu.Device. Programs are Go functions
// registered with Define under the shader path they replace.
type Device struct {
	shaders map[string]Shader
	live    int
	closed  bool
}

// New returns an empty device.
func New() *Device {
	return &Device{shaders: make(map[string]Shader)}
}

// Define registers the program compiled for shader files at path. A
// program is also found by the base name of path.
func (d *Device) Define(path string, s Shader) {
	d.shaders[path] = s
}

// Live returns the number of created resources not yet released.
func (d *Device) Live() int { return d.live }

// Name implements gpu.Device.
func (d *Device) Name() string { return gpu.BackendSoftware }

// CompileProgram looks up the Go program defined for src.Path.
func (d *Device) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if d.closed {
		return nil, gpu.ErrReleased
	}
	s, ok := d.shaders[src.Path]
	if !ok {
		s, ok = d.shaders[filepath.Base(src.Path)]
	}
	if !ok || s.Main == nil {
		return nil, fmt.Errorf("%w: %s: the software backend cannot compile GLSL and has no Go program defined for %q",
			gpu.ErrCompile, src.Label, src.Path)
	}
	d.live++
	// The assembled footer always reads iTileOffset.
	names := append([]string{"iTileOffset"}, s.Uniforms...)
	return &program{dev: d, shader: s, uniforms: gpu.NewUniformSet(names...)}, nil
}

// NewTexture implements gpu.Device.
func (d *Device) NewTexture(desc gpu.TextureDescriptor) (gpu.Texture, error) {
	t, err := d.newTexture(desc.Width, desc.Height, desc.Format)
	if err != nil {
		return nil, err
	}
	if desc.Data != nil {
		if err := d.WriteTexture(t, desc.Data); err != nil {
			t.Release()
			return nil, err
		}
	}
	return t, nil
}

// WriteTexture implements gpu.Device.
func (d *Device) WriteTexture(t gpu.Texture, data []float32) error {
	tex, err := d.own(t)
	if err != nil {
		return err
	}
	if len(data) != len(tex.data) {
		return fmt.Errorf("%w: got %d values, want %d", gpu.ErrDataSize, len(data), len(tex.data))
	}
	for i, v := range data {
		tex.data[i] = quantize(tex.format, v)
	}
	return nil
}

// NewRenderTarget implements gpu.Device.
func (d *Device) NewRenderTarget(width, height int, format gpu.TextureFormat, _ string) (gpu.RenderTarget, error) {
	return d.newTexture(width, height, format)
}

func (d *Device) newTexture(w, h int, format gpu.TextureFormat) (*texture, error) {
	if d.closed {
		return nil, gpu.ErrReleased
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", gpu.ErrInvalidDimensions, w, h)
	}
	d.live++
	return &texture{
		dev:    d,
		width:  w,
		height: h,
		format: format,
		data:   make([]float32, w*h*format.Channels()),
	}, nil
}

// Draw evaluates the program at every pixel centre of the target. Like the
// GLSL footer, the fragment coordinate is offset by the iTileOffset uniform.
func (d *Device) Draw(call gpu.DrawCall) error {
	if d.closed {
		return gpu.ErrReleased
	}
	prog, ok := call.Program.(*program)
	if !ok || prog.dev != d || prog.released {
		return gpu.ErrForeignResource
	}
	target, err := d.own(call.Target)
	if err != nil {
		return err
	}
	samplers := make(map[string]*texture, len(call.Textures))
	for name, t := range call.Textures {
		tex, err := d.own(t)
		if err != nil {
			return fmt.Errorf("sampler %s: %w", name, err)
		}
		if tex == target {
			return fmt.Errorf("%w: sampler %s", gpu.ErrFeedbackLoop, name)
		}
		samplers[name] = tex
	}

	var offset mgl32.Vec2
	if v, ok := call.Uniforms["iTileOffset"].(mgl32.Vec2); ok {
		offset = v
	}
	frag := &Fragment{uniforms: call.Uniforms, textures: samplers}
	ch := target.format.Channels()
	for py := range target.height {
		for px := range target.width {
			frag.Coord = mgl32.Vec2{float32(px) + 0.5 + offset[0], float32(py) + 0.5 + offset[1]}
			c := prog.shader.Main(frag)
			i := (py*target.width + px) * ch
			for k := range ch {
				target.data[i+k] = quantize(target.format, c[k])
			}
		}
	}
	return nil
}

// ReadPixels implements gpu.Device.
func (d *Device) ReadPixels(t gpu.RenderTarget) ([]float32, error) {
	tex, err := d.own(t)
	if err != nil {
		return nil, err
	}
	if tex.format.Channels() == 4 {
		return slices.Clone(tex.data), nil
	}
	out := make([]float32, tex.width*tex.height*4)
	for i, v := range tex.data {
		out[4*i] = v
		out[4*i+3] = 1
	}
	return out, nil
}

// Close implements gpu.Device.
func (d *Device) Close() error {
	d.closed = true
	return nil
}

func (d *Device) own(t gpu.Texture) (*texture, error) {
	tex, ok := t.(*texture)
	if !ok || tex.dev != d {
		return nil, gpu.ErrForeignResource
	}
	if tex.released {
		return nil, gpu.ErrReleased
	}
	return tex, nil
}

// quantize stores v the way a texture of the format would.
func quantize(f gpu.TextureFormat, v float32) float32 {
	switch f {
	case gpu.TextureFormatRGBA8:
		if math.IsNaN(float64(v)) {
			return 0
		}
		v = min(max(v, 0), 1)
		return float32(math.Round(float64(v)*255)) / 255
	case gpu.TextureFormatRGBA16F:
		return float16.Fromfloat32(v).Float32()
	default:
		return v
	}
}

type program struct {
	dev      *Device
	shader   Shader
	uniforms gpu.UniformSet
	released bool
}

func (p *program) Uniforms() gpu.UniformSet { return p.uniforms }

func (p *program) Release() {
	if !p.released {
		p.released = true
		p.dev.live--
	}
}

type texture struct {
	dev      *Device
	width    int
	height   int
	format   gpu.TextureFormat
	data     []float32
	released bool
}

func (t *texture) Width() int                { return t.width }
func (t *texture) Height() int               { return t.height }
func (t *texture) Format() gpu.TextureFormat { return t.format }

func (t *texture) Release() {
	if !t.released {
		t.released = true
		t.dev.live--
	}
}
