//go:build !nogl

package opengl

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/gpu"
)

func init() {
	gpu.Register(gpu.BackendOpenGL, func() (gpu.Device, error) {
		return New()
	})
}

const vertexSource = `#version 430 core
void main() {
    vec2 p = vec2(float((gl_VertexID << 1) & 2), float(gl_VertexID & 2));
    gl_Position = vec4(p * 2.0 - 1.0, 0.0, 1.0);
}
`

// Device is an OpenGL rendering context.
type Device struct {
	window *glfw.Window
	vao    uint32
	fbo    uint32
	vert   uint32
	live   int
	closed bool
}

// New creates a hidden window with an OpenGL 4.3 core context and makes it
// current on the calling thread.
func New() (*Device, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: glfw init: %w", gpu.ErrNoBackend, err)
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	w, err := glfw.CreateWindow(1, 1, "cedartoy", nil, nil)
	if err != nil {
		glfw.Terminate()
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: create window: %w", gpu.ErrNoBackend, err)
	}
	w.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		w.Destroy()
		glfw.Terminate()
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: gl init: %w", gpu.ErrNoBackend, err)
	}

	d := &Device{window: w}
	d.vert, err = compileShader(vertexSource, gl.VERTEX_SHADER)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: vertex shader: %w", gpu.ErrCompile, err)
	}
	gl.GenVertexArrays(1, &d.vao)
	gl.GenFramebuffers(1, &d.fbo)
	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.BLEND)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)

	cedartoy.Logger().Info("opengl: context ready",
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)))
	return d, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string { return gpu.BackendOpenGL }

// CompileProgram compiles and links src against the full-screen vertex
// shader and reflects its active uniforms.
func (d *Device) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if d.closed {
		return nil, gpu.ErrReleased
	}
	frag, err := compileShader(src.Source, gl.FRAGMENT_SHADER)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", gpu.ErrCompile, src.Label, src.Path, err)
	}
	defer gl.DeleteShader(frag)

	id := gl.CreateProgram()
	gl.AttachShader(id, d.vert)
	gl.AttachShader(id, frag)
	gl.LinkProgram(id)
	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &n)
		log := strings.Repeat("\x00", int(n+1))
		gl.GetProgramInfoLog(id, n, nil, gl.Str(log))
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("%w: %s: link: %s", gpu.ErrCompile, src.Label, strings.TrimRight(log, "\x00"))
	}

	p := &program{dev: d, id: id, locations: make(map[string]int32)}
	p.uniforms = gpu.NewUniformSet(activeUniforms(id)...)
	d.live++
	cedartoy.Logger().Debug("opengl: program linked", "pass", src.Label, "uniforms", p.uniforms.Len())
	return p, nil
}

func compileShader(src string, kind uint32) (uint32, error) {
	shader := gl.CreateShader(kind)
	csrc, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, csrc, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &n)
		log := strings.Repeat("\x00", int(n+1))
		gl.GetShaderInfoLog(shader, n, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, errors.New(strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}

func activeUniforms(id uint32) []string {
	var count, maxLen int32
	gl.GetProgramiv(id, gl.ACTIVE_UNIFORMS, &count)
	gl.GetProgramiv(id, gl.ACTIVE_UNIFORM_MAX_LENGTH, &maxLen)
	buf := make([]uint8, maxLen+1)
	names := make([]string, 0, count)
	for i := range uint32(count) {
		var length, size int32
		var kind uint32
		gl.GetActiveUniform(id, i, int32(len(buf)), &length, &size, &kind, &buf[0])
		names = append(names, string(buf[:length]))
	}
	return names
}

// NewTexture implements gpu.Device.
func (d *Device) NewTexture(desc gpu.TextureDescriptor) (gpu.Texture, error) {
	if desc.Data != nil && len(desc.Data) != desc.Width*desc.Height*desc.Format.Channels() {
		return nil, fmt.Errorf("%w: %s: got %d values", gpu.ErrDataSize, desc.Label, len(desc.Data))
	}
	return d.newTexture(desc.Width, desc.Height, desc.Format, desc.Data)
}

// NewRenderTarget implements gpu.Device.
func (d *Device) NewRenderTarget(width, height int, format gpu.TextureFormat, _ string) (gpu.RenderTarget, error) {
	return d.newTexture(width, height, format, nil)
}

func (d *Device) newTexture(w, h int, format gpu.TextureFormat, data []float32) (*texture, error) {
	if d.closed {
		return nil, gpu.ErrReleased
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", gpu.ErrInvalidDimensions, w, h)
	}
	t := &texture{dev: d, width: w, height: h, format: format}
	gl.GenTextures(1, &t.id)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	internal, layout := glFormat(format)
	if len(data) > 0 {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(w), int32(h), 0, layout, gl.FLOAT, gl.Ptr(data))
	} else {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(w), int32(h), 0, layout, gl.FLOAT, nil)
	}
	d.live++
	return t, nil
}

func glFormat(f gpu.TextureFormat) (internal int32, layout uint32) {
	switch f {
	case gpu.TextureFormatRGBA16F:
		return gl.RGBA16F, gl.RGBA
	case gpu.TextureFormatRGBA32F:
		return gl.RGBA32F, gl.RGBA
	case gpu.TextureFormatR32F:
		return gl.R32F, gl.RED
	default:
		return gl.RGBA8, gl.RGBA
	}
}

// WriteTexture implements gpu.Device.
func (d *Device) WriteTexture(t gpu.Texture, data []float32) error {
	tex, err := d.own(t)
	if err != nil {
		return err
	}
	if len(data) != tex.width*tex.height*tex.format.Channels() {
		return fmt.Errorf("%w: got %d values", gpu.ErrDataSize, len(data))
	}
	_, layout := glFormat(tex.format)
	gl.BindTexture(gl.TEXTURE_2D, tex.id)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(tex.width), int32(tex.height), layout, gl.FLOAT, gl.Ptr(data))
	return nil
}

// Draw implements gpu.Device. Samplers are bound to texture units in name
// order.
func (d *Device) Draw(call gpu.DrawCall) error {
	if d.closed {
		return gpu.ErrReleased
	}
	prog, ok := call.Program.(*program)
	if !ok || prog.dev != d || prog.id == 0 {
		return gpu.ErrForeignResource
	}
	target, err := d.own(call.Target)
	if err != nil {
		return err
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, d.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, target.id, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("opengl: framebuffer incomplete (0x%x) for %s target", status, target.format)
	}
	gl.Viewport(0, 0, int32(target.width), int32(target.height))
	gl.UseProgram(prog.id)

	for name, v := range call.Uniforms {
		loc := prog.location(name)
		if loc < 0 {
			continue
		}
		if err := setUniform(loc, v); err != nil {
			return fmt.Errorf("uniform %s: %w", name, err)
		}
	}

	samplers := make([]string, 0, len(call.Textures))
	for name := range call.Textures {
		samplers = append(samplers, name)
	}
	slices.Sort(samplers)
	for unit, name := range samplers {
		tex, err := d.own(call.Textures[name])
		if err != nil {
			return fmt.Errorf("sampler %s: %w", name, err)
		}
		if tex == target {
			return fmt.Errorf("%w: sampler %s", gpu.ErrFeedbackLoop, name)
		}
		gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
		gl.BindTexture(gl.TEXTURE_2D, tex.id)
		if loc := prog.location(name); loc >= 0 {
			gl.Uniform1i(loc, int32(unit))
		}
	}

	gl.BindVertexArray(d.vao)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("opengl: draw failed with error 0x%x", code)
	}
	return nil
}

func setUniform(loc int32, v any) error {
	switch v := v.(type) {
	case float32:
		gl.Uniform1f(loc, v)
	case int32:
		gl.Uniform1i(loc, v)
	case mgl32.Vec2:
		gl.Uniform2f(loc, v[0], v[1])
	case mgl32.Vec3:
		gl.Uniform3f(loc, v[0], v[1], v[2])
	case mgl32.Vec4:
		gl.Uniform4f(loc, v[0], v[1], v[2], v[3])
	case []float32:
		if len(v) > 0 {
			gl.Uniform1fv(loc, int32(len(v)), &v[0])
		}
	case []mgl32.Vec3:
		if len(v) > 0 {
			gl.Uniform3fv(loc, int32(len(v)), &v[0][0])
		}
	default:
		return fmt.Errorf("unsupported uniform type %T", v)
	}
	return nil
}

// ReadPixels implements gpu.Device.
func (d *Device) ReadPixels(t gpu.RenderTarget) ([]float32, error) {
	tex, err := d.own(t)
	if err != nil {
		return nil, err
	}
	out := make([]float32, tex.width*tex.height*4)
	gl.BindTexture(gl.TEXTURE_2D, tex.id)
	gl.GetTexImage(gl.TEXTURE_2D, 0, gl.RGBA, gl.FLOAT, gl.Ptr(out))
	return out, nil
}

// Close destroys the context. It is safe to call more than once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.live > 0 {
		cedartoy.Logger().Warn("opengl: closing with live resources", "count", d.live)
	}
	if d.fbo != 0 {
		gl.DeleteFramebuffers(1, &d.fbo)
	}
	if d.vao != 0 {
		gl.DeleteVertexArrays(1, &d.vao)
	}
	if d.vert != 0 {
		gl.DeleteShader(d.vert)
	}
	d.window.Destroy()
	glfw.Terminate()
	runtime.UnlockOSThread()
	return nil
}

func (d *Device) own(t gpu.Texture) (*texture, error) {
	tex, ok := t.(*texture)
	if !ok || tex.dev != d {
		return nil, gpu.ErrForeignResource
	}
	if tex.id == 0 {
		return nil, gpu.ErrReleased
	}
	return tex, nil
}

type program struct {
	dev       *Device
	id        uint32
	uniforms  gpu.UniformSet
	locations map[string]int32
}

func (p *program) Uniforms() gpu.UniformSet { return p.uniforms }

// location resolves and caches a uniform location. Arrays are also tried
// with an explicit [0] suffix; some drivers only report that form.
func (p *program) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := int32(-1)
	if p.uniforms.Has(name) {
		loc = gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
		if loc < 0 {
			loc = gl.GetUniformLocation(p.id, gl.Str(name+"[0]\x00"))
		}
	}
	p.locations[name] = loc
	return loc
}

func (p *program) Release() {
	if p.id != 0 {
		gl.DeleteProgram(p.id)
		p.id = 0
		p.dev.live--
	}
}

type texture struct {
	dev    *Device
	id     uint32
	width  int
	height int
	format gpu.TextureFormat
}

func (t *texture) Width() int                { return t.width }
func (t *texture) Height() int               { return t.height }
func (t *texture) Format() gpu.TextureFormat { return t.format }

func (t *texture) Release() {
	if t.id != 0 {
		gl.DeleteTextures(1, &t.id)
		t.id = 0
		t.dev.live--
	}
}
