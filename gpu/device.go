package gpu

// Device is a single rendering context. Devices are not safe for concurrent
// use; every call must come from the goroutine that created the device.
//
// All pixel data crossing the interface is float32, row-major and bottom-up:
// row 0 is the bottom row, matching gl_FragCoord.
type Device interface {
	// Name returns the backend identifier (e.g. "opengl", "software").
	Name() string

	// CompileProgram builds a fragment program and reflects its uniforms.
	// Compilation errors wrap ErrCompile and carry the driver log.
	CompileProgram(src ProgramSource) (Program, error)

	// NewTexture creates a sampled texture. Data may be nil for an
	// uninitialized texture.
	NewTexture(desc TextureDescriptor) (Texture, error)

	// WriteTexture replaces the contents of a texture created by NewTexture.
	WriteTexture(t Texture, data []float32) error

	// NewRenderTarget creates an offscreen color target whose texture can be
	// sampled by later draws.
	NewRenderTarget(width, height int, format TextureFormat, label string) (RenderTarget, error)

	// Draw runs a program over every pixel of the target.
	Draw(call DrawCall) error

	// ReadPixels returns the target contents as width*height RGBA float32
	// values, bottom row first. Values are exactly what the target stores:
	// 8-bit targets read back as n/255.
	ReadPixels(t RenderTarget) ([]float32, error)

	// Close releases the context. Resources must be released first.
	Close() error
}

// ProgramSource identifies a pass program.
type ProgramSource struct {
	// Label names the program in logs and errors, usually the pass name.
	Label string
	// Path is the shader file the program was loaded from.
	Path string
	// Source is the fully assembled fragment shader.
	Source string
}

// Program is a compiled fragment program.
type Program interface {
	// Uniforms returns the set of active uniform names, reflected once at
	// compile time.
	Uniforms() UniformSet
	Release()
}

// Texture is a sampled image.
type Texture interface {
	Width() int
	Height() int
	Format() TextureFormat
	Release()
}

// RenderTarget is a drawable texture.
type RenderTarget interface {
	Texture
}

// TextureDescriptor describes a sampled texture.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format TextureFormat
	// Data holds Width*Height*Format.Channels() values, bottom row first.
	Data []float32
}

// DrawCall binds a program, its uniforms and its samplers to a target.
//
// Uniform values are float32, int32, mgl32.Vec2, mgl32.Vec3, mgl32.Vec4,
// []float32 (float arrays) or []mgl32.Vec3 (vec3 arrays). Samplers are
// assigned texture units in name order.
type DrawCall struct {
	Program  Program
	Target   RenderTarget
	Uniforms map[string]any
	Textures map[string]Texture
}
