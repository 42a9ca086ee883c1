package software

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Fragment is the input of a FragmentFunc.
type Fragment struct {
	// Coord is gl_FragCoord.xy plus iTileOffset: the pixel centre in
	// full-image coordinates, origin at the bottom left.
	Coord mgl32.Vec2

	uniforms map[string]any
	textures map[string]*texture
}

// Float returns a float uniform, or 0 when it is not bound.
func (f *Fragment) Float(name string) float32 {
	v, _ := f.uniforms[name].(float32)
	return v
}

// Int returns an int uniform, or 0 when it is not bound.
func (f *Fragment) Int(name string) int32 {
	v, _ := f.uniforms[name].(int32)
	return v
}

// Vec2 returns a vec2 uniform.
func (f *Fragment) Vec2(name string) mgl32.Vec2 {
	v, _ := f.uniforms[name].(mgl32.Vec2)
	return v
}

// Vec3 returns a vec3 uniform.
func (f *Fragment) Vec3(name string) mgl32.Vec3 {
	v, _ := f.uniforms[name].(mgl32.Vec3)
	return v
}

// Vec4 returns a vec4 uniform.
func (f *Fragment) Vec4(name string) mgl32.Vec4 {
	v, _ := f.uniforms[name].(mgl32.Vec4)
	return v
}

// Floats returns a float array uniform.
func (f *Fragment) Floats(name string) []float32 {
	v, _ := f.uniforms[name].([]float32)
	return v
}

// Vec3s returns a vec3 array uniform.
func (f *Fragment) Vec3s(name string) []mgl32.Vec3 {
	v, _ := f.uniforms[name].([]mgl32.Vec3)
	return v
}

// Bound reports whether a texture is bound to the sampler.
func (f *Fragment) Bound(sampler string) bool {
	_, ok := f.textures[sampler]
	return ok
}

// TexelFetch returns the texel at integer coordinates, like GLSL texelFetch.
// Unbound samplers and out-of-range coordinates read as zero.
func (f *Fragment) TexelFetch(sampler string, x, y int) mgl32.Vec4 {
	t, ok := f.textures[sampler]
	if !ok || x < 0 || y < 0 || x >= t.width || y >= t.height {
		return mgl32.Vec4{}
	}
	return t.texel(x, y)
}

// Texture samples with bilinear filtering and clamp-to-edge addressing, like
// GLSL texture with the engine's sampler state.
func (f *Fragment) Texture(sampler string, uv mgl32.Vec2) mgl32.Vec4 {
	t, ok := f.textures[sampler]
	if !ok {
		return mgl32.Vec4{}
	}
	x := float64(uv[0])*float64(t.width) - 0.5
	y := float64(uv[1])*float64(t.height) - 0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := float32(x-x0), float32(y-y0)
	ix, iy := int(x0), int(y0)

	c00 := t.texel(clampInt(ix, t.width), clampInt(iy, t.height))
	c10 := t.texel(clampInt(ix+1, t.width), clampInt(iy, t.height))
	c01 := t.texel(clampInt(ix, t.width), clampInt(iy+1, t.height))
	c11 := t.texel(clampInt(ix+1, t.width), clampInt(iy+1, t.height))
	bottom := c00.Mul(1 - fx).Add(c10.Mul(fx))
	top := c01.Mul(1 - fx).Add(c11.Mul(fx))
	return bottom.Mul(1 - fy).Add(top.Mul(fy))
}

func (t *texture) texel(x, y int) mgl32.Vec4 {
	if t.format.Channels() == 1 {
		return mgl32.Vec4{t.data[y*t.width+x], 0, 0, 1}
	}
	i := (y*t.width + x) * 4
	return mgl32.Vec4{t.data[i], t.data[i+1], t.data[i+2], t.data[i+3]}
}

func clampInt(v, n int) int {
	return min(max(v, 0), n-1)
}
