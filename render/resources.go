package render

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/audio"
	"github.com/gogpu/cedartoy/gpu"
)

// passResources is one row of the engine's resource table: everything the
// device holds for a pass.
type passResources struct {
	name     string
	index    int
	feedback bool
	terminal bool
	channels [cedartoy.MaxChannels]cedartoy.ChannelSource

	program gpu.Program
	// targets[1] is only allocated for feedback passes. write selects the
	// target drawn this frame; the other one holds the previous frame.
	targets [2]gpu.RenderTarget
	write   int
}

func (p *passResources) output() gpu.RenderTarget { return p.targets[p.write] }

func (p *passResources) previous() gpu.RenderTarget {
	if !p.feedback {
		return nil
	}
	return p.targets[1-p.write]
}

func (p *passResources) flip() {
	if p.feedback {
		p.write = 1 - p.write
	}
}

func (p *passResources) release() {
	if p.program != nil {
		p.program.Release()
		p.program = nil
	}
	for i, t := range p.targets {
		if t != nil {
			t.Release()
			p.targets[i] = nil
		}
	}
}

// allocate compiles every program and creates every texture. On error the
// caller releases whatever was created through Close.
func (e *Engine) allocate(sources map[string]string) error {
	e.files.OnEvict(func(_ string, t gpu.Texture) { t.Release() })

	for _, p := range e.order {
		buf := e.job.Graph.Buffers[p.name]
		prog, err := e.dev.CompileProgram(gpu.ProgramSource{
			Label:  p.name,
			Path:   e.job.ResolvePath(buf.Shader),
			Source: sources[p.name],
		})
		if err != nil {
			return fmt.Errorf("%w: pass %s: %w", cedartoy.ErrCompile, p.name, err)
		}
		p.program = prog

		format := gpu.FormatForDepth(e.job.PassDepth(buf))
		w, h := e.width, e.height
		if p.terminal {
			w, h = e.tileW, e.tileH
		}
		n := 1
		if p.feedback {
			n = 2
		}
		for i := range n {
			t, err := e.dev.NewRenderTarget(w, h, format, fmt.Sprintf("%s[%d]", p.name, i))
			if err != nil {
				return fmt.Errorf("%w: pass %s target: %w", cedartoy.ErrResource, p.name, err)
			}
			p.targets[i] = t
		}
		if p.feedback {
			// The first frame reads black.
			zero := make([]float32, w*h*format.Channels())
			for _, t := range p.targets {
				if err := e.dev.WriteTexture(t, zero); err != nil {
					return fmt.Errorf("%w: pass %s clear: %w", cedartoy.ErrResource, p.name, err)
				}
			}
		}
		e.log.Debug("render: pass allocated",
			"pass", p.name, "index", p.index, "format", format, "wgpu", format.WGPUName(),
			"size", fmt.Sprintf("%dx%d", w, h), "feedback", p.feedback,
			"uniforms", prog.Uniforms().Len())

		for _, ch := range p.channels {
			if ch.Kind != cedartoy.ChannelFile {
				continue
			}
			if _, err := e.fileTexture(ch.Path); err != nil {
				return fmt.Errorf("pass %s: %w", p.name, err)
			}
		}
	}
	return e.allocateAudio()
}

func (e *Engine) allocateAudio() error {
	if e.analyzer == nil {
		return nil
	}
	mode := e.job.Audio.Mode
	if mode.WantsSpectrum() {
		t, err := e.dev.NewTexture(gpu.TextureDescriptor{
			Label:  "audio",
			Width:  audio.FrameTextureWidth,
			Height: audio.FrameTextureHeight,
			Format: gpu.TextureFormatR32F,
		})
		if err != nil {
			return fmt.Errorf("%w: audio texture: %w", cedartoy.ErrResource, err)
		}
		e.spectrum = t
	}
	if mode.WantsHistory() {
		data, w, h := e.analyzer.HistoryTexture()
		if w == 0 {
			e.log.Warn("render: empty frame range, no audio history texture")
			return nil
		}
		t, err := e.dev.NewTexture(gpu.TextureDescriptor{
			Label:  "audio history",
			Width:  w,
			Height: h,
			Format: gpu.TextureFormatR32F,
			Data:   data,
		})
		if err != nil {
			return fmt.Errorf("%w: audio history texture: %w", cedartoy.ErrResource, err)
		}
		e.history = t
	}
	return nil
}

// fileTexture returns the texture for an image file, loading it on first
// use. Textures are keyed by absolute path and live until Close.
func (e *Engine) fileTexture(path string) (gpu.Texture, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return e.files.GetOrLoad(abs, func() (gpu.Texture, error) {
		w, h, data, err := decodeImage(abs)
		if err != nil {
			return nil, err
		}
		t, err := e.dev.NewTexture(gpu.TextureDescriptor{
			Label:  filepath.Base(abs),
			Width:  w,
			Height: h,
			Format: gpu.TextureFormatRGBA32F,
			Data:   data,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: texture %s: %w", cedartoy.ErrResource, abs, err)
		}
		e.log.Debug("render: texture loaded", "path", abs, "size", fmt.Sprintf("%dx%d", w, h))
		return t, nil
	})
}

// decodeImage reads an image as normalized RGBA floats, bottom row first.
func decodeImage(path string) (w, h int, data []float32, err error) {
	f, err := os.Open(path) //nolint:gosec // texture paths come from the job
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %s: %w", cedartoy.ErrMissingFile, path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	src, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: decode %s: %w", cedartoy.ErrResource, path, err)
	}

	b := src.Bounds()
	w, h = b.Dx(), b.Dy()
	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	data = make([]float32, w*h*4)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*8]
		dst := data[(h-1-y)*w*4:]
		for i := range w * 4 {
			v := uint16(row[2*i])<<8 | uint16(row[2*i+1])
			dst[i] = float32(v) / 0xffff
		}
	}
	return w, h, data, nil
}
