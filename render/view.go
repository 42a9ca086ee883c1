package render

import (
	"context"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/output"
	"github.com/gogpu/cedartoy/progress"
)

// streamingThreshold is the full-resolution RGBA float32 accumulation size
// above which a view is streamed tile by tile.
const streamingThreshold = 4 << 30

// tile is one piece of the terminal pass: its offset from the bottom-left
// corner of the internal image and the part of it inside the image.
type tile struct {
	index          int
	ox, oy         int
	validW, validH int
}

// tiles returns the terminal tiles in render order. Tiles that lie wholly
// outside the image are skipped.
func (e *Engine) tiles() []tile {
	var out []tile
	for ty := range e.job.Tiles.Y {
		for tx := range e.job.Tiles.X {
			ox, oy := tx*e.tileW, ty*e.tileH
			if ox >= e.width || oy >= e.height {
				continue
			}
			out = append(out, tile{
				index:  ty*e.job.Tiles.X + tx,
				ox:     ox,
				oy:     oy,
				validW: min(e.tileW, e.width-ox),
				validH: min(e.tileH, e.height-oy),
			})
		}
	}
	return out
}

func (e *Engine) streaming() bool {
	return e.job.Tiles.Count() > 1 || uint64(e.width)*uint64(e.height)*uint64(pixelBytes) > streamingThreshold
}

// renderView renders one eye and returns it resampled to the output size
// and converted. Spill files never outlive the call.
func (e *Engine) renderView(ctx context.Context, frame int, eye cedartoy.Eye) (*output.Image, error) {
	pose := e.job.Camera.Pose(eye)
	if !e.streaming() {
		acc, err := e.renderStandard(frame, pose)
		if err != nil {
			return nil, err
		}
		return e.finish(&memRows{pix: acc, width: e.width, height: e.height})
	}

	e.opts.Metrics.SetStreaming(true)
	defer e.opts.Metrics.SetStreaming(false)
	dir, err := os.MkdirTemp(e.opts.TempDir, "cedartoy-tiles-")
	if err != nil {
		return nil, fmt.Errorf("%w: spill directory: %w", cedartoy.ErrIO, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("render: remove spill directory", "dir", dir, "error", err)
		}
	}()

	spills, err := e.renderStreaming(ctx, frame, eye, pose, dir)
	if err != nil {
		return nil, err
	}
	var src rowSource
	if e.diskStitch() {
		f, err := e.stitchDisk(spills, dir)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	} else {
		src, err = e.stitchMemory(spills)
		if err != nil {
			return nil, err
		}
	}
	return e.finish(src)
}

// renderDependencies draws every pass but the terminal one at full
// resolution.
func (e *Engine) renderDependencies(s sample) error {
	for _, p := range e.order[:len(e.order)-1] {
		if err := e.drawPass(p, s, mgl32.Vec2{}); err != nil {
			return err
		}
	}
	return nil
}

// renderTile draws the terminal pass for one tile and reads it back,
// bottom row first.
func (e *Engine) renderTile(s sample, t tile) ([]float32, error) {
	term := e.order[len(e.order)-1]
	if err := e.drawPass(term, s, mgl32.Vec2{float32(t.ox), float32(t.oy)}); err != nil {
		return nil, err
	}
	px, err := e.dev.ReadPixels(term.output())
	if err != nil {
		return nil, fmt.Errorf("%w: read back %s: %w", cedartoy.ErrResource, term.name, err)
	}
	return px, nil
}

// renderStandard accumulates every sample into one top-down buffer of the
// internal size and averages it.
func (e *Engine) renderStandard(frame int, pose cedartoy.EyePose) ([]float32, error) {
	acc := make([]float32, e.width*e.height*4)
	tiles := e.tiles()
	samples := e.samples(frame, pose)
	for _, s := range samples {
		if err := e.renderDependencies(s); err != nil {
			return nil, err
		}
		for _, t := range tiles {
			px, err := e.renderTile(s, t)
			if err != nil {
				return nil, err
			}
			placeAdd(acc, e.width, e.height, px, e.tileW, t)
			e.opts.Metrics.TileDone()
		}
		e.opts.Metrics.SampleDone()
	}
	average(acc, len(samples))
	return acc, nil
}

// renderStreaming renders tiles one at a time, each with its own
// accumulator, and spills the averaged tiles into dir. Dependency passes
// are re-rendered for every tile and sample.
func (e *Engine) renderStreaming(ctx context.Context, frame int, eye cedartoy.Eye, pose cedartoy.EyePose, dir string) ([]spill, error) {
	tiles := e.tiles()
	samples := e.samples(frame, pose)
	spills := make([]spill, 0, len(tiles))
	acc := make([]float32, e.tileW*e.tileH*4)
	for i, t := range tiles {
		clear(acc)
		for _, s := range samples {
			if err := e.renderDependencies(s); err != nil {
				return nil, err
			}
			px, err := e.renderTile(s, t)
			if err != nil {
				return nil, err
			}
			for k, v := range px {
				acc[k] += v
			}
		}
		average(acc, len(samples))

		sp, err := e.writeSpill(dir, t, acc)
		if err != nil {
			return nil, err
		}
		spills = append(spills, sp)
		e.opts.Metrics.TileDone()
		e.log.Debug("render: tile done", "frame", frame, "eye", eye, "tile", t.index, "ox", t.ox, "oy", t.oy)
		e.observer.Observe(ctx, progress.Event{
			Kind:  progress.KindTile,
			Frame: frame,
			Total: e.frameEnd,
			Eye:   string(eye),
			Tile:  i + 1,
			Tiles: len(tiles),
		})
	}
	for range samples {
		e.opts.Metrics.SampleDone()
	}
	return spills, nil
}

func average(acc []float32, n int) {
	for i, v := range acc {
		acc[i] = v / float32(n)
	}
}

// placeAdd adds a bottom-up tile into a top-down image of size w×h. Tile
// row r lands on image row h-1-(oy+r); rows and columns past the image are
// dropped.
func placeAdd(dst []float32, w, h int, px []float32, tileW int, t tile) {
	for r := range t.validH {
		src := px[r*tileW*4 : r*tileW*4+t.validW*4]
		row := h - 1 - (t.oy + r)
		out := dst[(row*w+t.ox)*4:]
		for i, v := range src {
			out[i] += v
		}
	}
}
