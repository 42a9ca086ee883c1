package render

import (
	"math"

	"github.com/gogpu/cedartoy/internal/cache"
	"github.com/gogpu/cedartoy/output"
)

// tap is one source pixel contributing to an output pixel.
type tap struct {
	index  int
	weight float64
}

// areaTaps returns, for every output pixel, the source pixels it covers and
// their normalized coverage. Output pixel i covers the source interval
// [i*src/dst, (i+1)*src/dst).
func areaTaps(src, dst int) [][]tap {
	scale := float64(src) / float64(dst)
	out := make([][]tap, dst)
	for i := range dst {
		lo, hi := float64(i)*scale, float64(i+1)*scale
		first := int(math.Floor(lo))
		last := min(int(math.Ceil(hi)), src)
		var taps []tap
		total := 0.0
		for j := first; j < last; j++ {
			w := math.Min(hi, float64(j+1)) - math.Max(lo, float64(j))
			if w <= 0 {
				continue
			}
			taps = append(taps, tap{index: j, weight: w})
			total += w
		}
		for k := range taps {
			taps[k].weight /= total
		}
		out[i] = taps
	}
	return out
}

// finish resamples a view to the output size and converts it to the
// writer's depth. Rows are pulled from src one at a time.
func (e *Engine) finish(src rowSource) (*output.Image, error) {
	sw, sh := src.size()
	ow, oh := e.job.Width, e.job.Height
	img := output.NewImage(ow, oh, e.writer.Depth())

	if sw == ow && sh == oh {
		row := make([]float32, sw*4)
		for y := range oh {
			if err := src.row(y, row); err != nil {
				return nil, err
			}
			img.SetRow(y, row)
		}
		return img, nil
	}

	xt, yt := areaTaps(sw, ow), areaTaps(sh, oh)
	// Neighbouring output rows share boundary source rows.
	rows := cache.New[int, []float32](int(math.Ceil(float64(sh)/float64(oh))) + 2)
	vert := make([]float64, sw*4)
	out := make([]float32, ow*4)
	for y, taps := range yt {
		clear(vert)
		for _, t := range taps {
			r, err := rows.GetOrLoad(t.index, func() ([]float32, error) {
				buf := make([]float32, sw*4)
				return buf, src.row(t.index, buf)
			})
			if err != nil {
				return nil, err
			}
			for i, v := range r {
				vert[i] += float64(v) * t.weight
			}
		}
		for x, taps := range xt {
			var c [4]float64
			for _, t := range taps {
				for k := range c {
					c[k] += vert[t.index*4+k] * t.weight
				}
			}
			for k := range c {
				out[x*4+k] = float32(c[k])
			}
		}
		img.SetRow(y, out)
	}
	return img, nil
}
