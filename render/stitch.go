package render

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/gpu"
)

// pixelBytes is the size of one accumulated RGBA float32 pixel.
var pixelBytes = gpu.TextureFormatRGBA32F.BytesPerPixel()

// spill is an averaged tile saved to disk: its valid region, top row
// first, as little-endian float32 RGBA.
type spill struct {
	tile tile
	path string
}

// diskStitch reports whether streamed tiles are stitched through a file
// instead of one in-memory image.
func (e *Engine) diskStitch() bool {
	switch e.job.DiskStreaming {
	case cedartoy.StreamingOn:
		return true
	case cedartoy.StreamingOff:
		return false
	}
	need := uint64(e.width) * uint64(e.height) * uint64(pixelBytes)
	probe := e.opts.AvailableMemory
	if probe == nil {
		probe = availableMemory
	}
	avail, ok := probe()
	if !ok {
		return need > streamingThreshold
	}
	return need > avail/2
}

func (e *Engine) writeSpill(dir string, t tile, acc []float32) (sp spill, err error) {
	sp = spill{tile: t, path: filepath.Join(dir, fmt.Sprintf("tile_%05d.f32", t.index))}
	f, err := os.Create(sp.path)
	if err != nil {
		return sp, fmt.Errorf("%w: spill tile %d: %w", cedartoy.ErrIO, t.index, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: spill tile %d: %w", cedartoy.ErrIO, t.index, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	buf := make([]byte, t.validW*pixelBytes)
	for k := range t.validH {
		r := t.validH - 1 - k
		encodeRow(buf, acc[r*e.tileW*4:r*e.tileW*4+t.validW*4])
		if _, err := bw.Write(buf); err != nil {
			return sp, fmt.Errorf("%w: spill tile %d: %w", cedartoy.ErrIO, t.index, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return sp, fmt.Errorf("%w: spill tile %d: %w", cedartoy.ErrIO, t.index, err)
	}
	e.opts.Metrics.Spilled(int64(len(buf) * t.validH))
	return sp, nil
}

func readSpill(sp spill) ([]float32, error) {
	raw, err := os.ReadFile(sp.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read tile %d: %w", cedartoy.ErrIO, sp.tile.index, err)
	}
	want := sp.tile.validW * sp.tile.validH * pixelBytes
	if len(raw) != want {
		return nil, fmt.Errorf("%w: tile %d is %d bytes, want %d", cedartoy.ErrIO, sp.tile.index, len(raw), want)
	}
	out := make([]float32, len(raw)/4)
	decodeRow(out, raw)
	return out, nil
}

// stitchMemory places every spilled tile into one top-down image.
func (e *Engine) stitchMemory(spills []spill) (*memRows, error) {
	full := make([]float32, e.width*e.height*4)
	for _, sp := range spills {
		data, err := readSpill(sp)
		if err != nil {
			return nil, err
		}
		t := sp.tile
		top := e.height - t.oy - t.validH
		n := t.validW * 4
		for k := range t.validH {
			copy(full[((top+k)*e.width+t.ox)*4:], data[k*n:(k+1)*n])
		}
	}
	return &memRows{pix: full, width: e.width, height: e.height}, nil
}

// stitchDisk concatenates the spilled tiles into one top-down file, loading
// a single row of tiles at a time, and returns a reader over its rows.
func (e *Engine) stitchDisk(spills []spill, dir string) (*fileRows, error) {
	rows := make(map[int][]spill)
	for _, sp := range spills {
		rows[sp.tile.oy] = append(rows[sp.tile.oy], sp)
	}
	offsets := make([]int, 0, len(rows))
	for oy := range rows {
		offsets = append(offsets, oy)
	}
	// Highest tile row first: it holds the top of the image.
	slices.Sort(offsets)
	slices.Reverse(offsets)

	path := filepath.Join(dir, "stitched.f32")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stitch: %w", cedartoy.ErrIO, err)
	}
	bw := bufio.NewWriter(f)
	written := 0
	for _, oy := range offsets {
		row := rows[oy]
		slices.SortFunc(row, func(a, b spill) int { return a.tile.ox - b.tile.ox })
		data := make([][]float32, len(row))
		for i, sp := range row {
			if data[i], err = readSpill(sp); err != nil {
				f.Close()
				return nil, err
			}
		}
		validH := row[0].tile.validH
		for k := range validH {
			for i, sp := range row {
				n := sp.tile.validW * 4
				buf := make([]byte, n*4)
				encodeRow(buf, data[i][k*n:(k+1)*n])
				if _, err := bw.Write(buf); err != nil {
					f.Close()
					return nil, fmt.Errorf("%w: stitch: %w", cedartoy.ErrIO, err)
				}
			}
		}
		written += validH
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stitch: %w", cedartoy.ErrIO, err)
	}
	if written != e.height {
		f.Close()
		return nil, fmt.Errorf("%w: stitched %d rows, want %d", cedartoy.ErrIO, written, e.height)
	}
	e.log.Debug("render: stitched through disk", "path", path, "rows", written)
	return &fileRows{f: f, width: e.width, height: e.height}, nil
}

// rowSource yields the rows of a top-down RGBA float image.
type rowSource interface {
	size() (w, h int)
	// row copies row y into dst, which holds at least w*4 values.
	row(y int, dst []float32) error
}

type memRows struct {
	pix           []float32
	width, height int
}

func (m *memRows) size() (int, int) { return m.width, m.height }

func (m *memRows) row(y int, dst []float32) error {
	n := m.width * 4
	copy(dst[:n], m.pix[y*n:(y+1)*n])
	return nil
}

// fileRows reads rows of a stitched file on demand.
type fileRows struct {
	f             *os.File
	width, height int
	buf           []byte
}

func (r *fileRows) size() (int, int) { return r.width, r.height }

func (r *fileRows) row(y int, dst []float32) error {
	n := r.width * pixelBytes
	if len(r.buf) != n {
		r.buf = make([]byte, n)
	}
	got, err := r.f.ReadAt(r.buf, int64(y)*int64(n))
	if got < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: read stitched row %d: %w", cedartoy.ErrIO, y, err)
	}
	decodeRow(dst[:r.width*4], r.buf)
	return nil
}

func (r *fileRows) Close() error { return r.f.Close() }

func encodeRow(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

func decodeRow(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
}
