package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gogpu/cedartoy"
)

// Encoder writes an image in one file format.
type Encoder interface {
	// Encode writes img to w. The image depth is one of the writer's
	// supported depths.
	Encode(w io.Writer, img *Image) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(w io.Writer, img *Image) error

// Encode calls f(w, img).
func (f EncoderFunc) Encode(w io.Writer, img *Image) error { return f(w, img) }

// Capability describes one output format.
type Capability struct {
	Format string
	Ext    string
	Depths []cedartoy.BitDepth
	// Available is false for formats that are recognised but cannot be
	// written by this build. Reason says why.
	Available bool
	Reason    string

	enc Encoder
}

// Supports reports whether the format can be written at depth d.
func (c Capability) Supports(d cedartoy.BitDepth) bool {
	return c.Available && slices.Contains(c.Depths, d)
}

// capabilities is resolved once at package initialisation.
var capabilities = map[string]Capability{
	"png": {
		Format: "png", Ext: "png", Available: true,
		Depths: []cedartoy.BitDepth{cedartoy.BitDepth8},
		enc:    EncoderFunc(encodePNG),
	},
	"tiff": {
		Format: "tiff", Ext: "tiff", Available: true,
		Depths: []cedartoy.BitDepth{cedartoy.BitDepth8},
		enc:    EncoderFunc(encodeTIFF),
	},
	"pfm": {
		Format: "pfm", Ext: "pfm", Available: true,
		Depths: []cedartoy.BitDepth{cedartoy.BitDepth16F, cedartoy.BitDepth32F},
		enc:    EncoderFunc(encodePFM),
	},
	"exr": {
		Format: "exr", Ext: "exr",
		Depths: []cedartoy.BitDepth{cedartoy.BitDepth16F, cedartoy.BitDepth32F},
		Reason: "no OpenEXR encoder in this build",
	},
}

// Capabilities returns every known format, sorted by name.
func Capabilities() []Capability {
	out := make([]Capability, 0, len(capabilities))
	for _, c := range capabilities {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Capability) int { return strings.Compare(a.Format, b.Format) })
	return out
}

// Writer saves frames in one resolved format and depth.
type Writer struct {
	cap   Capability
	depth cedartoy.BitDepth
}

// Lookup resolves a writer. Unknown formats, unavailable formats and
// unsupported depths are configuration errors.
func Lookup(format string, depth cedartoy.BitDepth) (*Writer, error) {
	name := strings.ToLower(strings.TrimPrefix(format, "."))
	if name == "tif" {
		name = "tiff"
	}
	c, ok := capabilities[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: unknown output format %q", cedartoy.ErrUnsupported, format)
	case !c.Available:
		return nil, fmt.Errorf("%w: output format %s unavailable: %s", cedartoy.ErrUnsupported, name, c.Reason)
	case !c.Supports(depth):
		return nil, fmt.Errorf("%w: output format %s does not support bit depth %s", cedartoy.ErrUnsupported, name, depth)
	}
	return &Writer{cap: c, depth: depth}, nil
}

// Format returns the format name.
func (w *Writer) Format() string { return w.cap.Format }

// Ext returns the file extension, without the dot.
func (w *Writer) Ext() string { return w.cap.Ext }

// Depth returns the bit depth images must be converted to.
func (w *Writer) Depth() cedartoy.BitDepth { return w.depth }

// Encode writes img to dst.
func (w *Writer) Encode(dst io.Writer, img *Image) error {
	if img.Depth != w.depth {
		return fmt.Errorf("%w: %s writer got a %s image", cedartoy.ErrUnsupported, w.depth, img.Depth)
	}
	return w.cap.enc.Encode(dst, img)
}

// Save writes img to path, creating parent directories.
func (w *Writer) Save(path string, img *Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", cedartoy.ErrIO, err)
	}
	f, err := os.Create(path) //nolint:gosec // output path comes from the job
	if err != nil {
		return fmt.Errorf("%w: %w", cedartoy.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, wrapIO(f.Close()))
	}()
	if err := w.Encode(f, img); err != nil {
		return fmt.Errorf("%w: encode %s: %w", cedartoy.ErrIO, path, err)
	}
	return nil
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", cedartoy.ErrIO, err)
}
