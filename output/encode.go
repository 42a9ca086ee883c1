package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/tiff"
)

func encodePNG(w io.Writer, img *Image) error {
	nrgba, err := img.NRGBA()
	if err != nil {
		return err
	}
	return png.Encode(w, nrgba)
}

func encodeTIFF(w io.Writer, img *Image) error {
	nrgba, err := img.NRGBA()
	if err != nil {
		return err
	}
	return tiff.Encode(w, nrgba, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// encodePFM writes a little-endian colour Portable Float Map. PFM has no
// alpha channel and stores rows bottom first.
func encodePFM(w io.Writer, img *Image) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "PF\n%d %d\n-1.0\n", img.Width, img.Height); err != nil {
		return err
	}
	var buf [12]byte
	for y := img.Height - 1; y >= 0; y-- {
		for x := range img.Width {
			c := img.At(x, y)
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(c[0]))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(c[1]))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(c[2]))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
