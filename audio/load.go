package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/gogpu/cedartoy"
)

// ErrUnsupportedFormat is returned for audio files that are neither WAV nor
// MP3, or WAV files with an encoding the decoder cannot read.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Track is a decoded audio file. Samples are normalized to [-1, 1] and stored
// per channel.
type Track struct {
	SampleRate int
	// Channels holds one slice per channel, all of the same length.
	Channels [][]float64
}

// Frames returns the number of sample frames.
func (t *Track) Frames() int {
	if len(t.Channels) == 0 {
		return 0
	}
	return len(t.Channels[0])
}

// Duration returns the track length in seconds.
func (t *Track) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(t.Frames()) / float64(t.SampleRate)
}

// Load decodes a WAV or MP3 file, chosen by extension.
func Load(path string) (*Track, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: audio %s", cedartoy.ErrMissingFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open audio: %w", cedartoy.ErrResource, err)
	}
	defer f.Close()

	var t *Track
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		t, err = decodeWAV(f)
	case ".mp3":
		t, err = decodeMP3(f)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", cedartoy.ErrResource, path, err)
	}
	cedartoy.Logger().Debug("audio loaded",
		"path", path,
		"sampleRate", t.SampleRate,
		"channels", len(t.Channels),
		"seconds", t.Duration(),
	)
	return t, nil
}

func decodeWAV(r io.ReadSeeker) (*Track, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV header", ErrUnsupportedFormat)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, err
	}
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: WAV encoding %d, want PCM", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}
	format := decoder.Format()
	bitDepth := int(decoder.SampleBitDepth())
	if bitDepth == 0 || format.NumChannels == 0 {
		return nil, fmt.Errorf("%w: unknown WAV layout", ErrUnsupportedFormat)
	}

	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(decoder.PCMLen()) / bytesPerSample
	buf := &audio.IntBuffer{
		Format:         format,
		Data:           make([]int, nsamples),
		SourceBitDepth: bitDepth,
	}
	n, err := decoder.PCMBuffer(buf)
	if err != nil {
		return nil, err
	}
	buf.Data = buf.Data[:n]

	scale := math.Pow(2, float64(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}
	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = (float64(v) - offset) / scale
	}
	return deinterleave(interleaved, format.NumChannels, format.SampleRate), nil
}

func decodeMP3(r io.Reader) (*Track, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	// The decoder always produces signed 16-bit little-endian stereo.
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, err
	}
	const nchannels = 2
	interleaved := make([]float64, len(raw)/2)
	for i := range interleaved {
		interleaved[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return deinterleave(interleaved, nchannels, decoder.SampleRate()), nil
}

func deinterleave(samples []float64, nchannels, sampleRate int) *Track {
	frames := len(samples) / nchannels
	t := &Track{SampleRate: sampleRate, Channels: make([][]float64, nchannels)}
	for c := range t.Channels {
		ch := make([]float64, frames)
		for i := range ch {
			ch[i] = samples[i*nchannels+c]
		}
		t.Channels[c] = ch
	}
	return t
}
