package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/audio"
	"github.com/gogpu/cedartoy/gpu"
	"github.com/gogpu/cedartoy/internal/cache"
	"github.com/gogpu/cedartoy/metrics"
	"github.com/gogpu/cedartoy/output"
	"github.com/gogpu/cedartoy/progress"
	"github.com/gogpu/cedartoy/shader"
)

// Options configure an Engine. The zero value is usable.
type Options struct {
	// Observer receives progress events. Nil discards them.
	Observer progress.Observer

	// Metrics records render counters. Nil records nothing.
	Metrics *metrics.Collector

	// TempDir is where streaming mode spills tiles. Empty uses the system
	// temporary directory.
	TempDir string

	// Clock returns the wall time used as the iDate origin when the job
	// has no Date. Defaults to time.Now.
	Clock func() time.Time

	// AvailableMemory overrides the free RAM probe of the auto disk
	// streaming policy.
	AvailableMemory func() (uint64, bool)
}

// Engine renders the frames of one job on one device.
//
// An Engine is not safe for concurrent use. All device calls happen on the
// goroutine calling RenderFrame or Run, which for the OpenGL backend must
// be the goroutine that created the device.
type Engine struct {
	job      *cedartoy.RenderJob
	dev      gpu.Device
	opts     Options
	observer progress.Observer
	log      *slog.Logger

	// Internal (supersampled) size and terminal tile size.
	width, height int
	tileW, tileH  int

	frameStart, frameEnd int
	duration             float64
	dateOrigin           time.Time

	writer *output.Writer

	// Resource table, keyed by pass name, in execution order.
	passes map[string]*passResources
	order  []*passResources

	analyzer   *audio.Analyzer
	sampleRate float64
	spectrum   gpu.Texture
	history    gpu.Texture

	files *cache.Cache[string, gpu.Texture]

	closed bool
}

// New validates job, loads every input file, and allocates the GPU
// resources of every pass. Configuration errors are returned before
// anything is allocated on dev. The engine does not take ownership of dev.
func New(job *cedartoy.RenderJob, dev gpu.Device, opts Options) (*Engine, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	format, depth := job.ScreenFormat()
	writer, err := output.Lookup(format, depth)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		job:      job,
		dev:      dev,
		opts:     opts,
		observer: opts.Observer,
		log:      cedartoy.Logger().With("backend", dev.Name()),
		writer:   writer,
		passes:   make(map[string]*passResources, len(job.Graph.Buffers)),
		files:    cache.New[string, gpu.Texture](0),
	}
	if e.observer == nil {
		e.observer = progress.Nop
	}
	if e.opts.Clock == nil {
		e.opts.Clock = time.Now
	}
	e.width, e.height = job.InternalSize()
	e.tileW, e.tileH = job.TileSize()
	e.dateOrigin = job.Date
	if e.dateOrigin.IsZero() {
		e.dateOrigin = e.opts.Clock()
	}

	// Everything that can fail without a device runs first.
	if err := e.loadAudio(); err != nil {
		return nil, err
	}
	sources, err := e.loadShaders()
	if err != nil {
		return nil, err
	}
	if err := e.resolveChannels(); err != nil {
		return nil, err
	}

	if err := e.allocate(sources); err != nil {
		e.Close()
		return nil, err
	}
	e.log.Info("render: engine ready",
		"passes", len(e.order),
		"internal", fmt.Sprintf("%dx%d", e.width, e.height),
		"tiles", job.Tiles.Count(),
		"frames", e.frameEnd-e.frameStart)
	return e, nil
}

// Check runs the checks New performs before it touches a device: job
// validation, output writer resolution, and the existence of every shader,
// channel image and audio file. Callers that open the device themselves run
// it first.
func Check(job *cedartoy.RenderJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, err := output.Lookup(job.ScreenFormat()); err != nil {
		return err
	}
	if job.Audio.Path != "" {
		if err := checkFile("audio", job.ResolvePath(job.Audio.Path)); err != nil {
			return err
		}
	}
	g := job.Graph
	for _, name := range g.ExecutionOrder {
		buf := g.Buffers[name]
		if err := checkFile("shader", job.ResolvePath(buf.Shader)); err != nil {
			return fmt.Errorf("pass %s: %w", name, err)
		}
		for slot, src := range buf.Channels {
			if ch := g.ParseChannel(name, src); ch.Kind == cedartoy.ChannelFile {
				if err := checkFile("texture", job.ResolvePath(ch.Path)); err != nil {
					return fmt.Errorf("pass %s: channel %d: %w", name, slot, err)
				}
			}
		}
	}
	return nil
}

func checkFile(kind, path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s %s", cedartoy.ErrMissingFile, kind, path)
	default:
		return fmt.Errorf("%w: %s: %w", cedartoy.ErrResource, kind, err)
	}
}

func (e *Engine) loadAudio() error {
	var trackDuration float64
	var track *audio.Track
	if e.job.Audio.Path != "" {
		var err error
		track, err = audio.Load(e.job.ResolvePath(e.job.Audio.Path))
		if err != nil {
			return err
		}
		trackDuration = track.Duration()
	}
	e.frameStart, e.frameEnd = e.job.FrameRange(trackDuration)
	e.duration = e.job.Duration
	if e.duration <= 0 {
		e.duration = float64(e.frameEnd) / e.job.FPS
	}
	e.sampleRate = 44100
	if track != nil {
		e.analyzer = audio.NewAnalyzer(track, e.job.FPS, e.frameEnd)
		e.sampleRate = float64(track.SampleRate)
	}
	return nil
}

func (e *Engine) loadShaders() (map[string]string, error) {
	sources := make(map[string]string, len(e.job.Graph.Buffers))
	for _, name := range e.job.Graph.ExecutionOrder {
		buf := e.job.Graph.Buffers[name]
		src, err := shader.Load(e.job.ResolvePath(buf.Shader), e.job.Defines)
		if err != nil {
			return nil, fmt.Errorf("pass %s: %w", name, err)
		}
		sources[name] = src
	}
	return sources, nil
}

// resolveChannels parses every channel binding and checks that referenced
// image files exist.
func (e *Engine) resolveChannels() error {
	g := e.job.Graph
	for i, name := range g.ExecutionOrder {
		buf := g.Buffers[name]
		p := &passResources{
			name:     name,
			index:    i,
			feedback: g.IsFeedback(name),
			terminal: name == g.Screen,
		}
		for slot, src := range buf.Channels {
			if slot < 0 || slot >= cedartoy.MaxChannels {
				return fmt.Errorf("%w: pass %s: channel slot %d", cedartoy.ErrInvalidGraph, name, slot)
			}
			ch := g.ParseChannel(name, src)
			switch ch.Kind {
			case cedartoy.ChannelAudio, cedartoy.ChannelHistory:
				if e.analyzer == nil {
					e.log.Warn("render: audio channel without an audio track", "pass", name, "slot", slot)
					ch = cedartoy.ChannelSource{}
				} else if ch.Kind == cedartoy.ChannelAudio && !e.job.Audio.Mode.WantsSpectrum() ||
					ch.Kind == cedartoy.ChannelHistory && !e.job.Audio.Mode.WantsHistory() {
					e.log.Warn("render: audio texture disabled by audio mode",
						"pass", name, "slot", slot, "mode", e.job.Audio.Mode)
					ch = cedartoy.ChannelSource{}
				}
			case cedartoy.ChannelFile:
				ch.Path = e.job.ResolvePath(ch.Path)
				if err := checkFile("texture", ch.Path); err != nil {
					return fmt.Errorf("pass %s: channel %d: %w", name, slot, err)
				}
			}
			p.channels[slot] = ch
		}
		// Shadertoy binds the sound texture to iChannel0 when nothing else
		// claims the slot.
		if _, claimed := buf.Channels[0]; !claimed && e.analyzer != nil && e.job.Audio.Mode.WantsSpectrum() {
			p.channels[0] = cedartoy.ChannelSource{Kind: cedartoy.ChannelAudio}
		}
		e.passes[name] = p
		e.order = append(e.order, p)
	}
	return nil
}

// Close releases every GPU resource the engine allocated. It does not
// close the device. Close is idempotent.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	for _, p := range e.order {
		p.release()
	}
	if e.spectrum != nil {
		e.spectrum.Release()
		e.spectrum = nil
	}
	if e.history != nil {
		e.history.Release()
		e.history = nil
	}
	e.files.Clear()
}

// FrameRange returns the resolved [start, end) range Run renders.
func (e *Engine) FrameRange() (start, end int) { return e.frameStart, e.frameEnd }

// Writer returns the output writer resolved for the screen pass.
func (e *Engine) Writer() *output.Writer { return e.writer }

// Run renders and writes every frame of the job. The context is checked
// between frames only; a frame in progress always completes.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed {
		return gpu.ErrReleased
	}
	total := e.frameEnd
	if err := os.MkdirAll(e.job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: create output directory: %w", cedartoy.ErrIO, err)
	}
	start := time.Now()
	e.observer.Observe(ctx, progress.Event{Kind: progress.KindStart, Frame: e.frameStart, Total: total})

	for f := e.frameStart; f < e.frameEnd; f++ {
		if err := ctx.Err(); err != nil {
			e.fail(ctx, f, total, err)
			return err
		}
		t0 := time.Now()
		img, err := e.RenderFrame(ctx, f)
		if err != nil {
			e.fail(ctx, f, total, err)
			return err
		}
		path := cedartoy.ResolveOutputPath(e.job.OutputDir, e.job.OutputPattern, f, e.writer.Ext())
		if err := e.writer.Save(path, img); err != nil {
			e.fail(ctx, f, total, err)
			return err
		}
		elapsed := time.Since(t0)
		e.opts.Metrics.FrameDone(elapsed)
		e.log.Info("render: frame saved", "frame", f, "path", path, "elapsed", elapsed)
		e.observer.Observe(ctx, progress.Event{
			Kind:    progress.KindFrameSaved,
			Frame:   f,
			Total:   total,
			Path:    path,
			Elapsed: elapsed,
		})
	}
	e.observer.Observe(ctx, progress.Event{Kind: progress.KindDone, Frame: e.frameEnd, Total: total, Elapsed: time.Since(start)})
	return nil
}

// fail reports err as the run's last event. The event is published even when
// ctx is what ended the run.
func (e *Engine) fail(ctx context.Context, frame, total int, err error) {
	e.observer.Observe(context.WithoutCancel(ctx), progress.Event{Kind: progress.KindError, Frame: frame, Total: total, Message: err.Error()})
}

// RenderFrame renders one output frame and returns it converted to the
// writer's bit depth. Frames with feedback passes must be rendered in
// order: each call advances every feedback pair.
func (e *Engine) RenderFrame(ctx context.Context, frame int) (*output.Image, error) {
	if e.closed {
		return nil, gpu.ErrReleased
	}
	if err := e.beginFrame(frame); err != nil {
		return nil, err
	}

	eyes := e.job.Eyes()
	views := make([]*output.Image, 0, len(eyes))
	for _, eye := range eyes {
		img, err := e.renderView(ctx, frame, eye)
		if err != nil {
			return nil, fmt.Errorf("frame %d (%s): %w", frame, eye, err)
		}
		views = append(views, img)
	}

	e.endFrame()
	if len(views) == 1 {
		return views[0], nil
	}
	return output.Stack(views[0], views[1], e.job.Camera.Stereo == cedartoy.StereoSideBySide)
}

// beginFrame uploads the frame's audio texture. Feedback passes write
// their current target and read the other one until endFrame.
func (e *Engine) beginFrame(frame int) error {
	if e.spectrum == nil {
		return nil
	}
	if err := e.dev.WriteTexture(e.spectrum, e.analyzer.FrameTexture(frame)); err != nil {
		return fmt.Errorf("%w: audio texture: %w", cedartoy.ErrResource, err)
	}
	return nil
}

func (e *Engine) endFrame() {
	for _, p := range e.order {
		p.flip()
	}
}
