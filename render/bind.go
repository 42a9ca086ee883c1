package render

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/gpu"
)

// sample is one temporal sample of one eye of a frame.
type sample struct {
	frame  int
	index  int
	time   float64
	jitter mgl32.Vec2
	pose   cedartoy.EyePose
}

// samples returns the temporal samples of a frame. Subpixel jitter is only
// applied when more than one sample is averaged.
func (e *Engine) samples(frame int, pose cedartoy.EyePose) []sample {
	q := e.job.Quality
	offsets := cedartoy.TemporalOffsets(q.TemporalSamples, frame)
	out := make([]sample, len(offsets))
	for s, off := range offsets {
		out[s] = sample{
			frame: frame,
			index: s,
			time:  cedartoy.SampleTime(frame, e.job.FPS, off, q.Shutter),
			pose:  pose,
		}
		if len(offsets) > 1 {
			jx, jy := cedartoy.SubpixelJitter(frame, s, len(offsets))
			out[s].jitter = mgl32.Vec2{float32(jx), float32(jy)}
		}
	}
	return out
}

// date returns iDate for a sample time: year, zero-based month, day and
// seconds since midnight.
func (e *Engine) date(t float64) mgl32.Vec4 {
	d := e.dateOrigin.Add(time.Duration(t * float64(time.Second)))
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	return mgl32.Vec4{
		float32(d.Year()),
		float32(d.Month() - 1),
		float32(d.Day()),
		float32(d.Sub(midnight).Seconds()),
	}
}

// drawPass renders p for sample s. offset is the tile offset of the
// terminal pass and zero for every other pass.
func (e *Engine) drawPass(p *passResources, s sample, offset mgl32.Vec2) error {
	reg := p.program.Uniforms()
	u := make(map[string]any, reg.Len())
	set := func(name string, v any) {
		if reg.Has(name) {
			u[name] = v
		}
	}

	cam := e.job.Camera
	set("iTime", float32(s.time))
	set("iTimeDelta", float32(1/e.job.FPS))
	set("iFrameRate", float32(e.job.FPS))
	set("iFrame", int32(s.frame))
	set("iResolution", mgl32.Vec3{float32(e.width), float32(e.height), 1})
	set("iPassIndex", int32(p.index))
	set("iTileOffset", offset)
	set("iJitter", s.jitter)
	set("iSampleIndex", int32(s.index))
	set("iMouse", mgl32.Vec4(e.job.Mouse))
	set("iCameraMode", int32(cam.Mode.Index()))
	set("iCameraStereo", int32(cam.Stereo.Index()))
	set("iCameraFov", float32(cam.FOV*math.Pi/180))
	set("iCameraTiltDeg", float32(cam.TiltDeg))
	set("iCameraIPD", float32(cam.IPD))
	set("iCameraPos", s.pose.Pos)
	set("iCameraDir", s.pose.Dir)
	set("iCameraUp", s.pose.Up)
	set("iDate", e.date(s.time))
	set("iDuration", float32(e.duration))
	set("iSampleRate", float32(e.sampleRate))

	for name, v := range e.job.Params {
		switch len(v) {
		case 1:
			set(name, v[0])
		case 2:
			set(name, mgl32.Vec2{v[0], v[1]})
		case 3:
			set(name, mgl32.Vec3{v[0], v[1], v[2]})
		case 4:
			set(name, mgl32.Vec4{v[0], v[1], v[2], v[3]})
		}
	}

	textures := make(map[string]gpu.Texture, cedartoy.MaxChannels+1)
	times := make([]float32, cedartoy.MaxChannels)
	res := make([]mgl32.Vec3, cedartoy.MaxChannels)
	for slot, ch := range p.channels {
		t := e.channelTexture(p, ch)
		if t == nil {
			continue
		}
		times[slot] = float32(s.time)
		res[slot] = mgl32.Vec3{float32(t.Width()), float32(t.Height()), 1}
		if name := channelNames[slot]; reg.Has(name) {
			textures[name] = t
		}
	}
	set("iChannelTime", times)
	set("iChannelResolution", res)

	if e.history != nil {
		if reg.Has("iAudioHistoryTex") {
			textures["iAudioHistoryTex"] = e.history
		}
		set("iAudioHistoryResolution", mgl32.Vec3{float32(e.history.Width()), float32(e.history.Height()), 0})
	}

	err := e.dev.Draw(gpu.DrawCall{
		Program:  p.program,
		Target:   p.output(),
		Uniforms: u,
		Textures: textures,
	})
	if err != nil {
		return fmt.Errorf("%w: draw %s: %w", cedartoy.ErrResource, p.name, err)
	}
	e.opts.Metrics.PassDrawn(p.name)
	return nil
}

var channelNames = [cedartoy.MaxChannels]string{"iChannel0", "iChannel1", "iChannel2", "iChannel3"}

// channelTexture resolves a channel binding to the texture it samples, or
// nil for an unbound slot.
func (e *Engine) channelTexture(p *passResources, ch cedartoy.ChannelSource) gpu.Texture {
	switch ch.Kind {
	case cedartoy.ChannelAudio:
		if e.spectrum != nil {
			return e.spectrum
		}
	case cedartoy.ChannelHistory:
		if e.history != nil {
			return e.history
		}
	case cedartoy.ChannelPass:
		if dep, ok := e.passes[ch.Pass]; ok {
			return dep.output()
		}
	case cedartoy.ChannelFeedback:
		return p.previous()
	case cedartoy.ChannelFile:
		if t, err := e.fileTexture(ch.Path); err == nil {
			return t
		}
	}
	return nil
}
