package cedartoy

import (
	"fmt"
	"strings"
)

// ChannelKind classifies what an iChannel slot is bound to.
type ChannelKind int

const (
	// ChannelNone leaves the slot unbound.
	ChannelNone ChannelKind = iota
	// ChannelAudio binds the per-frame 512×2 spectrum/waveform texture.
	ChannelAudio
	// ChannelHistory binds the full-duration spectrogram texture.
	ChannelHistory
	// ChannelPass binds another pass's output of the current sample.
	ChannelPass
	// ChannelFeedback binds the pass's own previous-frame output.
	ChannelFeedback
	// ChannelFile binds an image loaded from disk.
	ChannelFile
)

var channelKindNames = [...]string{
	ChannelNone:     "none",
	ChannelAudio:    "audio",
	ChannelHistory:  "history",
	ChannelPass:     "pass",
	ChannelFeedback: "feedback",
	ChannelFile:     "file",
}

// String returns the kind name.
func (k ChannelKind) String() string {
	if int(k) < len(channelKindNames) {
		return channelKindNames[k]
	}
	return fmt.Sprintf("ChannelKind(%d)", int(k))
}

// ChannelSource is a parsed channel binding.
type ChannelSource struct {
	Kind ChannelKind
	// Pass is set for ChannelPass and ChannelFeedback.
	Pass string
	// Path is set for ChannelFile, as written in the job.
	Path string
}

// ParseChannel interprets a channel source string for the pass named self.
//
//	<pass>                    another pass's output, or self for feedback
//	audio, shadertoy_audio    per-frame audio texture
//	history, audiohistory     audio history texture
//	file:<path>               image file
//	anything else             image file at that path
func (g *MultipassGraphConfig) ParseChannel(self, src string) ChannelSource {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return ChannelSource{Kind: ChannelNone}
	case src == self:
		return ChannelSource{Kind: ChannelFeedback, Pass: self}
	}
	if _, ok := g.Buffers[src]; ok {
		return ChannelSource{Kind: ChannelPass, Pass: src}
	}
	switch strings.ToLower(src) {
	case "audio", "shadertoy_audio":
		return ChannelSource{Kind: ChannelAudio}
	case "history", "audiohistory":
		return ChannelSource{Kind: ChannelHistory}
	}
	if p, ok := strings.CutPrefix(src, "file:"); ok {
		return ChannelSource{Kind: ChannelFile, Path: strings.TrimSpace(p)}
	}
	return ChannelSource{Kind: ChannelFile, Path: src}
}
