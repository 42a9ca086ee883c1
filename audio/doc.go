// Package audio decodes soundtracks and derives the textures shaders read
// through the "audio" and "history" channels.
//
// The per-frame texture follows the Shadertoy layout: 512×2 floats with the
// spectrum in row 0 and the waveform in row 1. The history texture is a
// spectrogram of the whole track with one column per output frame.
package audio
