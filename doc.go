// Package cedartoy renders Shadertoy-style GLSL programs into image sequences.
//
// # Overview
//
// A render is described by a [RenderJob]: output geometry, sampling quality,
// tiling, camera, audio track and a multipass graph of GLSL passes. The job
// is validated once and then only read. The render package executes it frame
// by frame on a GPU backend and hands finished frames to an output writer.
//
// This package holds the pieces that need no GPU:
//   - [RenderJob] and its validation
//   - [BuildGraph], which orders passes topologically and finds feedback passes
//   - the channel mini-language ([MultipassGraphConfig.ParseChannel])
//   - [ResolveOutputPath] for frame file names
//   - [TemporalOffsets], [SampleTime] and [SubpixelJitter], the temporal sampler
//   - [Camera.Pose] for stereo eye placement
//
// # Coordinate System
//
// Backends render bottom-up: row 0 of a read-back tile is its bottom row and
// gl_FragCoord grows upward. Output images are top-down. The render package
// performs the flip when placing tiles.
//
// # Errors
//
// Every error wraps one of [ErrConfig], [ErrResource] or [ErrIO].
//
// # Logging
//
// The package is silent by default. See [SetLogger].
package cedartoy

// Version is the current version of the module.
const Version = "0.1.0"
