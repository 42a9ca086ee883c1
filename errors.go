package cedartoy

import "errors"

// Error categories. Every error returned by the engine wraps exactly one of
// these, so callers can classify a failed run with errors.Is.
var (
	// ErrConfig marks invalid job parameters or a malformed multipass graph.
	// Configuration errors are raised before any GPU resource is allocated.
	ErrConfig = errors.New("cedartoy: configuration error")

	// ErrResource marks missing input files and GPU allocation or
	// compilation failures.
	ErrResource = errors.New("cedartoy: resource error")

	// ErrIO marks failures creating the output directory or writing frames.
	ErrIO = errors.New("cedartoy: i/o error")
)

// Configuration errors.
var (
	// ErrInvalidJob is returned for non-positive dimensions, tile counts,
	// sample counts and similar out-of-range job parameters.
	ErrInvalidJob = wrapCategory(ErrConfig, "invalid job")

	// ErrInvalidGraph is returned when the multipass graph violates its
	// invariants (screen pass count, screen pass position, channel slots).
	ErrInvalidGraph = wrapCategory(ErrConfig, "invalid multipass graph")

	// ErrGraphCycle is returned when the pass dependencies contain a cycle.
	ErrGraphCycle = wrapCategory(ErrInvalidGraph, "dependency cycle")

	// ErrUnsupported is returned for option combinations the engine rejects
	// rather than silently degrading (feedback with stereo, unavailable
	// output formats).
	ErrUnsupported = wrapCategory(ErrConfig, "unsupported combination")
)

// Resource errors.
var (
	// ErrMissingFile is returned when a shader, texture or audio file does
	// not exist.
	ErrMissingFile = wrapCategory(ErrResource, "missing file")

	// ErrCompile is returned when a pass program fails to compile or link.
	ErrCompile = wrapCategory(ErrResource, "shader compilation failed")
)

// categoryError chains a specific sentinel to its category.
type categoryError struct {
	parent error
	msg    string
}

func wrapCategory(parent error, msg string) error {
	return &categoryError{parent: parent, msg: msg}
}

func (e *categoryError) Error() string { return "cedartoy: " + e.msg }

func (e *categoryError) Unwrap() error { return e.parent }
