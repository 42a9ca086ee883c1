// Command cedartoy renders Shadertoy-style GLSL shaders to image sequences.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/internal/cli"
)

// OpenGL contexts are bound to the thread that created them.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cedartoy: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error category to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, cedartoy.ErrConfig):
		return 2
	case errors.Is(err, cedartoy.ErrResource):
		return 3
	case errors.Is(err, cedartoy.ErrIO):
		return 4
	default:
		return 1
	}
}
