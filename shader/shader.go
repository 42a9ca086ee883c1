// Package shader assembles pass programs from Shadertoy-style sources.
//
// A user source defines
//
//	void mainImage(out vec4 fragColor, in vec2 fragCoord);
//
// and Assemble wraps it into a complete GLSL 4.30 fragment shader: version
// line, job defines, the standard uniform header, the user code, and a main
// that calls mainImage with gl_FragCoord.xy + iTileOffset.
package shader

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/gogpu/cedartoy"
)

// Version is the GLSL version directive every program starts with.
const Version = "#version 430 core"

//go:embed header.glsl
var header string

const footer = `
// --- main ---
out vec4 cedartoyFragColor;
void main() {
    vec4 color = vec4(0.0);
    mainImage(color, gl_FragCoord.xy + iTileOffset);
    cedartoyFragColor = color;
}
`

// Header returns the standard uniform declarations and helpers.
func Header() string { return header }

// Assemble builds the fragment shader for src. Defines are emitted sorted by
// name; an empty value emits a bare "#define NAME". #version lines in src
// are dropped.
func Assemble(src string, defines map[string]string) string {
	var b strings.Builder
	b.WriteString(Version)
	b.WriteByte('\n')

	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if v := defines[name]; v != "" {
			fmt.Fprintf(&b, "#define %s %s\n", name, v)
		} else {
			fmt.Fprintf(&b, "#define %s\n", name)
		}
	}

	b.WriteString(header)
	b.WriteString("\n// --- user shader ---\n")
	for line := range strings.Lines(src) {
		if strings.HasPrefix(strings.TrimSpace(line), "#version") {
			continue
		}
		b.WriteString(line)
	}
	b.WriteString(footer)
	return b.String()
}

// Load reads the shader file at path and assembles it.
func Load(path string, defines map[string]string) (string, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: shader %s", cedartoy.ErrMissingFile, path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: read shader: %w", cedartoy.ErrResource, err)
	}
	return Assemble(string(src), defines), nil
}
