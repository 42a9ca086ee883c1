package gpu

import (
	"slices"
	"strings"
)

// UniformSet is the set of active uniforms of a compiled program.
// The zero value is an empty set.
type UniformSet struct {
	names map[string]struct{}
}

// NewUniformSet builds a set from reflected uniform names. Array names are
// normalized: "iChannelTime[0]" is stored as "iChannelTime".
func NewUniformSet(names ...string) UniformSet {
	s := UniformSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if base, _, ok := strings.Cut(n, "["); ok {
			n = base
		}
		if n != "" {
			s.names[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether the program declares the uniform.
func (s UniformSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of uniforms.
func (s UniformSet) Len() int { return len(s.names) }

// Names returns the uniform names in sorted order.
func (s UniformSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
