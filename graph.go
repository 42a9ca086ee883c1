package cedartoy

import (
	"fmt"
	"slices"
)

// DefaultPassName is the name of the screen pass in a single-pass graph.
const DefaultPassName = "Image"

// MaxChannels is the number of iChannel slots per pass.
const MaxChannels = 4

// PassSpec is the raw description of one pass as it appears in a job file.
type PassSpec struct {
	Shader          string
	OutputsToScreen bool
	// Channels maps an iChannel slot to a source string in the channel
	// mini-language (see ParseChannel).
	Channels map[int]string
	Format   string
	BitDepth BitDepth
}

// BufferConfig is one validated pass of a multipass graph.
type BufferConfig struct {
	Name            string
	Shader          string
	OutputsToScreen bool
	Channels        map[int]string
	Format          string
	BitDepth        BitDepth
}

// ReadsSelf reports whether any channel of the pass references the pass
// itself.
func (b *BufferConfig) ReadsSelf() bool {
	for _, src := range b.Channels {
		if src == b.Name {
			return true
		}
	}
	return false
}

// MultipassGraphConfig is the validated, ordered set of passes of a job.
type MultipassGraphConfig struct {
	Buffers        map[string]*BufferConfig
	ExecutionOrder []string
	// Screen is the name of the terminal pass. It is always the last
	// element of ExecutionOrder.
	Screen string
	// Feedback lists, sorted by name, the passes that read their own
	// previous-frame output.
	Feedback []string
}

// IsFeedback reports whether the named pass reads its own previous frame.
func (g *MultipassGraphConfig) IsFeedback(name string) bool {
	_, ok := slices.BinarySearch(g.Feedback, name)
	return ok
}

// PassIndex returns the position of the named pass in the execution order,
// or -1.
func (g *MultipassGraphConfig) PassIndex(name string) int {
	return slices.Index(g.ExecutionOrder, name)
}

// Dependencies returns the non-terminal passes in execution order.
func (g *MultipassGraphConfig) Dependencies() []string {
	return g.ExecutionOrder[:len(g.ExecutionOrder)-1]
}

// DefaultGraph returns the single-pass graph used when a job names only a
// main shader.
func DefaultGraph(shader string) *MultipassGraphConfig {
	return &MultipassGraphConfig{
		Buffers: map[string]*BufferConfig{
			DefaultPassName: {
				Name:            DefaultPassName,
				Shader:          shader,
				OutputsToScreen: true,
				Channels:        map[int]string{},
			},
		},
		ExecutionOrder: []string{DefaultPassName},
		Screen:         DefaultPassName,
	}
}

// BuildGraph validates the passes and derives their execution order.
//
// A channel whose source names another pass adds an edge from that pass.
// A channel naming its own pass marks the pass as feedback and adds no edge.
// Without an explicit order the passes are sorted topologically with ties
// broken by name, and the screen pass is held back while any other pass is
// ready. An explicit order must list every pass exactly once and is taken
// verbatim. Either way the screen pass must be unique and last.
func BuildGraph(specs map[string]PassSpec, order []string) (*MultipassGraphConfig, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no passes", ErrInvalidGraph)
	}

	g := &MultipassGraphConfig{Buffers: make(map[string]*BufferConfig, len(specs))}
	for name, spec := range specs {
		if name == "" {
			return nil, fmt.Errorf("%w: pass with empty name", ErrInvalidGraph)
		}
		channels := make(map[int]string, len(spec.Channels))
		for slot, src := range spec.Channels {
			if slot < 0 || slot >= MaxChannels {
				return nil, fmt.Errorf("%w: pass %q: channel slot %d out of range 0..%d",
					ErrInvalidGraph, name, slot, MaxChannels-1)
			}
			channels[slot] = src
		}
		g.Buffers[name] = &BufferConfig{
			Name:            name,
			Shader:          spec.Shader,
			OutputsToScreen: spec.OutputsToScreen,
			Channels:        channels,
			Format:          spec.Format,
			BitDepth:        spec.BitDepth,
		}
	}

	var screens []string
	for name, buf := range g.Buffers {
		if buf.OutputsToScreen {
			screens = append(screens, name)
		}
		if buf.ReadsSelf() {
			g.Feedback = append(g.Feedback, name)
		}
	}
	slices.Sort(screens)
	slices.Sort(g.Feedback)
	if len(screens) != 1 {
		return nil, fmt.Errorf("%w: want exactly one screen pass, got %d %v", ErrInvalidGraph, len(screens), screens)
	}
	g.Screen = screens[0]
	if g.IsFeedback(g.Screen) {
		return nil, fmt.Errorf("%w: screen pass %q reads itself; route feedback through a buffer pass",
			ErrInvalidGraph, g.Screen)
	}

	var err error
	if len(order) > 0 {
		g.ExecutionOrder, err = checkOrder(g, order)
	} else {
		g.ExecutionOrder, err = topoSort(g)
	}
	if err != nil {
		return nil, err
	}
	if last := g.ExecutionOrder[len(g.ExecutionOrder)-1]; last != g.Screen {
		return nil, fmt.Errorf("%w: screen pass %q must be last, order ends with %q", ErrInvalidGraph, g.Screen, last)
	}
	return g, nil
}

// Check verifies the invariants BuildGraph establishes, for graphs that were
// assembled by hand: every buffer is keyed by its name, exactly one screen
// pass exists and is recorded in Screen, ExecutionOrder lists every pass once
// and ends with the screen pass, and Feedback lists exactly the passes that
// read themselves.
func (g *MultipassGraphConfig) Check() error {
	if len(g.Buffers) == 0 {
		return fmt.Errorf("%w: no passes", ErrInvalidGraph)
	}
	var screens, feedback []string
	for name, buf := range g.Buffers {
		if buf == nil || buf.Name != name {
			return fmt.Errorf("%w: buffer %q is not keyed by its name", ErrInvalidGraph, name)
		}
		for slot := range buf.Channels {
			if slot < 0 || slot >= MaxChannels {
				return fmt.Errorf("%w: pass %q: channel slot %d out of range 0..%d",
					ErrInvalidGraph, name, slot, MaxChannels-1)
			}
		}
		if buf.OutputsToScreen {
			screens = append(screens, name)
		}
		if buf.ReadsSelf() {
			feedback = append(feedback, name)
		}
	}
	slices.Sort(screens)
	slices.Sort(feedback)
	switch {
	case len(screens) != 1:
		return fmt.Errorf("%w: want exactly one screen pass, got %d %v", ErrInvalidGraph, len(screens), screens)
	case g.Screen != screens[0]:
		return fmt.Errorf("%w: screen is %q but pass %q outputs to screen", ErrInvalidGraph, g.Screen, screens[0])
	case !slices.Equal(g.Feedback, feedback):
		return fmt.Errorf("%w: feedback passes %v, want %v", ErrInvalidGraph, g.Feedback, feedback)
	case slices.Contains(feedback, g.Screen):
		return fmt.Errorf("%w: screen pass %q reads itself", ErrInvalidGraph, g.Screen)
	}
	if _, err := checkOrder(g, g.ExecutionOrder); err != nil {
		return err
	}
	if last := g.ExecutionOrder[len(g.ExecutionOrder)-1]; last != g.Screen {
		return fmt.Errorf("%w: screen pass %q must be last, order ends with %q", ErrInvalidGraph, g.Screen, last)
	}
	return nil
}

// edges returns, for every pass, the sorted passes that read it.
func edges(g *MultipassGraphConfig) (out map[string][]string, indegree map[string]int) {
	out = make(map[string][]string, len(g.Buffers))
	indegree = make(map[string]int, len(g.Buffers))
	for name := range g.Buffers {
		indegree[name] = 0
	}
	for name, buf := range g.Buffers {
		seen := map[string]bool{}
		for _, src := range buf.Channels {
			if src == name || seen[src] {
				continue
			}
			if _, ok := g.Buffers[src]; !ok {
				continue
			}
			seen[src] = true
			out[src] = append(out[src], name)
			indegree[name]++
		}
	}
	for k := range out {
		slices.Sort(out[k])
	}
	return out, indegree
}

// topoSort runs Kahn's algorithm over the non-self edges.
func topoSort(g *MultipassGraphConfig) ([]string, error) {
	out, indegree := edges(g)

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.Buffers))
	for len(ready) > 0 {
		slices.Sort(ready)
		pick := 0
		if ready[0] == g.Screen && len(ready) > 1 {
			pick = 1
		}
		name := ready[pick]
		ready = slices.Delete(ready, pick, pick+1)
		order = append(order, name)

		for _, next := range out[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(g.Buffers) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		slices.Sort(stuck)
		return nil, fmt.Errorf("%w: passes %v", ErrGraphCycle, stuck)
	}
	return order, nil
}

func checkOrder(g *MultipassGraphConfig, order []string) ([]string, error) {
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if _, ok := g.Buffers[name]; !ok {
			return nil, fmt.Errorf("%w: execution order names unknown pass %q", ErrInvalidGraph, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: execution order lists %q twice", ErrInvalidGraph, name)
		}
		seen[name] = true
	}
	if len(seen) != len(g.Buffers) {
		return nil, fmt.Errorf("%w: execution order lists %d of %d passes", ErrInvalidGraph, len(seen), len(g.Buffers))
	}
	return slices.Clone(order), nil
}
