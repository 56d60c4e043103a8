// Package host defines the contract between flowgraph and a force-directed
// graph renderer.
//
// A Host receives a fully built RenderableGraph and owns everything after
// that: physics layout, camera, node positions and drag interaction. The
// builder and encoder never read or write positions.
package host

import (
	"context"
	"sync"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
)

// Host renders graphs.
type Host interface {
	Render(ctx context.Context, g encode.RenderableGraph) error
}

// Func adapts a function to Host.
type Func func(ctx context.Context, g encode.RenderableGraph) error

func (f Func) Render(ctx context.Context, g encode.RenderableGraph) error { return f(ctx, g) }

// Memory keeps the most recent graph in memory and counts renders. It backs
// the live HTTP host and tests.
type Memory struct {
	mu      sync.RWMutex
	current encode.RenderableGraph
	renders int
}

// NewMemory returns an empty in-memory host.
func NewMemory() *Memory {
	return &Memory{current: encode.RenderableGraph{
		Nodes: []encode.RenderNode{},
		Links: []encode.RenderLink{},
	}}
}

func (m *Memory) Render(_ context.Context, g encode.RenderableGraph) error {
	m.mu.Lock()
	m.current = g
	m.renders++
	m.mu.Unlock()
	return nil
}

// Current returns the last rendered graph.
func (m *Memory) Current() encode.RenderableGraph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Renders returns how many graphs have been rendered.
func (m *Memory) Renders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.renders
}

// Multi fans a render out to several hosts, stopping at the first error.
type Multi []Host

func (hs Multi) Render(ctx context.Context, g encode.RenderableGraph) error {
	for _, h := range hs {
		if err := h.Render(ctx, g); err != nil {
			return err
		}
	}
	return nil
}
