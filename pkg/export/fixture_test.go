package export

import (
	"math"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// sampleGraph is a small encoded graph: A is a client with events, B and C
// are servers, and one A→C flow has a NaN byte count.
func sampleGraph() encode.RenderableGraph {
	m := model.GraphModel{
		Nodes: []model.Node{
			{ID: "A", Label: "A", Group: model.GroupClient, Events: 2},
			{ID: "B", Label: "B", Group: model.GroupServer},
			{ID: "C", Label: "C", Group: model.GroupServer},
		},
		Links: []model.Link{
			{Source: "A", Target: "B", SumBytes: 250000},
			{Source: "B", Target: "C", SumBytes: 20},
			{Source: "A", Target: "C", SumBytes: model.Quantity(math.NaN())},
		},
	}
	cfg := encode.DefaultConfig()
	cfg.HighlightIDs = []string{"B"}
	return encode.NewEncoder(cfg).Encode(m)
}
