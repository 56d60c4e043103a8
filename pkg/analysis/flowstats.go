// Package analysis computes traffic summaries over a flow graph.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// PageRank parameters.
const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-6
)

// Summary describes one graph model.
type Summary struct {
	Hosts     int `json:"hosts"`
	Clients   int `json:"clients"`
	Servers   int `json:"servers"`
	Flows     int `json:"flows"`
	Anomalous int `json:"anomalous_flows"`
	Alerting  int `json:"alerting_hosts"`

	// TotalBytes sums the numeric link weights; anomalous links are excluded.
	TotalBytes float64 `json:"total_bytes"`

	TopTalker      string  `json:"top_talker,omitempty"`
	TopTalkerBytes float64 `json:"top_talker_bytes,omitempty"`
	TopServer      string  `json:"top_server,omitempty"`
	TopServerRank  float64 `json:"top_server_pagerank,omitempty"`

	OutDegree map[string]int     `json:"-"`
	InDegree  map[string]int     `json:"-"`
	HostBytes map[string]float64 `json:"-"`
	PageRank  map[string]float64 `json:"-"`
}

// Summarize counts hosts and flows and ranks hosts by traffic and by
// PageRank over the client→server graph. Ties resolve to the host seen first.
func Summarize(g model.GraphModel) Summary {
	s := Summary{
		Hosts:     len(g.Nodes),
		Flows:     len(g.Links),
		OutDegree: make(map[string]int, len(g.Nodes)),
		InDegree:  make(map[string]int, len(g.Nodes)),
		HostBytes: make(map[string]float64, len(g.Nodes)),
		PageRank:  make(map[string]float64, len(g.Nodes)),
	}

	for _, n := range g.Nodes {
		switch n.Group {
		case model.GroupClient:
			s.Clients++
		case model.GroupServer:
			s.Servers++
		}
		if float64(n.Events) > 0 {
			s.Alerting++
		}
	}

	for _, l := range g.Links {
		s.OutDegree[l.Source]++
		s.InDegree[l.Target]++
		if l.Anomalous() {
			s.Anomalous++
			continue
		}
		b := float64(l.SumBytes)
		s.TotalBytes += b
		s.HostBytes[l.Source] += b
		if l.Target != l.Source {
			s.HostBytes[l.Target] += b
		}
	}

	best := math.Inf(-1)
	for _, n := range g.Nodes {
		if b, ok := s.HostBytes[n.ID]; ok && b > best {
			best = b
			s.TopTalker = n.ID
			s.TopTalkerBytes = b
		}
	}

	s.PageRank = pageRank(g)
	best = math.Inf(-1)
	for _, n := range g.Nodes {
		if r, ok := s.PageRank[n.ID]; ok && r > best {
			best = r
			s.TopServer = n.ID
			s.TopServerRank = r
		}
	}

	return s
}

// pageRank runs PageRank over the deduplicated client→server graph.
// Self-flows are ignored since simple graphs cannot hold self edges.
func pageRank(g model.GraphModel) map[string]float64 {
	out := make(map[string]float64, len(g.Nodes))
	if len(g.Nodes) == 0 {
		return out
	}

	dg := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(g.Nodes))
	for i, n := range g.Nodes {
		id := int64(i)
		ids[n.ID] = id
		dg.AddNode(simple.Node(id))
	}
	for _, l := range g.Links {
		from, okFrom := ids[l.Source]
		to, okTo := ids[l.Target]
		if !okFrom || !okTo || from == to {
			continue
		}
		dg.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}

	ranks := network.PageRank(dg, pageRankDamping, pageRankTolerance)
	for _, n := range g.Nodes {
		out[n.ID] = ranks[ids[n.ID]]
	}
	return out
}
