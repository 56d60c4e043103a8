package export

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/flowgraph/pkg/analysis"
	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// GraphExportFormat specifies the output format for graph export.
type GraphExportFormat string

const (
	GraphFormatJSON    GraphExportFormat = "json"
	GraphFormatDOT     GraphExportFormat = "dot"
	GraphFormatMermaid GraphExportFormat = "mermaid"
)

// ParseGraphExportFormat maps a flag value to a format.
func ParseGraphExportFormat(s string) (GraphExportFormat, error) {
	switch f := GraphExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case GraphFormatJSON, GraphFormatDOT, GraphFormatMermaid:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, dot or mermaid)", s)
	}
}

// GraphExportConfig configures graph export behavior.
type GraphExportConfig struct {
	Format GraphExportFormat // Output format (json, dot, mermaid)
	Root   string            // Restrict to hosts reachable from this host
	Depth  int               // Max hops from Root (0 = unlimited)
}

// GraphExportResult contains the exported graph and metadata.
type GraphExportResult struct {
	Format         string            `json:"format"`
	Graph          string            `json:"graph,omitempty"`
	Nodes          int               `json:"nodes"`
	Edges          int               `json:"edges"`
	FiltersApplied map[string]string `json:"filters_applied,omitempty"`
	Summary        *analysis.Summary `json:"summary,omitempty"`
	Adjacency      *AdjacencyGraph   `json:"adjacency,omitempty"`
}

// AdjacencyGraph is the JSON adjacency list representation.
type AdjacencyGraph struct {
	Nodes []AdjacencyNode `json:"nodes"`
	Edges []AdjacencyEdge `json:"edges"`
}

// AdjacencyNode represents a host in the adjacency graph.
type AdjacencyNode struct {
	ID       string         `json:"id"`
	Group    string         `json:"group"`
	Events   model.Quantity `json:"events"`
	Color    string         `json:"color"`
	Radius   float64        `json:"radius"`
	PageRank float64        `json:"pagerank,omitempty"`
}

// AdjacencyEdge represents one flow in the adjacency graph.
type AdjacencyEdge struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	SumBytes  model.Quantity `json:"sum_bytes"`
	Width     model.Quantity `json:"width"`
	Anomalous bool           `json:"anomalous,omitempty"`
}

// ExportGraph exports a rendered flow graph in the configured format.
// Nodes and edges keep the order of the graph, which is first-seen order.
func ExportGraph(g encode.RenderableGraph, summary *analysis.Summary, config GraphExportConfig) (*GraphExportResult, error) {
	g = filterGraph(g, config)

	filtersApplied := make(map[string]string)
	if config.Root != "" {
		filtersApplied["root"] = config.Root
	}
	if config.Depth > 0 {
		filtersApplied["depth"] = fmt.Sprintf("%d", config.Depth)
	}

	result := &GraphExportResult{
		Format:         string(config.Format),
		Nodes:          len(g.Nodes),
		Edges:          len(g.Links),
		FiltersApplied: filtersApplied,
		Summary:        summary,
	}

	var pageRank map[string]float64
	if summary != nil {
		pageRank = summary.PageRank
	}

	switch config.Format {
	case GraphFormatDOT:
		result.Graph = generateDOT(g)
	case GraphFormatMermaid:
		result.Graph = generateMermaid(g)
	case GraphFormatJSON:
		fallthrough
	default:
		result.Format = string(GraphFormatJSON)
		result.Adjacency = generateAdjacency(g, pageRank)
	}

	return result, nil
}

// filterGraph keeps hosts within config.Depth hops of config.Root, following
// flows in either direction.
func filterGraph(g encode.RenderableGraph, config GraphExportConfig) encode.RenderableGraph {
	if config.Root == "" {
		return g
	}

	neighbors := make(map[string][]string)
	for _, l := range g.Links {
		neighbors[l.Source] = append(neighbors[l.Source], l.Target)
		neighbors[l.Target] = append(neighbors[l.Target], l.Source)
	}

	type hop struct {
		id    string
		depth int
	}
	visited := make(map[string]bool)
	queue := []hop{{config.Root, 0}}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if visited[curr.id] {
			continue
		}
		if config.Depth > 0 && curr.depth > config.Depth {
			continue
		}
		visited[curr.id] = true
		for _, next := range neighbors[curr.id] {
			if !visited[next] {
				queue = append(queue, hop{next, curr.depth + 1})
			}
		}
	}

	out := encode.RenderableGraph{Nodes: []encode.RenderNode{}, Links: []encode.RenderLink{}}
	for _, n := range g.Nodes {
		if visited[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, l := range g.Links {
		if visited[l.Source] && visited[l.Target] {
			out.Links = append(out.Links, l)
		}
	}
	return out
}

// generateDOT creates a Graphviz DOT format graph.
func generateDOT(g encode.RenderableGraph) string {
	var sb strings.Builder

	sb.WriteString("digraph flows {\n")
	sb.WriteString("    rankdir=LR;\n")
	sb.WriteString("    node [shape=circle, fontname=\"Helvetica\", fontsize=10, style=filled];\n")
	sb.WriteString("    edge [fontname=\"Helvetica\", fontsize=8];\n")
	sb.WriteString("\n")

	for _, n := range g.Nodes {
		label := escapeDOTString(truncateRunes(n.Label, 40))
		sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", width=%.2f];\n",
			escapeDOTString(n.ID), label, n.Color, n.Radius/10))
	}

	sb.WriteString("\n")

	for _, l := range g.Links {
		if l.Anomalous {
			sb.WriteString(fmt.Sprintf("    \"%s\" -> \"%s\" [label=\"NaN\", style=dashed, color=\"%s\"];\n",
				escapeDOTString(l.Source), escapeDOTString(l.Target), encode.DefaultAlertColor))
			continue
		}
		sb.WriteString(fmt.Sprintf("    \"%s\" -> \"%s\" [label=\"%s\", penwidth=%.2f];\n",
			escapeDOTString(l.Source), escapeDOTString(l.Target),
			formatBytes(float64(l.SumBytes)), dotPenWidth(float64(l.Width))))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// dotPenWidth keeps hairline flows visible.
func dotPenWidth(w float64) float64 {
	return math.Max(0.5, w)
}

func escapeDOTString(s string) string {
	// DOT string literals need backslashes and quotes escaped; normalize newlines.
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", " ",
		"\r", " ",
	)
	return replacer.Replace(s)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// generateMermaid creates a Mermaid diagram format graph.
func generateMermaid(g encode.RenderableGraph) string {
	var sb strings.Builder

	sb.WriteString("graph LR\n")
	sb.WriteString(fmt.Sprintf("    classDef alert fill:%s,stroke:#333,color:#fff\n", encode.DefaultAlertColor))
	sb.WriteString("\n")

	// Deterministic, collision-free Mermaid IDs
	safeIDMap := make(map[string]string)
	usedSafe := make(map[string]bool)
	getSafeID := func(orig string) string {
		if safe, ok := safeIDMap[orig]; ok {
			return safe
		}
		base := sanitizeMermaidID(orig)
		if base == "" {
			base = "node"
		}
		safe := base
		if usedSafe[safe] {
			h := fnv.New32a()
			_, _ = h.Write([]byte(orig))
			safe = fmt.Sprintf("%s_%x", base, h.Sum32())
		}
		usedSafe[safe] = true
		safeIDMap[orig] = safe
		return safe
	}

	for _, n := range g.Nodes {
		safeID := getSafeID(n.ID)
		lb, rb := "((", "))"
		if n.Group == model.GroupClient {
			lb, rb = "[", "]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, lb, sanitizeMermaidText(n.Label), rb))
		if n.Alert {
			sb.WriteString(fmt.Sprintf("    class %s alert\n", safeID))
		}
	}

	sb.WriteString("\n")

	for _, l := range g.Links {
		arrow := "-->"
		label := formatBytes(float64(l.SumBytes))
		if l.Anomalous {
			arrow = "-.->"
			label = "NaN"
		}
		sb.WriteString(fmt.Sprintf("    %s %s|%s| %s\n", getSafeID(l.Source), arrow, label, getSafeID(l.Target)))
	}

	return sb.String()
}

// sanitizeMermaidID keeps characters Mermaid accepts in node identifiers.
func sanitizeMermaidID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// sanitizeMermaidText escapes text placed inside a quoted Mermaid label.
func sanitizeMermaidText(text string) string {
	replacer := strings.NewReplacer(
		"\"", "#quot;",
		"\n", " ",
		"\r", " ",
		"[", "(",
		"]", ")",
		"|", "/",
	)
	return strings.TrimSpace(replacer.Replace(truncateRunes(text, 40)))
}

// generateAdjacency creates a JSON adjacency list representation.
func generateAdjacency(g encode.RenderableGraph, pageRank map[string]float64) *AdjacencyGraph {
	nodes := make([]AdjacencyNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, AdjacencyNode{
			ID:       n.ID,
			Group:    n.Group.String(),
			Events:   n.Events,
			Color:    n.Color,
			Radius:   n.Radius,
			PageRank: pageRank[n.ID],
		})
	}

	edges := make([]AdjacencyEdge, 0, len(g.Links))
	for _, l := range g.Links {
		edges = append(edges, AdjacencyEdge{
			From:      l.Source,
			To:        l.Target,
			SumBytes:  l.SumBytes,
			Width:     l.Width,
			Anomalous: l.Anomalous,
		})
	}

	return &AdjacencyGraph{Nodes: nodes, Edges: edges}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(b float64) string {
	if math.IsNaN(b) {
		return "NaN"
	}
	const unit = 1024.0
	if math.Abs(b) < unit {
		return fmt.Sprintf("%.0f B", b)
	}
	div, exp := unit, 0
	for n := math.Abs(b) / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", b/div, "KMGTP"[exp])
}

// JSON returns the result as indented JSON bytes.
func (r *GraphExportResult) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
