package export

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/model"
)

func TestParseGraphExportFormat(t *testing.T) {
	for _, in := range []string{"json", "DOT", " mermaid "} {
		if _, err := ParseGraphExportFormat(in); err != nil {
			t.Errorf("ParseGraphExportFormat(%q) error: %v", in, err)
		}
	}
	if _, err := ParseGraphExportFormat("graphml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestExportGraph_JSON(t *testing.T) {
	g := sampleGraph()
	res, err := ExportGraph(g, nil, GraphExportConfig{Format: GraphFormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	if res.Nodes != 3 || res.Edges != 3 {
		t.Fatalf("counts = %d/%d, want 3/3", res.Nodes, res.Edges)
	}
	if res.Adjacency == nil || len(res.Adjacency.Edges) != 3 {
		t.Fatalf("missing adjacency: %+v", res.Adjacency)
	}
	if res.Adjacency.Nodes[0].Color != encode.DefaultAlertColor {
		t.Errorf("A should carry the alert color, got %s", res.Adjacency.Nodes[0].Color)
	}
	if !res.Adjacency.Edges[2].Anomalous {
		t.Error("A→C should be anomalous")
	}

	data, err := res.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if !strings.Contains(string(data), `"sum_bytes": null`) {
		t.Errorf("NaN byte sum should serialize as null:\n%s", data)
	}
}

func TestExportGraph_DOT(t *testing.T) {
	res, err := ExportGraph(sampleGraph(), nil, GraphExportConfig{Format: GraphFormatDOT})
	if err != nil {
		t.Fatal(err)
	}
	dot := res.Graph
	if !strings.HasPrefix(dot, "digraph flows {") {
		t.Errorf("unexpected DOT header:\n%s", dot)
	}
	if !strings.Contains(dot, `"A" -> "B" [label="244.1 KiB", penwidth=1.00]`) {
		t.Errorf("missing weighted A→B edge:\n%s", dot)
	}
	if !strings.Contains(dot, `"A" -> "C" [label="NaN", style=dashed`) {
		t.Errorf("anomalous edge should be dashed:\n%s", dot)
	}
	if res.Adjacency != nil {
		t.Error("DOT export should not carry adjacency")
	}
}

func TestExportGraph_Mermaid(t *testing.T) {
	res, err := ExportGraph(sampleGraph(), nil, GraphExportConfig{Format: GraphFormatMermaid})
	if err != nil {
		t.Fatal(err)
	}
	out := res.Graph
	for _, want := range []string{"graph LR", `A["A"]`, `B(("B"))`, "class A alert", "A -.->|NaN| C", "B -->|20 B| C"} {
		if !strings.Contains(out, want) {
			t.Errorf("mermaid output missing %q:\n%s", want, out)
		}
	}
}

func TestExportGraph_MermaidIDCollision(t *testing.T) {
	m := model.GraphModel{
		Nodes: []model.Node{
			{ID: "10.0.0.1", Label: "10.0.0.1", Group: model.GroupClient},
			{ID: "10_0_0_1", Label: "10_0_0_1", Group: model.GroupServer},
		},
		Links: []model.Link{{Source: "10.0.0.1", Target: "10_0_0_1", SumBytes: 1}},
	}
	g := encode.NewEncoder(encode.DefaultConfig()).Encode(m)
	res, err := ExportGraph(g, nil, GraphExportConfig{Format: GraphFormatMermaid})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Graph, "10_0_0_1 -->|1 B| 10_0_0_1\n") {
		t.Errorf("distinct hosts collapsed to one Mermaid id:\n%s", res.Graph)
	}
}

func TestExportGraph_RootFilter(t *testing.T) {
	g := sampleGraph()
	res, err := ExportGraph(g, nil, GraphExportConfig{Format: GraphFormatJSON, Root: "C", Depth: 1})
	if err != nil {
		t.Fatal(err)
	}
	// C reaches A and B directly.
	if res.Nodes != 3 {
		t.Errorf("nodes = %d, want 3", res.Nodes)
	}
	if res.FiltersApplied["root"] != "C" || res.FiltersApplied["depth"] != "1" {
		t.Errorf("filters not recorded: %v", res.FiltersApplied)
	}

	res, err = ExportGraph(g, nil, GraphExportConfig{Format: GraphFormatJSON, Root: "nowhere"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Nodes != 0 || res.Edges != 0 {
		t.Errorf("unknown root should export nothing, got %d/%d", res.Nodes, res.Edges)
	}
}

func TestExportGraph_SummaryPageRank(t *testing.T) {
	g := sampleGraph()
	s := summarizeRendered(g)
	res, err := ExportGraph(g, &s, GraphExportConfig{Format: GraphFormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, n := range res.Adjacency.Nodes {
		sum += n.PageRank
	}
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("page ranks should sum to 1, got %v", sum)
	}
	if res.Summary == nil || res.Summary.Hosts != 3 {
		t.Errorf("summary not attached: %+v", res.Summary)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[float64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1 << 20: "1.0 MiB",
		-2048:   "-2.0 KiB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%v) = %q, want %q", in, got, want)
		}
	}
}
