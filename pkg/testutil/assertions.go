package testutil

import (
	"testing"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// AssertGraphValid verifies the model's structural invariants.
func AssertGraphValid(t *testing.T, g model.GraphModel) {
	t.Helper()
	if err := g.Validate(); err != nil {
		t.Errorf("graph invalid: %v", err)
	}
}

// AssertMatchesFixture verifies node, link and anomaly counts against the
// fixture the graph was built from.
func AssertMatchesFixture(t *testing.T, g model.GraphModel, f FlowFixture) {
	t.Helper()
	if len(g.Nodes) != f.Hosts {
		t.Errorf("%s: expected %d nodes, got %d", f.Description, f.Hosts, len(g.Nodes))
	}
	if len(g.Links) != len(f.Records) {
		t.Errorf("%s: expected %d links, got %d", f.Description, len(f.Records), len(g.Links))
	}
	anomalous := 0
	for _, l := range g.Links {
		if l.Anomalous() {
			anomalous++
		}
	}
	if anomalous != f.Anomalous {
		t.Errorf("%s: expected %d anomalous links, got %d", f.Description, f.Anomalous, anomalous)
	}
}

// AssertNoDuplicateNodes verifies every node id is unique.
func AssertNoDuplicateNodes(t *testing.T, g model.GraphModel) {
	t.Helper()
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if seen[n.ID] {
			t.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}
}

// AssertNodeGroup verifies the group of a node.
func AssertNodeGroup(t *testing.T, g model.GraphModel, id string, want model.Group) {
	t.Helper()
	n, ok := g.NodeByID(id)
	if !ok {
		t.Errorf("node %s not found", id)
		return
	}
	if n.Group != want {
		t.Errorf("node %s group = %v, want %v", id, n.Group, want)
	}
}

// AssertLinkExists verifies that at least one link runs from source to target.
func AssertLinkExists(t *testing.T, g model.GraphModel, source, target string) {
	t.Helper()
	for _, l := range g.Links {
		if l.Source == source && l.Target == target {
			return
		}
	}
	t.Errorf("expected link %s -> %s not found", source, target)
}
