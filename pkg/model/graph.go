package model

import (
	"fmt"
	"math"
	"strconv"
)

// Group is the role a node was first seen in.
type Group int

const (
	GroupClient Group = 1
	GroupServer Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupClient:
		return "CLIENT"
	case GroupServer:
		return "SERVER"
	default:
		return fmt.Sprintf("Group(%d)", int(g))
	}
}

// Quantity is a float that marshals NaN and infinities as JSON null.
type Quantity float64

// IsNaN reports whether q is not a number.
func (q Quantity) IsNaN() bool { return math.IsNaN(float64(q)) }

// MarshalJSON implements json.Marshaler.
func (q Quantity) MarshalJSON() ([]byte, error) {
	f := float64(q)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler; null reads back as NaN.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*q = Quantity(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*q = Quantity(f)
	return nil
}

// Node is a graph vertex for one distinct network address.
type Node struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Group  Group    `json:"group"`
	Events Quantity `json:"events"`
}

// Link is one observed flow from a client to a server.
type Link struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	SumBytes Quantity `json:"sumBytes"`
}

// Anomalous reports whether the byte sum could not be computed.
func (l Link) Anomalous() bool { return l.SumBytes.IsNaN() }

// GraphModel is the node/link structure produced from one batch of records.
// Nodes are in first-seen order, links in row order.
type GraphModel struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// NodeByID returns the node with the given id.
func (g GraphModel) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Empty reports whether the model has no nodes.
func (g GraphModel) Empty() bool { return len(g.Nodes) == 0 }

// Validate checks that node ids are unique and every link endpoint exists.
func (g GraphModel) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d has empty id", i)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for i, l := range g.Links {
		if _, ok := ids[l.Source]; !ok {
			return fmt.Errorf("link %d: unknown source %q", i, l.Source)
		}
		if _, ok := ids[l.Target]; !ok {
			return fmt.Errorf("link %d: unknown target %q", i, l.Target)
		}
	}
	return nil
}
