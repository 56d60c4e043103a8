// Package encode derives display attributes for a flow graph.
//
// All rules are pure functions of a node or link plus the encoder's config,
// so encoding the same model twice yields the same result.
package encode

import (
	"math"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// SchemePaired is the categorical palette force-graph renderers use for
// automatic coloring.
var SchemePaired = []string{
	"#a6cee3", "#1f78b4", "#b2df8a", "#33a02c", "#fb9a99", "#e31a1c",
	"#fdbf6f", "#ff7f00", "#cab2d6", "#6a3d9a", "#ffff99", "#b15928",
}

// DefaultAlertColor marks nodes that raised events.
const DefaultAlertColor = "#ff0000"

// Config holds the visual encoding constants.
type Config struct {
	HighlightIDs    []string
	HighlightRadius float64
	DefaultRadius   float64
	WidthScale      float64 // link width = sqrt(sumBytes) / WidthScale
	Particles       int
	ParticleSpeed   float64
	AlertColor      string
	Palette         []string
}

// DefaultConfig mirrors the stock renderer settings.
func DefaultConfig() Config {
	return Config{
		HighlightRadius: 10,
		DefaultRadius:   5,
		WidthScale:      500,
		Particles:       2,
		ParticleSpeed:   0.008,
		AlertColor:      DefaultAlertColor,
		Palette:         SchemePaired,
	}
}

// RenderNode is a node plus its display attributes.
type RenderNode struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Group       model.Group    `json:"group"`
	Events      model.Quantity `json:"events"`
	Color       string         `json:"color"`
	Radius      float64        `json:"radius"`
	Highlighted bool           `json:"highlighted,omitempty"`
	Alert       bool           `json:"alert,omitempty"`
}

// RenderLink is a link plus its display attributes. Width is NaN (JSON null)
// when the byte sum is anomalous.
type RenderLink struct {
	Source        string         `json:"source"`
	Target        string         `json:"target"`
	SumBytes      model.Quantity `json:"sumBytes"`
	Width         model.Quantity `json:"width"`
	Particles     int            `json:"particles"`
	ParticleSpeed float64        `json:"particleSpeed"`
	Anomalous     bool           `json:"anomalous,omitempty"`
}

// RenderableGraph is what a Graph Host consumes.
type RenderableGraph struct {
	Nodes []RenderNode `json:"nodes"`
	Links []RenderLink `json:"links"`
}

// Encoder applies a Config to graph models.
type Encoder struct {
	cfg       Config
	highlight map[string]struct{}
}

// NewEncoder returns an encoder. Zero-valued constants fall back to DefaultConfig.
func NewEncoder(cfg Config) *Encoder {
	def := DefaultConfig()
	if cfg.HighlightRadius <= 0 {
		cfg.HighlightRadius = def.HighlightRadius
	}
	if cfg.DefaultRadius <= 0 {
		cfg.DefaultRadius = def.DefaultRadius
	}
	if cfg.WidthScale <= 0 {
		cfg.WidthScale = def.WidthScale
	}
	if cfg.ParticleSpeed <= 0 {
		cfg.ParticleSpeed = def.ParticleSpeed
	}
	if cfg.Particles < 0 {
		cfg.Particles = 0
	}
	if cfg.AlertColor == "" {
		cfg.AlertColor = def.AlertColor
	}
	if len(cfg.Palette) == 0 {
		cfg.Palette = def.Palette
	}

	hl := make(map[string]struct{}, len(cfg.HighlightIDs))
	for _, id := range cfg.HighlightIDs {
		hl[id] = struct{}{}
	}
	return &Encoder{cfg: cfg, highlight: hl}
}

// Config returns the effective configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Encode derives display attributes for every node and link.
func (e *Encoder) Encode(g model.GraphModel) RenderableGraph {
	groupColors := e.GroupColors(g)

	out := RenderableGraph{
		Nodes: make([]RenderNode, 0, len(g.Nodes)),
		Links: make([]RenderLink, 0, len(g.Links)),
	}
	for _, n := range g.Nodes {
		color := groupColors[n.Group]
		alert := IsAlert(n)
		if alert {
			color = e.cfg.AlertColor
		}
		out.Nodes = append(out.Nodes, RenderNode{
			ID:          n.ID,
			Label:       n.Label,
			Group:       n.Group,
			Events:      n.Events,
			Color:       color,
			Radius:      e.NodeRadius(n),
			Highlighted: e.Highlighted(n.ID),
			Alert:       alert,
		})
	}
	for _, l := range g.Links {
		out.Links = append(out.Links, RenderLink{
			Source:        l.Source,
			Target:        l.Target,
			SumBytes:      l.SumBytes,
			Width:         model.Quantity(e.LinkWidth(l)),
			Particles:     e.cfg.Particles,
			ParticleSpeed: e.cfg.ParticleSpeed,
			Anomalous:     l.Anomalous(),
		})
	}
	return out
}

// GroupColors assigns palette entries to groups in order of first appearance.
func (e *Encoder) GroupColors(g model.GraphModel) map[model.Group]string {
	colors := make(map[model.Group]string, 2)
	for _, n := range g.Nodes {
		if _, ok := colors[n.Group]; ok {
			continue
		}
		colors[n.Group] = e.cfg.Palette[len(colors)%len(e.cfg.Palette)]
	}
	return colors
}

// NodeColor returns the color for n given the model's group coloring.
func (e *Encoder) NodeColor(n model.Node, groupColors map[model.Group]string) string {
	if IsAlert(n) {
		return e.cfg.AlertColor
	}
	return groupColors[n.Group]
}

// IsAlert reports whether a node has recorded events. NaN never alerts.
func IsAlert(n model.Node) bool {
	return float64(n.Events) > 0
}

// Highlighted reports whether id is in the highlight set.
func (e *Encoder) Highlighted(id string) bool {
	_, ok := e.highlight[id]
	return ok
}

// NodeRadius returns the sphere radius for n.
func (e *Encoder) NodeRadius(n model.Node) float64 {
	if e.Highlighted(n.ID) {
		return e.cfg.HighlightRadius
	}
	return e.cfg.DefaultRadius
}

// LinkWidth scales the byte sum by its square root. Negative sums clamp to
// zero width; an anomalous sum stays NaN.
func (e *Encoder) LinkWidth(l model.Link) float64 {
	sum := float64(l.SumBytes)
	if math.IsNaN(sum) {
		return math.NaN()
	}
	if sum < 0 {
		sum = 0
	}
	return math.Sqrt(sum) / e.cfg.WidthScale
}
