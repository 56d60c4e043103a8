package export

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	"github.com/ajstarks/svgo"
	"github.com/mattn/go-runewidth"
	"golang.org/x/image/font/basicfont"

	"github.com/vanderheijden86/flowgraph/pkg/analysis"
	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// Snapshot formats.
const (
	SnapshotSVG = "svg"
	SnapshotPNG = "png"
)

// GraphSnapshotOptions controls graph snapshot export behaviour.
type GraphSnapshotOptions struct {
	Path    string                 // Output path; format inferred from extension when Format empty
	Format  string                 // "svg" or "png" (case-insensitive). If empty, inferred from Path.
	Title   string                 // Optional title rendered in summary block
	Preset  string                 // Layout preset: "compact" (default) or "roomy"
	Graph   encode.RenderableGraph // Encoded graph to draw
	Summary *analysis.Summary      // Optional; computed from Graph when nil
}

// SaveGraphSnapshot renders a static picture of the graph (SVG or PNG) with a
// short traffic summary. Hosts sit on a circle in first-seen order so the same
// input always produces the same picture.
func SaveGraphSnapshot(opts GraphSnapshotOptions) error {
	format, path, err := resolveSnapshotFormat(opts.Format, opts.Path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGraphSnapshot(file, format, opts); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteGraphSnapshot renders the snapshot to w in the given format.
func WriteGraphSnapshot(w io.Writer, format string, opts GraphSnapshotOptions) error {
	layout := buildLayout(opts)
	switch strings.ToLower(format) {
	case SnapshotSVG:
		return renderSVGToWriter(w, layout)
	case SnapshotPNG:
		return renderPNGToWriter(w, layout)
	default:
		return fmt.Errorf("unsupported format %q (want svg or png)", format)
	}
}

func resolveSnapshotFormat(format, path string) (string, string, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".svg":
			format = SnapshotSVG
		case ".png":
			format = SnapshotPNG
		default:
			format = SnapshotSVG
			if path != "" && filepath.Ext(path) == "" {
				path += ".svg"
			}
		}
	}
	if format != SnapshotSVG && format != SnapshotPNG {
		return "", "", fmt.Errorf("unsupported format %q (want svg or png)", format)
	}
	return format, path, nil
}

// --- layout computation ----------------------------------------------------

type layoutNode struct {
	ID    string
	Label string
	Group model.Group
	Fill  color.RGBA
	R     float64
	X, Y  float64
	Alert bool
}

type layoutEdge struct {
	From, To  string
	Stroke    float64
	Anomalous bool
}

type layoutResult struct {
	Nodes   []layoutNode
	Edges   []layoutEdge
	Width   int
	Height  int
	Header  float64
	Summary summaryInfo
}

type summaryInfo struct {
	Title     string
	NodeCount int
	EdgeCount int
	Traffic   string
	TopTalker string
	Anomalous int
}

func buildLayout(opts GraphSnapshotOptions) layoutResult {
	const (
		padding      = 36.0
		headerHeight = 120.0
		nodeScale    = 2.0 // encoded radii are sized for a zoomable 3D view
		spacingCmp   = 34.0
		spacingRoomy = 52.0
		minRing      = 160.0
		labelMargin  = 90.0
	)

	spacing := spacingCmp
	if strings.EqualFold(opts.Preset, "roomy") {
		spacing = spacingRoomy
	}

	n := len(opts.Graph.Nodes)
	ring := math.Max(minRing, float64(n)*spacing/(2*math.Pi))
	size := int(2*(ring+labelMargin+padding))
	width := max(size, 640)
	height := max(size+int(headerHeight), 480)
	cx := float64(width) / 2
	cy := headerHeight + (float64(height)-headerHeight)/2

	nodes := make([]layoutNode, 0, n)
	for i, rn := range opts.Graph.Nodes {
		angle := -math.Pi/2 + 2*math.Pi*float64(i)/math.Max(1, float64(n))
		x, y := cx, cy
		if n > 1 {
			x = cx + ring*math.Cos(angle)
			y = cy + ring*math.Sin(angle)
		}
		nodes = append(nodes, layoutNode{
			ID:    rn.ID,
			Label: truncate(rn.Label, 22),
			Group: rn.Group,
			Fill:  parseHexColor(rn.Color),
			R:     rn.Radius * nodeScale,
			X:     x,
			Y:     y,
			Alert: rn.Alert,
		})
	}

	edges := make([]layoutEdge, 0, len(opts.Graph.Links))
	for _, l := range opts.Graph.Links {
		edges = append(edges, layoutEdge{
			From:      l.Source,
			To:        l.Target,
			Stroke:    snapshotStroke(l),
			Anomalous: l.Anomalous,
		})
	}

	summary := opts.Summary
	if summary == nil {
		s := summarizeRendered(opts.Graph)
		summary = &s
	}
	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = "Network Flows"
	}
	top := "n/a"
	if summary.TopTalker != "" {
		top = fmt.Sprintf("%s (%s)", truncate(summary.TopTalker, 28), formatBytes(summary.TopTalkerBytes))
	}

	return layoutResult{
		Nodes:  nodes,
		Edges:  edges,
		Width:  width,
		Height: height,
		Header: headerHeight,
		Summary: summaryInfo{
			Title:     title,
			NodeCount: len(nodes),
			EdgeCount: len(edges),
			Traffic:   formatBytes(summary.TotalBytes),
			TopTalker: top,
			Anomalous: summary.Anomalous,
		},
	}
}

// summarizeRendered rebuilds the model view of an encoded graph for analysis.
func summarizeRendered(g encode.RenderableGraph) analysis.Summary {
	m := model.GraphModel{
		Nodes: make([]model.Node, 0, len(g.Nodes)),
		Links: make([]model.Link, 0, len(g.Links)),
	}
	for _, n := range g.Nodes {
		m.Nodes = append(m.Nodes, model.Node{ID: n.ID, Label: n.Label, Group: n.Group, Events: n.Events})
	}
	for _, l := range g.Links {
		m.Links = append(m.Links, model.Link{Source: l.Source, Target: l.Target, SumBytes: l.SumBytes})
	}
	return analysis.Summarize(m)
}

// snapshotStroke maps an encoded link width to a visible stroke width.
func snapshotStroke(l encode.RenderLink) float64 {
	if l.Anomalous {
		return 1.5
	}
	return math.Min(8, math.Max(1, float64(l.Width)*4))
}

// --- rendering -------------------------------------------------------------

var (
	colorStroke   = color.RGBA{0x22, 0x22, 0x22, 0xff}
	colorEdge     = color.RGBA{0x6b, 0x80, 0xbf, 0xb0}
	colorAlert    = color.RGBA{0xff, 0x00, 0x00, 0xff}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colorSubtle   = color.RGBA{0x66, 0x66, 0x66, 0xff}
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG = color.RGBA{0xf3, 0xf4, 0xf6, 0xff}
	colorLegendBG = color.RGBA{0xee, 0xee, 0xee, 0xff}
)

func renderPNGToWriter(w io.Writer, layout layoutResult) error {
	dc := gg.NewContext(layout.Width, layout.Height)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(16, 16, float64(layout.Width)-32, layout.Header-24, 10)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)

	drawSummaryBlock(dc, layout)
	drawLegend(dc, layout)

	nodePos := make(map[string]layoutNode, len(layout.Nodes))
	for _, n := range layout.Nodes {
		nodePos[n.ID] = n
	}
	for _, e := range layout.Edges {
		from, to := nodePos[e.From], nodePos[e.To]
		if e.Anomalous {
			dc.SetColor(colorAlert)
			dc.SetDash(6, 4)
		} else {
			dc.SetColor(colorEdge)
			dc.SetDash()
		}
		dc.SetLineWidth(e.Stroke)
		if e.From == e.To {
			dc.DrawCircle(from.X, from.Y-from.R-6, 6)
			dc.Stroke()
			continue
		}
		dc.DrawLine(from.X, from.Y, to.X, to.Y)
		dc.Stroke()
		ax, ay, dx, dy := arrowAt(from, to)
		drawArrow(dc, ax, ay, dx, dy)
	}
	dc.SetDash()

	for _, n := range layout.Nodes {
		drawNode(dc, n)
	}

	return dc.EncodePNG(w)
}

func renderSVGToWriter(w io.Writer, layout layoutResult) error {
	canvas := svg.New(w)
	canvas.Start(layout.Width, layout.Height)
	canvas.Rect(0, 0, layout.Width, layout.Height, fmt.Sprintf("fill:%s", css(colorBackdrop)))
	canvas.Roundrect(16, 16, layout.Width-32, int(layout.Header-24), 10, 10, fmt.Sprintf("fill:%s", css(colorHeaderBG)))

	drawSummaryBlockSVG(canvas, layout)
	drawLegendSVG(canvas, layout)

	nodePos := make(map[string]layoutNode, len(layout.Nodes))
	for _, n := range layout.Nodes {
		nodePos[n.ID] = n
	}

	for _, e := range layout.Edges {
		from, to := nodePos[e.From], nodePos[e.To]
		style := fmt.Sprintf("stroke:%s;stroke-opacity:0.7;stroke-width:%.1f", css(colorEdge), e.Stroke)
		arrowFill := css(colorEdge)
		if e.Anomalous {
			style = fmt.Sprintf("stroke:%s;stroke-width:%.1f;stroke-dasharray:6,4", css(colorAlert), e.Stroke)
			arrowFill = css(colorAlert)
		}
		if e.From == e.To {
			canvas.Circle(int(from.X), int(from.Y-from.R-6), 6, style+";fill:none")
			continue
		}
		canvas.Line(int(from.X), int(from.Y), int(to.X), int(to.Y), style)
		ax, ay, dx, dy := arrowAt(from, to)
		px, py := -dy*4, dx*4
		canvas.Polygon(
			[]int{int(ax), int(ax + dx*8 + px), int(ax + dx*8 - px)},
			[]int{int(ay), int(ay + dy*8 + py), int(ay + dy*8 - py)},
			fmt.Sprintf("fill:%s", arrowFill),
		)
	}

	for _, n := range layout.Nodes {
		x, y, r := int(n.X), int(n.Y), int(math.Round(n.R))
		stroke := css(colorStroke)
		if n.Alert {
			stroke = css(colorAlert)
		}
		canvas.Circle(x, y, r, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1.2", css(n.Fill), stroke))
		canvas.Text(x, y+r+14, n.Label,
			fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace;text-anchor:middle", css(colorText)))
	}

	canvas.End()
	return nil
}

// arrowAt returns the point where an edge meets the target's rim and the unit
// vector pointing back toward the source.
func arrowAt(from, to layoutNode) (x, y, dx, dy float64) {
	vx, vy := from.X-to.X, from.Y-to.Y
	d := math.Hypot(vx, vy)
	if d == 0 {
		return to.X, to.Y, 0, 0
	}
	dx, dy = vx/d, vy/d
	return to.X + dx*to.R, to.Y + dy*to.R, dx, dy
}

func drawNode(dc *gg.Context, n layoutNode) {
	dc.SetColor(n.Fill)
	dc.DrawCircle(n.X, n.Y, n.R)
	dc.Fill()
	if n.Alert {
		dc.SetColor(colorAlert)
	} else {
		dc.SetColor(colorStroke)
	}
	dc.SetLineWidth(1.2)
	dc.DrawCircle(n.X, n.Y, n.R)
	dc.Stroke()

	dc.SetColor(colorText)
	dc.DrawStringAnchored(n.Label, n.X, n.Y+n.R+10, 0.5, 0.5)
}

func drawArrow(dc *gg.Context, x, y, dx, dy float64) {
	px, py := -dy*4, dx*4
	dc.NewSubPath()
	dc.MoveTo(x, y)
	dc.LineTo(x+dx*8+px, y+dy*8+py)
	dc.LineTo(x+dx*8-px, y+dy*8-py)
	dc.ClosePath()
	dc.Fill()
}

func summaryLines(layout layoutResult) []string {
	s := layout.Summary
	return []string{
		fmt.Sprintf("hosts: %d  flows: %d  anomalous: %d", s.NodeCount, s.EdgeCount, s.Anomalous),
		fmt.Sprintf("traffic: %s", s.Traffic),
		fmt.Sprintf("top talker: %s", s.TopTalker),
	}
}

func drawSummaryBlock(dc *gg.Context, layout layoutResult) {
	dc.SetColor(colorText)
	dc.DrawStringAnchored(layout.Summary.Title, 32, 44, 0, 0.5)
	dc.SetColor(colorSubtle)
	for i, line := range summaryLines(layout) {
		dc.DrawStringAnchored(line, 32, 64+float64(i)*20, 0, 0.5)
	}
}

func drawLegend(dc *gg.Context, layout layoutResult) {
	boxW := 180.0
	boxH := 80.0
	x := float64(layout.Width) - boxW - 20
	y := 24.0
	dc.SetColor(colorLegendBG)
	dc.DrawRoundedRectangle(x, y, boxW, boxH, 10)
	dc.Fill()
	dc.SetColor(colorStroke)
	dc.SetLineWidth(1)
	dc.DrawRoundedRectangle(x, y, boxW, boxH, 10)
	dc.Stroke()

	dc.SetColor(colorText)
	dc.DrawStringAnchored("Legend", x+12, y+18, 0, 0.5)
	for i, row := range legendRows(layout) {
		drawLegendRow(dc, x+12, y+36+float64(i)*16, row.c, row.label)
	}
}

type legendRow struct {
	c     color.RGBA
	label string
}

// legendRows lists the group colors in use, followed by the alert marker.
func legendRows(layout layoutResult) []legendRow {
	var rows []legendRow
	seen := make(map[model.Group]bool)
	for _, n := range layout.Nodes {
		if n.Alert || seen[n.Group] {
			continue
		}
		seen[n.Group] = true
		rows = append(rows, legendRow{n.Fill, n.Group.String()})
	}
	return append(rows, legendRow{colorAlert, "events > 0 / NaN bytes"})
}

func drawLegendRow(dc *gg.Context, x, y float64, c color.RGBA, label string) {
	dc.SetColor(c)
	dc.DrawRoundedRectangle(x, y-8, 14, 14, 3)
	dc.Fill()
	dc.SetColor(colorStroke)
	dc.DrawRoundedRectangle(x, y-8, 14, 14, 3)
	dc.Stroke()
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(label, x+20, y, 0, 0.5)
}

func drawSummaryBlockSVG(canvas *svg.SVG, layout layoutResult) {
	canvas.Text(32, 44, layout.Summary.Title, fmt.Sprintf("fill:%s;font-size:16px;font-family:monospace;font-weight:bold", css(colorText)))
	for i, line := range summaryLines(layout) {
		canvas.Text(32, 64+i*20, line, fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorSubtle)))
	}
}

func drawLegendSVG(canvas *svg.SVG, layout layoutResult) {
	boxW := 180
	boxH := 80
	x := layout.Width - boxW - 20
	y := 24
	canvas.Roundrect(x, y, boxW, boxH, 10, 10, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(colorLegendBG), css(colorStroke)))
	canvas.Text(x+12, y+18, "Legend", fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace;font-weight:bold", css(colorText)))
	for i, row := range legendRows(layout) {
		drawLegendRowSVG(canvas, x+12, y+36+i*16, row.c, row.label)
	}
}

func drawLegendRowSVG(canvas *svg.SVG, x, y int, c color.RGBA, label string) {
	canvas.Roundrect(x, y-8, 14, 14, 3, 3, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(c), css(colorStroke)))
	canvas.Text(x+20, y, label, fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorSubtle)))
}

// --- helpers ---------------------------------------------------------------

// truncate shortens s to max display columns; wide runes count twice.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// parseHexColor reads #rgb or #rrggbb; anything else is mid gray.
func parseHexColor(s string) color.RGBA {
	c := color.RGBA{0x99, 0x99, 0x99, 0xff}
	s = strings.TrimPrefix(s, "#")
	var r, g, b uint8
	switch len(s) {
	case 6:
		if _, err := fmt.Sscanf(s, "%2x%2x%2x", &r, &g, &b); err != nil {
			return c
		}
	case 3:
		if _, err := fmt.Sscanf(s, "%1x%1x%1x", &r, &g, &b); err != nil {
			return c
		}
		r, g, b = r*17, g*17, b*17
	default:
		return c
	}
	return color.RGBA{r, g, b, 0xff}
}
