package export

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
)

// DefaultPollInterval is how often a live page checks for a newer graph.
const DefaultPollInterval = 2 * time.Second

// InteractiveGraphOptions configures HTML graph generation.
type InteractiveGraphOptions struct {
	Title      string
	LibraryURL string // 3d-force-graph script URL
	Background string // CSS color; empty keeps the renderer default

	// ReleaseOnDragEnd unpins a node when a drag ends. By default a dragged
	// node stays where it was dropped until it is unpinned with a right click.
	ReleaseOnDragEnd bool

	// DataURL makes the page fetch its graph from a server instead of
	// embedding it, and poll for updates every PollInterval.
	DataURL      string
	LoadURL      string // upload endpoint for the file picker; live pages only
	PollInterval time.Duration

	Path string // Output path for GenerateInteractiveGraphHTML
}

type pageData struct {
	Title            string
	LibraryURL       string
	Background       string
	ReleaseOnDragEnd bool
	DataURL          string
	LoadURL          string
	PollMillis       int64
	Graph            template.JS
	Nodes            int
	Links            int
}

// RenderInteractiveHTML writes a page that shows g in a 3D force-directed
// view. Physics, camera and node positions belong to the browser; the page
// only applies the encoded colors, radii, widths and particles.
func RenderInteractiveHTML(w io.Writer, g encode.RenderableGraph, opts InteractiveGraphOptions) error {
	if opts.LibraryURL == "" {
		return fmt.Errorf("renderer library URL is required")
	}
	if g.Nodes == nil {
		g.Nodes = []encode.RenderNode{}
	}
	if g.Links == nil {
		g.Links = []encode.RenderLink{}
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph data: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = "Network Flows"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return pageTemplate.Execute(w, pageData{
		Title:            title,
		LibraryURL:       opts.LibraryURL,
		Background:       opts.Background,
		ReleaseOnDragEnd: opts.ReleaseOnDragEnd,
		DataURL:          opts.DataURL,
		LoadURL:          opts.LoadURL,
		PollMillis:       poll.Milliseconds(),
		Graph:            template.JS(data),
		Nodes:            len(g.Nodes),
		Links:            len(g.Links),
	})
}

// GenerateInteractiveGraphHTML writes a self-contained page for g to
// opts.Path and returns the path written. The file is replaced atomically so
// a browser reloading it never sees a partial page.
func GenerateInteractiveGraphHTML(g encode.RenderableGraph, opts InteractiveGraphOptions) (string, error) {
	outputPath := opts.Path
	if outputPath == "" {
		outputPath = "flowgraph.html"
	}
	if !strings.HasSuffix(strings.ToLower(outputPath), ".html") {
		outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".html"
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".flowgraph-*.html")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := RenderInteractiveHTML(tmp, g, opts); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// HTMLHost renders each published graph to a static HTML file.
type HTMLHost struct {
	opts InteractiveGraphOptions
	log  *zap.Logger
}

// NewHTMLHost returns a host writing to opts.Path.
func NewHTMLHost(opts InteractiveGraphOptions, log *zap.Logger) *HTMLHost {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTMLHost{opts: opts, log: log}
}

func (h *HTMLHost) Render(ctx context.Context, g encode.RenderableGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := GenerateInteractiveGraphHTML(g, h.opts)
	if err != nil {
		return err
	}
	h.log.Debug("wrote interactive graph", zap.String("path", path),
		zap.Int("nodes", len(g.Nodes)), zap.Int("links", len(g.Links)))
	return nil
}

var pageTemplate = template.Must(template.New("graph").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { margin: 0; font-family: ui-monospace, monospace; }
  #bar { position: absolute; top: 8px; left: 8px; z-index: 2; padding: 6px 10px;
         background: rgba(255,255,255,0.85); border-radius: 6px; font-size: 12px; }
  #bar .err { color: #c00; }
</style>
<script src="{{.LibraryURL}}"></script>
</head>
<body>
<div id="bar">
  <strong>{{.Title}}</strong>
  <span id="counts">{{.Nodes}} hosts · {{.Links}} flows</span>
  {{if .LoadURL}}<input id="upload" type="file" accept=".csv">{{end}}
  <span id="status"></span>
</div>
<div id="graph"></div>
<script>
(function () {
  const releaseOnDragEnd = {{.ReleaseOnDragEnd}};
  const dataURL = {{.DataURL}};
  const loadURL = {{.LoadURL}};
  const pollMillis = {{.PollMillis}};
  const inline = {{.Graph}};

  const pin = n => { n.fx = n.x; n.fy = n.y; n.fz = n.z; };
  const unpin = n => { n.fx = undefined; n.fy = undefined; n.fz = undefined; };

  const graph = ForceGraph3D()(document.getElementById('graph'))
    .nodeId('id')
    .nodeLabel('label')
    .nodeColor('color')
    .nodeRelSize(1)
    .nodeVal(n => Math.pow(n.radius, 3))
    .linkColor(l => l.anomalous ? '#ff0000' : 'rgba(255,255,255,0.6)')
    .linkWidth(l => l.width === null ? 0.5 : l.width)
    .linkDirectionalParticles('particles')
    .linkDirectionalParticleSpeed('particleSpeed')
    .onNodeDrag(pin)
    .onNodeDragEnd(n => { if (releaseOnDragEnd) { unpin(n); } else { pin(n); } })
    .onNodeRightClick(unpin);
  {{if .Background}}graph.backgroundColor({{.Background}});{{end}}

  const counts = document.getElementById('counts');
  const status = document.getElementById('status');
  const show = g => {
    graph.graphData(g);
    counts.textContent = g.nodes.length + ' hosts · ' + g.links.length + ' flows';
  };

  if (!dataURL) {
    show(inline);
    return;
  }

  let generation = -1;
  const refresh = async () => {
    try {
      const res = await fetch(dataURL, { cache: 'no-store' });
      if (!res.ok) { throw new Error(res.status + ' ' + res.statusText); }
      const body = await res.json();
      status.textContent = '';
      if (body.generation !== generation) {
        generation = body.generation;
        show(body.graph);
      }
    } catch (e) {
      status.innerHTML = '<span class="err"></span>';
      status.firstChild.textContent = String(e);
    }
  };
  refresh();
  setInterval(refresh, pollMillis);

  const upload = document.getElementById('upload');
  if (upload && loadURL) {
    upload.addEventListener('change', async ev => {
      const file = ev.target.files[0];
      if (!file) { return; }
      const res = await fetch(loadURL, { method: 'POST', headers: { 'Content-Type': 'text/csv' }, body: file });
      if (!res.ok) {
        status.innerHTML = '<span class="err"></span>';
        status.firstChild.textContent = await res.text();
        return;
      }
      refresh();
    });
  }
})();
</script>
</body>
</html>
`))
