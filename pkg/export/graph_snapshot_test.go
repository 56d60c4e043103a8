package export

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
)

func TestSaveGraphSnapshot_SVGAndPNG(t *testing.T) {
	tmp := t.TempDir()
	cases := []struct {
		name   string
		format string
	}{
		{"svg", "graph.svg"},
		{"png", "graph.png"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(tmp, tc.format)
			err := SaveGraphSnapshot(GraphSnapshotOptions{
				Path:  out,
				Title: "Lab flows",
				Graph: sampleGraph(),
			})
			if err != nil {
				t.Fatalf("SaveGraphSnapshot error: %v", err)
			}
			info, err := os.Stat(out)
			if err != nil {
				t.Fatalf("output not created: %v", err)
			}
			if info.Size() == 0 {
				t.Fatalf("output file is empty")
			}
		})
	}
}

func TestSaveGraphSnapshot_InvalidFormat(t *testing.T) {
	err := SaveGraphSnapshot(GraphSnapshotOptions{
		Path:   "graph.txt",
		Format: "bmp",
		Graph:  sampleGraph(),
	})
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSaveGraphSnapshot_DefaultsToSVG(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "graph")
	if err := SaveGraphSnapshot(GraphSnapshotOptions{Path: base, Graph: sampleGraph()}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(base + ".svg"); err != nil {
		t.Fatalf("expected %s.svg: %v", base, err)
	}
}

func TestWriteGraphSnapshot_SVGContent(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteGraphSnapshot(&buf, SnapshotSVG, GraphSnapshotOptions{Title: "Lab flows", Graph: sampleGraph()}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"<svg", "Lab flows",
		"hosts: 3  flows: 3  anomalous: 1",
		"stroke-dasharray:6,4",
		"fill:#ff0000", // alerting client
	} {
		if !strings.Contains(out, want) {
			t.Errorf("SVG missing %q", want)
		}
	}
}

func TestWriteGraphSnapshot_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	opts := GraphSnapshotOptions{Graph: sampleGraph()}
	if err := WriteGraphSnapshot(&a, SnapshotSVG, opts); err != nil {
		t.Fatal(err)
	}
	if err := WriteGraphSnapshot(&b, SnapshotSVG, opts); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("same graph rendered differently")
	}
}

func TestWriteGraphSnapshot_PNGDecodes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteGraphSnapshot(&buf, SnapshotPNG, GraphSnapshotOptions{Graph: sampleGraph(), Preset: "roomy"}); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("invalid PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() < 640 || b.Dy() < 480 {
		t.Errorf("image too small: %v", b)
	}
}

func TestWriteGraphSnapshot_EmptyGraph(t *testing.T) {
	var buf bytes.Buffer
	err := WriteGraphSnapshot(&buf, SnapshotSVG, GraphSnapshotOptions{Graph: encode.RenderableGraph{}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "top talker: n/a") {
		t.Error("empty graph should report no top talker")
	}
}

func TestParseHexColor(t *testing.T) {
	cases := map[string]color.RGBA{
		"#ff0000": {0xff, 0, 0, 0xff},
		"#1f78b4": {0x1f, 0x78, 0xb4, 0xff},
		"#abc":    {0xaa, 0xbb, 0xcc, 0xff},
		"red":     {0x99, 0x99, 0x99, 0xff},
	}
	for in, want := range cases {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("10.0.0.1", 22); got != "10.0.0.1" {
		t.Errorf("short label changed: %q", got)
	}
	if got := truncate("very-long-hostname.example.internal", 12); got != "very-long..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("日本語ホスト", 6); got != "日..." {
		t.Errorf("wide runes: %q", got)
	}
}
