//go:build ignore

// generate_testdata.go creates standard flow CSV datasets for benchmarking.
// Usage: go run scripts/generate_testdata.go
//
// Creates:
//
//	testdata/benchmark/small.csv   (100 flows)
//	testdata/benchmark/medium.csv  (1000 flows)
//	testdata/benchmark/large.csv   (10000 flows)
//	testdata/benchmark/huge.csv    (100000 flows)
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanderheijden86/flowgraph/pkg/testutil"
)

type datasetSpec struct {
	name string
	rows int
	desc string
}

var datasets = []datasetSpec{
	{"small", 100, "100 flows over ~20 hosts"},
	{"medium", 1000, "1000 flows over ~100 hosts"},
	{"large", 10000, "10000 flows over ~500 hosts"},
	{"huge", 100000, "100000 flows over ~2000 hosts"},
}

func main() {
	outputDir := "testdata/benchmark"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	for _, ds := range datasets {
		fmt.Printf("Generating %s dataset (%s)...\n", ds.name, ds.desc)

		gen := testutil.New(testutil.GeneratorConfig{
			Seed:        int64(ds.rows), // Reproducible per-size
			AnomalyRate: 0.005,
			EventRate:   0.05,
		})
		f := gen.Random(ds.rows, hostCount(ds.rows))
		csv := testutil.ToCSV(f.Records)

		outputPath := filepath.Join(outputDir, ds.name+".csv")
		if err := os.WriteFile(outputPath, []byte(csv), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outputPath, err)
			os.Exit(1)
		}

		fmt.Printf("  Written %s (%d bytes, %d hosts, %d anomalous)\n", outputPath, len(csv), f.Hosts, f.Anomalous)
	}

	fmt.Println("\nDone! Test datasets created in", outputDir)
}

// hostCount keeps the graph sparse as the row count grows.
func hostCount(rows int) int {
	switch {
	case rows <= 100:
		return 20
	case rows <= 1000:
		return 100
	case rows <= 10000:
		return 500
	default:
		return 2000
	}
}
