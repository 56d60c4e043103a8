// Package metrics provides load-pipeline instrumentation for flowgraph.
//
// Usage:
//
//	func load() {
//	    defer reg.Timer(metrics.StageParse)()
//	    // ... stage code
//	}
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages.
const (
	StageParse  = "parse"
	StageBuild  = "build"
	StageEncode = "encode"
	StageRender = "render"
)

// Load results.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultSuperseded = "superseded"
)

// Registry holds all metrics for one flowgraph process.
type Registry struct {
	LoadsTotal      *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RowsSkipped     *prometheus.CounterVec
	AnomalousLinks  prometheus.Counter
	GraphNodes      prometheus.Gauge
	GraphLinks      prometheus.Gauge
	LastLoadSuccess prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		registry: reg,
		LoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_loads_total",
			Help: "Flow file loads by result",
		}, []string{"result"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowgraph_stage_duration_seconds",
			Help:    "Duration of each load pipeline stage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"stage"}),
		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_rows_skipped_total",
			Help: "Rows dropped during a load, by reason",
		}, []string{"reason"}),
		AnomalousLinks: f.NewCounter(prometheus.CounterOpts{
			Name: "flowgraph_anomalous_links_total",
			Help: "Links whose byte sum was not a number",
		}),
		GraphNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "flowgraph_graph_nodes",
			Help: "Nodes in the currently published graph",
		}),
		GraphLinks: f.NewGauge(prometheus.GaugeOpts{
			Name: "flowgraph_graph_links",
			Help: "Links in the currently published graph",
		}),
		LastLoadSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "flowgraph_last_load_success_timestamp_seconds",
			Help: "Unix time of the last successful load",
		}),
	}
}

// Prometheus returns the underlying registry for exposition.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Timer returns a function that records the elapsed time of stage when called.
// A nil registry yields a no-op.
func (r *Registry) Timer(stage string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// ObserveLoad records the outcome of one load.
func (r *Registry) ObserveLoad(result string) {
	if r == nil {
		return
	}
	r.LoadsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		r.LastLoadSuccess.SetToCurrentTime()
	}
}

// ObserveGraph records the size of a published graph and its skipped rows.
func (r *Registry) ObserveGraph(nodes, links, parseSkipped, validationSkipped, anomalous int) {
	if r == nil {
		return
	}
	r.GraphNodes.Set(float64(nodes))
	r.GraphLinks.Set(float64(links))
	r.RowsSkipped.WithLabelValues("parse").Add(float64(parseSkipped))
	r.RowsSkipped.WithLabelValues("validation").Add(float64(validationSkipped))
	r.AnomalousLinks.Add(float64(anomalous))
}
