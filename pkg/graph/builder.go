// Package graph folds flow records into a host graph.
//
// Each distinct address becomes one node, in the order it is first seen. The
// role of a node is fixed by the row that introduced it: an address first seen
// as a client stays a CLIENT node with that row's event count even when later
// rows use it as a server. Every valid row becomes its own link; repeated
// client/server pairs are kept as parallel links, not merged.
package graph

import (
	"fmt"
	"strings"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// ValidationError is a record that cannot form a link. It is skipped.
type ValidationError struct {
	Line  int
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: missing %s", e.Line, e.Field)
}

// Options configures BuildWithOptions.
type Options struct {
	// WarningHandler receives a *ValidationError for every rejected record.
	WarningHandler func(error)
}

// Report summarizes one build.
type Report struct {
	Rows      int // records offered
	Skipped   int // records rejected
	Anomalous int // links whose byte sum is not a number
}

// Build folds records into a graph model, dropping invalid records silently.
func Build(records []model.FlowRecord) model.GraphModel {
	g, _ := BuildWithOptions(records, Options{})
	return g
}

// BuildWithOptions folds records into a graph model in a single pass.
func BuildWithOptions(records []model.FlowRecord, opts Options) (model.GraphModel, Report) {
	warn := opts.WarningHandler
	if warn == nil {
		warn = func(error) {}
	}

	seen := make(map[string]struct{})
	g := model.GraphModel{
		Nodes: make([]model.Node, 0),
		Links: make([]model.Link, 0, len(records)),
	}
	report := Report{Rows: len(records)}

	for i := range records {
		rec := &records[i]

		client := strings.TrimSpace(rec.ClientAddr)
		server := strings.TrimSpace(rec.ServerAddr)
		if client == "" {
			warn(&ValidationError{Line: rec.Line, Field: "client address"})
			report.Skipped++
			continue
		}
		if server == "" {
			warn(&ValidationError{Line: rec.Line, Field: "server address"})
			report.Skipped++
			continue
		}

		sum := model.Quantity(rec.SumBytes())

		if _, ok := seen[client]; !ok {
			g.Nodes = append(g.Nodes, model.Node{
				ID:     client,
				Label:  client,
				Group:  model.GroupClient,
				Events: model.Quantity(rec.Events.Float()),
			})
			seen[client] = struct{}{}
		}
		if _, ok := seen[server]; !ok {
			g.Nodes = append(g.Nodes, model.Node{
				ID:     server,
				Label:  server,
				Group:  model.GroupServer,
				Events: 0,
			})
			seen[server] = struct{}{}
		}

		g.Links = append(g.Links, model.Link{Source: client, Target: server, SumBytes: sum})
		if sum.IsNaN() {
			report.Anomalous++
		}
	}

	return g, report
}
