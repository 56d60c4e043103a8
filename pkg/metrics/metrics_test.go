package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLoadAndGraph(t *testing.T) {
	r := NewRegistry()

	r.ObserveLoad(ResultOK)
	r.ObserveLoad(ResultOK)
	r.ObserveLoad(ResultError)
	r.ObserveGraph(3, 5, 1, 2, 1)

	if got := testutil.ToFloat64(r.LoadsTotal.WithLabelValues(ResultOK)); got != 2 {
		t.Errorf("ok loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.GraphNodes); got != 3 {
		t.Errorf("nodes gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.RowsSkipped.WithLabelValues("validation")); got != 2 {
		t.Errorf("validation skips = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.LastLoadSuccess); got == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestTimer(t *testing.T) {
	r := NewRegistry()
	r.Timer(StageParse)()

	if n := testutil.CollectAndCount(r.StageDuration); n != 1 {
		t.Errorf("expected 1 stage series, got %d", n)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.Timer(StageBuild)()
	r.ObserveLoad(ResultOK)
	r.ObserveGraph(1, 1, 0, 0, 0)
}
