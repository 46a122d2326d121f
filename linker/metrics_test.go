package linker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tetratelabs/wazero"
)

func TestMetrics_CountsSuccessfulInstantiation(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	l := NewWithDefaults(rt)
	pre := &InstancePre{linker: l, graph: nil}

	collectors := l.Metrics()
	if len(collectors) != 2 {
		t.Fatalf("expected 2 collectors, got %d", len(collectors))
	}

	inst, err := pre.NewInstance(ctx)
	if err != nil {
		t.Fatalf("NewInstance error: %v", err)
	}
	defer inst.Close(ctx)

	got := testutil.ToFloat64(l.metrics.total.WithLabelValues("ok"))
	if got != 1 {
		t.Errorf("expected instantiate_total{result=ok}=1, got %v", got)
	}
}

func TestMetrics_DefaultNamespace(t *testing.T) {
	m := newInstanceMetrics("")
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if len(m.collectors()) != 2 {
		t.Fatalf("expected 2 collectors")
	}
}
