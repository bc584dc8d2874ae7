package state

import (
	"testing"
	"time"

	"github.com/signalsfoundry/gridworld-simulator/core"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/kb"
)

var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func newDemoRegistry(t *testing.T) *kb.Registry {
	t.Helper()
	reg := kb.NewRegistry()
	if err := reg.LoadTopology(core.DemoTopology()); err != nil {
		t.Fatalf("LoadTopology(demo) error = %v", err)
	}
	return reg
}

func newDemoWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	opts = append([]Option{WithSupplyPool(1000), WithStartTime(testStart)}, opts...)
	w, err := NewWorld(newDemoRegistry(t), logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewWorld error = %v", err)
	}
	return w
}

func newRootedWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	topo := core.DemoTopology()
	topo.Nodes[0].Source = true
	reg := kb.NewRegistry()
	if err := reg.LoadTopology(topo); err != nil {
		t.Fatalf("LoadTopology error = %v", err)
	}
	opts = append([]Option{WithSupplyPool(2000), WithStartTime(testStart)}, opts...)
	w, err := NewWorld(reg, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewWorld error = %v", err)
	}
	return w
}

func mustStep(t *testing.T, w *World, dt time.Duration) StepReport {
	t.Helper()
	rep, err := w.Step(t.Context(), dt)
	if err != nil {
		t.Fatalf("Step(%s) error = %v", dt, err)
	}
	return rep
}

func mustNode(t *testing.T, snap *Snapshot, name string) NodeState {
	t.Helper()
	n, ok := snap.Node(name)
	if !ok {
		t.Fatalf("node %q missing from snapshot", name)
	}
	return n
}

func mustSegment(t *testing.T, snap *Snapshot, name string) SegmentState {
	t.Helper()
	s, ok := snap.Segment(name)
	if !ok {
		t.Fatalf("segment %q missing from snapshot", name)
	}
	return s
}

func assertInvariants(t *testing.T, snap *Snapshot) {
	t.Helper()
	for _, n := range snap.Nodes {
		if n.Supply > n.Capacity {
			t.Fatalf("tick %d: %s supply %v exceeds capacity %v", snap.Tick, n.Name, n.Supply, n.Capacity)
		}
		want := n.Demand - n.Supply
		if want < 0 {
			want = 0
		}
		if n.Shortfall != want {
			t.Fatalf("tick %d: %s shortfall %v, want max(0, %v-%v)=%v", snap.Tick, n.Name, n.Shortfall, n.Demand, n.Supply, want)
		}
	}
}
