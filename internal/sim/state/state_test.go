package state

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/kb"
	"github.com/signalsfoundry/gridworld-simulator/model"
)

func TestNewWorldSeedsInitialValues(t *testing.T) {
	w := newDemoWorld(t)
	snap := w.Snapshot()

	if snap.Tick != 0 || !snap.SimTime.Equal(testStart) {
		t.Fatalf("fresh world tick=%d sim_time=%v", snap.Tick, snap.SimTime)
	}
	h := mustNode(t, snap, "hospital_south")
	if h.Demand != 800 || h.Supply != 0 || h.Shortfall != 800 {
		t.Fatalf("hospital_south initial state = %+v", h)
	}
	if len(snap.Segments) != 4 || snap.FaultedSegments() != 0 {
		t.Fatalf("segments = %+v", snap.Segments)
	}
}

func TestNewWorldDefaultsPoolToCapacity(t *testing.T) {
	w, err := NewWorld(newDemoRegistry(t), nil)
	if err != nil {
		t.Fatalf("NewWorld error = %v", err)
	}
	if got := w.SupplyPool(); got != 1800 {
		t.Fatalf("SupplyPool = %v, want sum of capacities 1800", got)
	}
}

func TestNewWorldRejectsBadOptions(t *testing.T) {
	reg := newDemoRegistry(t)
	cases := map[string]Option{
		"decay out of range": WithSurgePolicy(SurgeDecay, 1.5),
		"negative pool":      WithSupplyPool(-1),
		"negative max surge": WithMaxSurgeFraction(-2),
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewWorld(reg, logging.Noop(), opt); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("NewWorld error = %v, want ErrInvalidArgument", err)
			}
		})
	}
	if _, err := NewWorld(nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("NewWorld(nil) error = %v", err)
	}
}

func TestStepAdvancesTickAndClock(t *testing.T) {
	w := newDemoWorld(t)
	dts := []time.Duration{time.Second, 250 * time.Millisecond, 3 * time.Second}

	var total time.Duration
	for i, dt := range dts {
		rep := mustStep(t, w, dt)
		total += dt
		if rep.Tick != uint64(i+1) {
			t.Fatalf("report tick = %d, want %d", rep.Tick, i+1)
		}
		snap := w.Snapshot()
		if snap.Tick != uint64(i+1) {
			t.Fatalf("snapshot tick = %d, want %d", snap.Tick, i+1)
		}
		if want := testStart.Add(total); !snap.SimTime.Equal(want) {
			t.Fatalf("sim time = %v, want %v", snap.SimTime, want)
		}
		if snap.Elapsed != total {
			t.Fatalf("elapsed = %v, want %v", snap.Elapsed, total)
		}
	}
}

func TestStepRejectsNonPositiveDT(t *testing.T) {
	w := newDemoWorld(t)
	before := w.Snapshot()
	for _, dt := range []time.Duration{0, -time.Second} {
		if _, err := w.Step(t.Context(), dt); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Step(%s) error = %v, want ErrInvalidArgument", dt, err)
		}
	}
	if diff := cmp.Diff(before, w.Snapshot()); diff != "" {
		t.Fatalf("rejected step mutated state (-before +after):\n%s", diff)
	}
}

func TestInvariantsHoldUnderRandomSurges(t *testing.T) {
	w := newDemoWorld(t)
	rng := rand.New(rand.NewSource(42))
	names := []string{"hospital_south", "transit_hub", "shelter_west", "mall_lowpri"}
	segs := []string{"segA", "segB", "segC", "segD"}

	for i := 0; i < 200; i++ {
		node := names[rng.Intn(len(names))]
		if err := w.InjectDemandSurge(t.Context(), node, rng.Float64()*3-1); err != nil {
			t.Fatalf("InjectDemandSurge error = %v", err)
		}
		if rng.Intn(10) == 0 {
			seg := segs[rng.Intn(len(segs))]
			if rng.Intn(2) == 0 {
				_ = w.InjectSegmentFault(t.Context(), seg, "chaos")
			} else {
				_ = w.RecoverSegment(t.Context(), seg)
			}
		}
		mustStep(t, w, time.Second)
		snap := w.Snapshot()
		assertInvariants(t, snap)
		if snap.TotalSupply > w.SupplyPool()+1e-6 {
			t.Fatalf("tick %d: total supply %v exceeds pool %v", snap.Tick, snap.TotalSupply, w.SupplyPool())
		}
	}
}

func TestFaultVisibleBeforeNextStep(t *testing.T) {
	w := newDemoWorld(t)
	mustStep(t, w, time.Second)

	if err := w.InjectSegmentFault(t.Context(), "segA", "test"); err != nil {
		t.Fatalf("InjectSegmentFault error = %v", err)
	}
	snap := w.Snapshot()
	seg := mustSegment(t, snap, "segA")
	if !seg.Faulted() || seg.FaultReason != "test" {
		t.Fatalf("segA = %+v, want faulted with reason test", seg)
	}
	if seg.FaultTick != 1 || !seg.FaultedAt.Equal(testStart.Add(time.Second)) {
		t.Fatalf("segA fault stamp = tick %d at %v", seg.FaultTick, seg.FaultedAt)
	}
	if snap.Tick != 1 {
		t.Fatalf("fault injection advanced tick to %d", snap.Tick)
	}

	rep := mustStep(t, w, time.Second)
	if len(rep.AppliedFaults) != 1 || rep.AppliedFaults[0].Segment != "segA" {
		t.Fatalf("AppliedFaults = %+v", rep.AppliedFaults)
	}
	if !mustSegment(t, w.Snapshot(), "segA").Faulted() {
		t.Fatalf("segA cleared by step; faults persist until recovery")
	}
}

func TestFaultDefaultReason(t *testing.T) {
	w := newDemoWorld(t)
	if err := w.InjectSegmentFault(t.Context(), "segB", ""); err != nil {
		t.Fatalf("InjectSegmentFault error = %v", err)
	}
	if got := mustSegment(t, w.Snapshot(), "segB").FaultReason; got != DefaultFaultReason {
		t.Fatalf("reason = %q, want %q", got, DefaultFaultReason)
	}
}

func TestSurgeAppliedOnlyAfterStep(t *testing.T) {
	w := newDemoWorld(t)
	mustStep(t, w, time.Second)

	if err := w.InjectDemandSurge(t.Context(), "transit_hub", 0.5); err != nil {
		t.Fatalf("InjectDemandSurge error = %v", err)
	}
	snap := w.Snapshot()
	if got := mustNode(t, snap, "transit_hub").Demand; got != 200 {
		t.Fatalf("demand before step = %v, want 200", got)
	}
	if len(snap.Pending) != 1 || snap.Pending[0].Kind != KindDemandSurge {
		t.Fatalf("pending = %+v", snap.Pending)
	}

	rep := mustStep(t, w, time.Second)
	if len(rep.AppliedSurges) != 1 {
		t.Fatalf("AppliedSurges = %+v", rep.AppliedSurges)
	}
	snap = w.Snapshot()
	n := mustNode(t, snap, "transit_hub")
	if n.Demand != 300 || n.Surge != 0.5 {
		t.Fatalf("transit_hub after step = %+v, want demand 300", n)
	}
	if len(snap.Pending) != 0 {
		t.Fatalf("queue not drained: %+v", snap.Pending)
	}

	// The surge persists on later ticks.
	mustStep(t, w, time.Second)
	if got := mustNode(t, w.Snapshot(), "transit_hub").Demand; got != 300 {
		t.Fatalf("demand two steps later = %v, want 300", got)
	}
}

func TestLaterSurgeReplacesPending(t *testing.T) {
	w := newDemoWorld(t)
	for _, f := range []float64{0.1, 0.9, 0.25} {
		if err := w.InjectDemandSurge(t.Context(), "shelter_west", f); err != nil {
			t.Fatalf("InjectDemandSurge error = %v", err)
		}
	}
	if err := w.InjectDemandSurge(t.Context(), "transit_hub", 1); err != nil {
		t.Fatalf("InjectDemandSurge error = %v", err)
	}

	pending := w.Snapshot().Pending
	if len(pending) != 2 || pending[0].Node != "shelter_west" || pending[0].Fraction != 0.25 {
		t.Fatalf("pending = %+v, want shelter_west(0.25) then transit_hub", pending)
	}
}

func TestUnknownNodeSurgeLeavesStateUnchanged(t *testing.T) {
	w := newDemoWorld(t)
	mustStep(t, w, time.Second)
	before := w.Snapshot()

	err := w.InjectDemandSurge(t.Context(), "does_not_exist", 0.2)
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("InjectDemandSurge error = %v, want ErrUnknownNode", err)
	}
	if diff := cmp.Diff(before, w.Snapshot()); diff != "" {
		t.Fatalf("failed injection mutated state (-before +after):\n%s", diff)
	}
}

func TestInvalidSurgeFractions(t *testing.T) {
	w := newDemoWorld(t, WithMaxSurgeFraction(5))
	before := w.Snapshot()
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1.01, 5.5} {
		if err := w.InjectDemandSurge(t.Context(), "transit_hub", f); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("InjectDemandSurge(%v) error = %v, want ErrInvalidArgument", f, err)
		}
	}
	if diff := cmp.Diff(before, w.Snapshot()); diff != "" {
		t.Fatalf("rejected surges mutated state:\n%s", diff)
	}

	// -1 is the floor: demand drops to zero but never below.
	if err := w.InjectDemandSurge(t.Context(), "transit_hub", -1); err != nil {
		t.Fatalf("InjectDemandSurge(-1) error = %v", err)
	}
	mustStep(t, w, time.Second)
	if got := mustNode(t, w.Snapshot(), "transit_hub").Demand; got != 0 {
		t.Fatalf("demand after -1 surge = %v, want 0", got)
	}
}

func TestUnknownSegmentFault(t *testing.T) {
	w := newDemoWorld(t)
	before := w.Snapshot()
	if err := w.InjectSegmentFault(t.Context(), "segZ", "x"); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("InjectSegmentFault error = %v, want ErrUnknownSegment", err)
	}
	if err := w.RecoverSegment(t.Context(), "segZ"); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("RecoverSegment error = %v, want ErrUnknownSegment", err)
	}
	if diff := cmp.Diff(before, w.Snapshot()); diff != "" {
		t.Fatalf("failed fault injection mutated state:\n%s", diff)
	}
}

func TestRecoverSegment(t *testing.T) {
	w := newDemoWorld(t)
	if err := w.InjectSegmentFault(t.Context(), "segC", "storm"); err != nil {
		t.Fatalf("InjectSegmentFault error = %v", err)
	}
	if err := w.RecoverSegment(t.Context(), "segC"); err != nil {
		t.Fatalf("RecoverSegment error = %v", err)
	}
	snap := w.Snapshot()
	seg := mustSegment(t, snap, "segC")
	if seg.Faulted() || seg.FaultReason != "" || !seg.FaultedAt.IsZero() {
		t.Fatalf("segC after recovery = %+v", seg)
	}
	if len(snap.Pending) != 0 {
		t.Fatalf("recovered fault still pending: %+v", snap.Pending)
	}
	// Healthy segments recover as a no-op.
	if err := w.RecoverSegment(t.Context(), "segA"); err != nil {
		t.Fatalf("RecoverSegment(healthy) error = %v", err)
	}
}

func TestSurgeDecayPolicy(t *testing.T) {
	w := newDemoWorld(t, WithSurgePolicy(SurgeDecay, 0.5))
	if err := w.InjectDemandSurge(t.Context(), "transit_hub", 1); err != nil {
		t.Fatalf("InjectDemandSurge error = %v", err)
	}

	want := []float64{400, 300, 250}
	for i, d := range want {
		mustStep(t, w, time.Second)
		if got := mustNode(t, w.Snapshot(), "transit_hub").Demand; got != d {
			t.Fatalf("step %d demand = %v, want %v", i+1, got, d)
		}
	}
}

func TestParseSurgePolicy(t *testing.T) {
	for in, want := range map[string]SurgePolicy{"": SurgePersist, "persist": SurgePersist, "DECAY": SurgeDecay} {
		got, err := ParseSurgePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseSurgePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSurgePolicy("explode"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ParseSurgePolicy(explode) error = %v", err)
	}
}

func TestRootedIsolationZeroesSupply(t *testing.T) {
	w := newRootedWorld(t)
	mustStep(t, w, time.Second)
	if got := mustNode(t, w.Snapshot(), "transit_hub").Supply; got != 200 {
		t.Fatalf("transit_hub supply = %v, want 200", got)
	}

	for _, seg := range []string{"segA", "segB"} {
		if err := w.InjectSegmentFault(t.Context(), seg, "cut"); err != nil {
			t.Fatalf("InjectSegmentFault(%s) error = %v", seg, err)
		}
	}
	mustStep(t, w, time.Second)
	snap := w.Snapshot()
	transit := mustNode(t, snap, "transit_hub")
	if transit.Energized || transit.Supply != 0 || transit.Shortfall != 200 {
		t.Fatalf("isolated transit_hub = %+v, want dark with full shortfall", transit)
	}
	if !mustNode(t, snap, "shelter_west").Energized {
		t.Fatalf("shelter_west should still be fed around the ring")
	}

	// Flow: hospital feeds mall over segD, mall feeds shelter over segC.
	segD := mustSegment(t, snap, "segD")
	segC := mustSegment(t, snap, "segC")
	if segC.Flow != 50 || segD.Flow != 50 {
		t.Fatalf("flows segC=%v segD=%v, want 50/50", segC.Flow, segD.Flow)
	}
	if f := mustSegment(t, snap, "segA").Flow; f != 0 {
		t.Fatalf("faulted segA flow = %v", f)
	}
}

func TestOverloadedSegment(t *testing.T) {
	reg := kb.NewRegistry()
	topo := &model.Topology{
		Nodes: []*model.Node{
			{Name: "sub", Capacity: 0, Source: true},
			{Name: "load", Capacity: 100, BaselineDemand: 100, Priority: 1},
		},
		Segments: []*model.Segment{{Name: "feeder", Source: "sub", Target: "load", Weight: 60}},
	}
	if err := reg.LoadTopology(topo); err != nil {
		t.Fatalf("LoadTopology error = %v", err)
	}
	w, err := NewWorld(reg, nil, WithSupplyPool(100))
	if err != nil {
		t.Fatalf("NewWorld error = %v", err)
	}
	mustStep(t, w, time.Second)
	seg := mustSegment(t, w.Snapshot(), "feeder")
	if seg.Flow != 100 || !seg.Overloaded {
		t.Fatalf("feeder = %+v, want flow 100 overloaded", seg)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	w := newDemoWorld(t)
	snap := w.Snapshot()
	snap.Nodes[0].Demand = -42
	snap.Segments[0].FaultReason = "mutated"

	again := w.Snapshot()
	if again.Nodes[0].Demand == -42 || again.Segments[0].FaultReason == "mutated" {
		t.Fatalf("snapshot aliases live state")
	}

	old := w.Snapshot()
	if err := w.InjectDemandSurge(t.Context(), "transit_hub", 1); err != nil {
		t.Fatalf("InjectDemandSurge error = %v", err)
	}
	mustStep(t, w, time.Second)
	if old.Tick != 0 || mustNode(t, old, "transit_hub").Demand != 200 {
		t.Fatalf("old snapshot changed after step: %+v", old)
	}
}

func TestReset(t *testing.T) {
	w := newDemoWorld(t)
	_ = w.InjectDemandSurge(t.Context(), "transit_hub", 1)
	mustStep(t, w, time.Second)
	_ = w.InjectSegmentFault(t.Context(), "segA", "x")
	_ = w.InjectDemandSurge(t.Context(), "shelter_west", 1)

	w.Reset(t.Context())
	snap := w.Snapshot()
	if snap.Tick != 0 || snap.FaultedSegments() != 0 || len(snap.Pending) != 0 {
		t.Fatalf("after reset tick=%d faulted=%d pending=%d", snap.Tick, snap.FaultedSegments(), len(snap.Pending))
	}
	if n := mustNode(t, snap, "transit_hub"); n.Surge != 0 || n.Demand != 200 {
		t.Fatalf("transit_hub after reset = %+v", n)
	}
	if w.SupplyPool() != 1000 {
		t.Fatalf("reset dropped configured pool: %v", w.SupplyPool())
	}
}

// TestEndToEndScenario walks the reference scenario: a four-node ring with a
// critical hospital.
func TestEndToEndScenario(t *testing.T) {
	w := newDemoWorld(t)

	mustStep(t, w, time.Second)
	snap := w.Snapshot()
	if got := mustNode(t, snap, "hospital_south").Shortfall; got != 0 {
		t.Fatalf("hospital_south shortfall = %v, want 0", got)
	}
	assertInvariants(t, snap)

	if err := w.InjectSegmentFault(t.Context(), "segA", "test"); err != nil {
		t.Fatalf("InjectSegmentFault error = %v", err)
	}
	if !mustSegment(t, w.Snapshot(), "segA").Faulted() {
		t.Fatalf("segA not faulted in immediate snapshot")
	}

	mustStep(t, w, time.Second)
	if got := w.Tick(); got != 2 {
		t.Fatalf("tick = %d, want 2", got)
	}
	if !w.SimTime().Equal(testStart.Add(2 * time.Second)) {
		t.Fatalf("sim time = %v", w.SimTime())
	}
}
