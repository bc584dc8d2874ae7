package state

import (
	"time"

	"github.com/signalsfoundry/gridworld-simulator/model"
)

// NodeState is the live per-tick view of a node.
type NodeState struct {
	Name           string
	Capacity       float64
	BaselineDemand float64

	Demand    float64
	Supply    float64
	Shortfall float64
	// Surge is the active surge fraction applied on top of BaselineDemand.
	Surge float64

	Criticality float64
	Elasticity  float64
	Priority    float64
	Critical    bool
	Source      bool

	// Energized is false when the node cannot currently be reached over
	// healthy segments.
	Energized bool
}

// SegmentState is the live per-tick view of a segment.
type SegmentState struct {
	Name   string
	Source string
	Target string
	Weight float64

	State       model.FaultState
	FaultReason string
	FaultedAt   time.Time
	FaultTick   uint64

	// Flow is the supply attributed through the segment on the last tick.
	Flow       float64
	Overloaded bool
}

// Faulted reports whether the segment is currently out of service.
func (s SegmentState) Faulted() bool {
	return s.State == model.SegmentFaulted
}

// Snapshot is a fully materialised, independent copy of the world. Nothing
// in it aliases live state.
type Snapshot struct {
	Tick    uint64
	SimTime time.Time
	Elapsed time.Duration

	Nodes    []NodeState
	Segments []SegmentState

	TotalDemand    float64
	TotalSupply    float64
	TotalShortfall float64
	SupplyPool     float64

	// Pending lists queued events not yet consumed by a step.
	Pending []PendingEvent
}

// Node looks up a node by name.
func (s *Snapshot) Node(name string) (NodeState, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeState{}, false
}

// Segment looks up a segment by name.
func (s *Snapshot) Segment(name string) (SegmentState, bool) {
	for _, seg := range s.Segments {
		if seg.Name == name {
			return seg, true
		}
	}
	return SegmentState{}, false
}

// FaultedSegments counts segments currently faulted.
func (s *Snapshot) FaultedSegments() int {
	n := 0
	for _, seg := range s.Segments {
		if seg.Faulted() {
			n++
		}
	}
	return n
}

// Snapshot returns a consistent point-in-time copy of the world. It holds
// the read lock for the whole copy, so it never observes a half-applied
// step.
func (w *World) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := &Snapshot{
		Tick:       w.tick,
		SimTime:    w.simTime,
		Elapsed:    w.elapsed,
		Nodes:      w.nodesLocked(),
		Segments:   make([]SegmentState, 0, len(w.segmentOrder)),
		SupplyPool: w.supplyPool,
	}
	for _, n := range snap.Nodes {
		snap.TotalDemand += n.Demand
		snap.TotalSupply += n.Supply
		snap.TotalShortfall += n.Shortfall
	}
	for _, name := range w.segmentOrder {
		snap.Segments = append(snap.Segments, *w.segments[name])
	}

	w.pendingMu.Lock()
	snap.Pending = w.pending.list()
	w.pendingMu.Unlock()

	return snap
}

// nodesLocked copies node state in name order. Caller must hold w.mu.
func (w *World) nodesLocked() []NodeState {
	out := make([]NodeState, 0, len(w.nodeOrder))
	for _, name := range w.nodeOrder {
		out = append(out, *w.nodes[name])
	}
	return out
}

func (w *World) faultedLocked() int {
	n := 0
	for _, s := range w.segments {
		if s.Faulted() {
			n++
		}
	}
	return n
}
