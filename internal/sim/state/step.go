package state

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gridworld-simulator/core"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
)

// surgeEpsilon is the magnitude below which a decaying surge snaps to zero.
const surgeEpsilon = 1e-6

// StepReport summarises one completed tick.
type StepReport struct {
	Tick    uint64
	SimTime time.Time
	DT      time.Duration

	AppliedSurges []PendingEvent
	AppliedFaults []PendingEvent

	TotalDemand    float64
	TotalSupply    float64
	TotalShortfall float64
	Energized      int

	// Duration is the wall-clock time spent inside the step.
	Duration time.Duration
}

// Step advances the world by one tick of length dt. It drains the event
// queue (surges, then faults), recomputes demand, works out which nodes are
// reachable, allocates the supply pool and recomputes shortfall.
//
// dt must be positive; otherwise Step fails with ErrInvalidArgument and the
// world is untouched. On well-formed input it never fails.
func (w *World) Step(ctx context.Context, dt time.Duration) (StepReport, error) {
	if dt <= 0 {
		return StepReport{}, fmt.Errorf("%w: step dt must be positive, got %s", ErrInvalidArgument, dt)
	}
	ctx, span := w.tracer.Start(ctx, "World/Step", trace.WithAttributes(
		attribute.Int64("dt_ms", dt.Milliseconds()),
	))
	defer span.End()

	began := time.Now()

	w.mu.Lock()

	w.pendingMu.Lock()
	surges, faults := w.pending.drain()
	w.pendingMu.Unlock()

	w.applySurgesLocked(surges)
	report := w.recomputeLocked()

	w.tick++
	w.simTime = w.simTime.Add(dt)
	w.elapsed += dt

	report.Tick = w.tick
	report.SimTime = w.simTime
	report.DT = dt
	report.AppliedSurges = surges
	report.AppliedFaults = faults
	report.Duration = time.Since(began)

	var nodes []NodeState
	faulted := 0
	if w.metrics != nil {
		nodes = w.nodesLocked()
		faulted = w.faultedLocked()
	}
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.RecordStep(report, nodes, faulted)
	}

	span.SetAttributes(
		attribute.Int64("tick", int64(report.Tick)),
		attribute.Float64("total_shortfall", report.TotalShortfall),
	)
	logging.LoggerFromContext(ctx, w.log).Debug(ctx, "world stepped",
		logging.Uint64("tick", report.Tick),
		logging.Duration("dt", dt),
		logging.Int("surges", len(surges)),
		logging.Int("faults", len(faults)),
		logging.Float64("total_demand", report.TotalDemand),
		logging.Float64("total_supply", report.TotalSupply),
		logging.Float64("total_shortfall", report.TotalShortfall),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

// applySurgesLocked ages existing surges under the decay policy and then
// installs the freshly drained ones, in enqueue order. Caller must hold w.mu.
func (w *World) applySurgesLocked(surges []PendingEvent) {
	if w.surgePolicy == SurgeDecay {
		for _, n := range w.nodes {
			if n.Surge == 0 {
				continue
			}
			n.Surge *= w.surgeDecay
			if n.Surge < surgeEpsilon && n.Surge > -surgeEpsilon {
				n.Surge = 0
			}
		}
	}
	for _, ev := range surges {
		n, ok := w.nodes[ev.Node]
		if !ok {
			// The node set is fixed after bootstrap and surges are
			// validated on enqueue, so this only trips after a Reset
			// raced an injection.
			continue
		}
		n.Surge = ev.Fraction
	}
}

// recomputeLocked runs demand, reachability, allocation and shortfall for
// the current node and segment state. Caller must hold w.mu.
func (w *World) recomputeLocked() StepReport {
	loads := make([]core.NodeLoad, 0, len(w.nodeOrder))
	for _, name := range w.nodeOrder {
		n := w.nodes[name]
		n.Demand = n.BaselineDemand * (1 + n.Surge)
		if n.Demand < 0 {
			n.Demand = 0
		}
		loads = append(loads, core.NodeLoad{
			Name:        n.Name,
			Capacity:    n.Capacity,
			Demand:      n.Demand,
			Criticality: n.Criticality,
			Elasticity:  n.Elasticity,
			Priority:    n.Priority,
			Critical:    n.Critical,
			Source:      n.Source,
		})
	}

	links := make([]core.Link, 0, len(w.segmentOrder))
	for _, name := range w.segmentOrder {
		s := w.segments[name]
		links = append(links, core.Link{Name: s.Name, A: s.Source, B: s.Target, Healthy: !s.Faulted()})
	}

	reach := core.Energized(loads, links)
	alloc := w.allocator.Allocate(loads, reach.Energized, w.supplyPool)
	flow := reach.AttributeFlow(alloc)

	var report StepReport
	for _, name := range w.nodeOrder {
		n := w.nodes[name]
		n.Energized = reach.Energized[name]
		n.Supply = alloc[name]
		n.Shortfall = core.Shortfall(n.Demand, n.Supply)

		report.TotalDemand += n.Demand
		report.TotalSupply += n.Supply
		report.TotalShortfall += n.Shortfall
		if n.Energized {
			report.Energized++
		}
	}
	for _, name := range w.segmentOrder {
		s := w.segments[name]
		if s.Faulted() {
			s.Flow = 0
			s.Overloaded = false
			continue
		}
		s.Flow = flow[name]
		s.Overloaded = s.Weight > 0 && s.Flow > s.Weight
	}
	return report
}
