package state

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/model"
)

// EventKind tags a PendingEvent.
type EventKind int

const (
	KindDemandSurge EventKind = iota
	KindSegmentFault
	KindSegmentRecover
)

func (k EventKind) String() string {
	switch k {
	case KindDemandSurge:
		return "demand_surge"
	case KindSegmentFault:
		return "segment_fault"
	case KindSegmentRecover:
		return "segment_recover"
	default:
		return "unknown"
	}
}

// Event outcomes reported to the metrics recorder.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// DefaultFaultReason is used when a fault is injected without a reason.
const DefaultFaultReason = "unspecified"

// PendingEvent is a perturbation waiting for the next step. Node and
// Fraction are set for surges; Segment and Reason for faults.
type PendingEvent struct {
	Kind     EventKind
	Node     string
	Fraction float64
	Segment  string
	Reason   string
}

// eventQueue holds at most one surge per node and one fault per segment,
// each kind in first-enqueue order.
type eventQueue struct {
	surges     []PendingEvent
	surgeIndex map[string]int
	faults     []PendingEvent
	faultIndex map[string]int
}

func newEventQueue() eventQueue {
	return eventQueue{
		surgeIndex: make(map[string]int),
		faultIndex: make(map[string]int),
	}
}

func (q *eventQueue) pushSurge(ev PendingEvent) {
	if i, ok := q.surgeIndex[ev.Node]; ok {
		q.surges[i] = ev
		return
	}
	q.surgeIndex[ev.Node] = len(q.surges)
	q.surges = append(q.surges, ev)
}

func (q *eventQueue) pushFault(ev PendingEvent) {
	if i, ok := q.faultIndex[ev.Segment]; ok {
		q.faults[i] = ev
		return
	}
	q.faultIndex[ev.Segment] = len(q.faults)
	q.faults = append(q.faults, ev)
}

func (q *eventQueue) dropFault(segment string) {
	i, ok := q.faultIndex[segment]
	if !ok {
		return
	}
	q.faults = append(q.faults[:i], q.faults[i+1:]...)
	delete(q.faultIndex, segment)
	for j := i; j < len(q.faults); j++ {
		q.faultIndex[q.faults[j].Segment] = j
	}
}

// drain returns surges then faults and empties the queue.
func (q *eventQueue) drain() (surges, faults []PendingEvent) {
	surges, faults = q.surges, q.faults
	*q = newEventQueue()
	return surges, faults
}

func (q *eventQueue) list() []PendingEvent {
	out := make([]PendingEvent, 0, len(q.surges)+len(q.faults))
	out = append(out, q.surges...)
	out = append(out, q.faults...)
	return out
}

// InjectDemandSurge queues a fractional demand change for node. It takes
// effect on the next step: demand becomes baseline*(1+fraction). Negative
// fractions reduce demand; anything below -1 would make demand negative and
// is rejected.
func (w *World) InjectDemandSurge(ctx context.Context, node string, fraction float64) error {
	ctx, span := w.tracer.Start(ctx, "World/InjectDemandSurge", trace.WithAttributes(
		attribute.String("node", node),
		attribute.Float64("fraction", fraction),
	))
	defer span.End()

	err := w.validateSurge(node, fraction)
	if err != nil {
		w.recordEvent(KindDemandSurge, OutcomeRejected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.pendingMu.Lock()
	w.pending.pushSurge(PendingEvent{Kind: KindDemandSurge, Node: node, Fraction: fraction})
	w.pendingMu.Unlock()

	w.recordEvent(KindDemandSurge, OutcomeAccepted)
	logging.LoggerFromContext(ctx, w.log).Debug(ctx, "demand surge queued",
		logging.String("node", node),
		logging.Float64("fraction", fraction),
	)
	return nil
}

func (w *World) validateSurge(node string, fraction float64) error {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return fmt.Errorf("%w: surge fraction must be finite", ErrInvalidArgument)
	}
	if fraction < -1 {
		return fmt.Errorf("%w: surge fraction %v would make demand negative", ErrInvalidArgument, fraction)
	}
	if fraction > w.maxSurge {
		return fmt.Errorf("%w: surge fraction %v exceeds limit %v", ErrInvalidArgument, fraction, w.maxSurge)
	}
	if !w.registry.HasNode(node) {
		return fmt.Errorf("%w: %q", ErrUnknownNode, node)
	}
	return nil
}

// InjectSegmentFault marks segment faulted immediately. A fault is a
// physical event, so unlike a surge it is visible to the very next
// snapshot; it is also queued so the next step reports it.
func (w *World) InjectSegmentFault(ctx context.Context, segment, reason string) error {
	ctx, span := w.tracer.Start(ctx, "World/InjectSegmentFault", trace.WithAttributes(
		attribute.String("segment", segment),
		attribute.String("reason", reason),
	))
	defer span.End()

	if reason == "" {
		reason = DefaultFaultReason
	}

	w.mu.Lock()
	seg, ok := w.segments[segment]
	if !ok {
		w.mu.Unlock()
		err := fmt.Errorf("%w: %q", ErrUnknownSegment, segment)
		w.recordEvent(KindSegmentFault, OutcomeRejected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	seg.State = model.SegmentFaulted
	seg.FaultReason = reason
	seg.FaultedAt = w.simTime
	seg.FaultTick = w.tick
	seg.Flow = 0
	seg.Overloaded = false

	w.pendingMu.Lock()
	w.pending.pushFault(PendingEvent{Kind: KindSegmentFault, Segment: segment, Reason: reason})
	w.pendingMu.Unlock()
	w.mu.Unlock()

	w.recordEvent(KindSegmentFault, OutcomeAccepted)
	logging.LoggerFromContext(ctx, w.log).Info(ctx, "segment faulted",
		logging.String("segment", segment),
		logging.String("reason", reason),
	)
	return nil
}

// RecoverSegment clears a fault immediately. Recovering a healthy segment
// is a no-op.
func (w *World) RecoverSegment(ctx context.Context, segment string) error {
	ctx, span := w.tracer.Start(ctx, "World/RecoverSegment", trace.WithAttributes(
		attribute.String("segment", segment),
	))
	defer span.End()

	w.mu.Lock()
	seg, ok := w.segments[segment]
	if !ok {
		w.mu.Unlock()
		err := fmt.Errorf("%w: %q", ErrUnknownSegment, segment)
		w.recordEvent(KindSegmentRecover, OutcomeRejected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	wasFaulted := seg.Faulted()
	seg.State = model.SegmentHealthy
	seg.FaultReason = ""
	seg.FaultedAt = time.Time{}
	seg.FaultTick = 0

	w.pendingMu.Lock()
	w.pending.dropFault(segment)
	w.pendingMu.Unlock()
	w.mu.Unlock()

	w.recordEvent(KindSegmentRecover, OutcomeAccepted)
	if wasFaulted {
		logging.LoggerFromContext(ctx, w.log).Info(ctx, "segment recovered",
			logging.String("segment", segment),
		)
	}
	return nil
}

func (w *World) recordEvent(kind EventKind, outcome string) {
	if w.metrics != nil {
		w.metrics.RecordEvent(kind, outcome)
	}
}
