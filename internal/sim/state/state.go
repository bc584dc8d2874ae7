// Package state owns the live simulation world: per-tick node and segment
// values, the pending event queue, the stepper and the snapshot reader.
package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gridworld-simulator/core"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/kb"
	"github.com/signalsfoundry/gridworld-simulator/model"
)

// Re-export registry sentinel errors so callers can depend on state.*
// instead of kb.* directly if they want to.
var (
	// ErrUnknownNode indicates a referenced node does not exist.
	ErrUnknownNode = kb.ErrUnknownNode
	// ErrUnknownSegment indicates a referenced segment does not exist.
	ErrUnknownSegment = kb.ErrUnknownSegment
	// ErrDuplicateKey indicates a name collision at bootstrap.
	ErrDuplicateKey = kb.ErrDuplicateKey
	// ErrInvalidArgument indicates malformed or out-of-range input.
	ErrInvalidArgument = kb.ErrInvalidArgument
)

const tracerName = "github.com/signalsfoundry/gridworld-simulator/internal/sim/state"

// DefaultMaxSurgeFraction bounds how far a single surge may raise demand.
const DefaultMaxSurgeFraction = 10.0

// SurgePolicy controls what happens to an applied surge on later ticks.
type SurgePolicy int

const (
	// SurgePersist keeps a surge until a newer surge for the same node
	// replaces it. A fraction of zero clears it.
	SurgePersist SurgePolicy = iota
	// SurgeDecay multiplies the active surge by the decay factor each tick.
	SurgeDecay
)

func (p SurgePolicy) String() string {
	switch p {
	case SurgePersist:
		return "persist"
	case SurgeDecay:
		return "decay"
	default:
		return "unknown"
	}
}

// ParseSurgePolicy maps "persist" or "decay" to a SurgePolicy.
func ParseSurgePolicy(s string) (SurgePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "persist":
		return SurgePersist, nil
	case "decay":
		return SurgeDecay, nil
	default:
		return SurgePersist, fmt.Errorf("%w: unknown surge policy %q", ErrInvalidArgument, s)
	}
}

// MetricsRecorder receives per-step and per-event observations.
type MetricsRecorder interface {
	RecordStep(report StepReport, nodes []NodeState, faultedSegments int)
	RecordEvent(kind EventKind, outcome string)
}

// World is the single source of truth for one running grid simulation.
// It is constructed explicitly and shared by the scheduling loop and the
// request handlers.
type World struct {
	// mu guards nodes, segments, tick and the clock. Step, fault injection
	// and recovery take it exclusively; Snapshot takes it shared. Lock order
	// is mu -> pendingMu.
	mu sync.RWMutex

	registry  *kb.Registry
	allocator *core.Allocator

	nodes        map[string]*NodeState
	segments     map[string]*SegmentState
	nodeOrder    []string
	segmentOrder []string

	tick    uint64
	start   time.Time
	simTime time.Time
	elapsed time.Duration

	supplyPool  float64
	surgePolicy SurgePolicy
	surgeDecay  float64
	maxSurge    float64

	// pendingMu guards the event queue so surge enqueues do not wait on a
	// running step.
	pendingMu sync.Mutex
	pending   eventQueue

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// Option customises World construction.
type Option func(*World)

// WithSupplyPool sets the aggregate supply available per tick. Without it
// the pool is the sum of node capacities.
func WithSupplyPool(pool float64) Option {
	return func(w *World) {
		w.supplyPool = pool
	}
}

// WithSurgePolicy selects the surge lifecycle. decay is only used by
// SurgeDecay and must be in [0,1).
func WithSurgePolicy(p SurgePolicy, decay float64) Option {
	return func(w *World) {
		w.surgePolicy = p
		w.surgeDecay = decay
	}
}

// WithMaxSurgeFraction caps the surge fraction accepted by the injector.
func WithMaxSurgeFraction(max float64) Option {
	return func(w *World) {
		w.maxSurge = max
	}
}

// WithStartTime pins the simulation clock origin.
func WithStartTime(t time.Time) Option {
	return func(w *World) {
		w.start = t
	}
}

// WithAllocator replaces the default allocator.
func WithAllocator(a *core.Allocator) Option {
	return func(w *World) {
		if a != nil {
			w.allocator = a
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(w *World) {
		w.metrics = m
	}
}

// NewWorld builds the live state from a bootstrapped registry. Registry
// inconsistencies are reported here so that Step never has to fail on them.
func NewWorld(reg *kb.Registry, log logging.Logger, opts ...Option) (*World, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidArgument)
	}
	if log == nil {
		log = logging.Noop()
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	w := &World{
		registry:  reg,
		allocator: core.NewAllocator(),
		start:     time.Now().UTC(),
		maxSurge:  DefaultMaxSurgeFraction,
		log:       log,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	if w.surgePolicy == SurgeDecay && (w.surgeDecay < 0 || w.surgeDecay >= 1) {
		return nil, fmt.Errorf("%w: surge decay %v must be within [0,1)", ErrInvalidArgument, w.surgeDecay)
	}
	if w.maxSurge < 0 {
		return nil, fmt.Errorf("%w: max surge fraction %v is negative", ErrInvalidArgument, w.maxSurge)
	}
	if w.supplyPool < 0 {
		return nil, fmt.Errorf("%w: supply pool %v is negative", ErrInvalidArgument, w.supplyPool)
	}

	w.resetLocked()
	return w, nil
}

// Registry exposes the static topology the world was built from.
func (w *World) Registry() *kb.Registry {
	return w.registry
}

// SupplyPool returns the aggregate supply distributed on every tick.
func (w *World) SupplyPool() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.supplyPool
}

// Tick returns the number of completed steps.
func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// SimTime returns the simulation clock.
func (w *World) SimTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.simTime
}

// Reset returns the world to its bootstrap values: tick zero, initial
// demand and supply, no surges, no faults, empty queue.
func (w *World) Reset(ctx context.Context) {
	ctx, reqLog := logging.WithRequestLogger(ctx, w.log)

	w.mu.Lock()
	tick := w.tick
	w.resetLocked()
	w.mu.Unlock()

	reqLog.Info(ctx, "world reset",
		logging.String("operation", "reset"),
		logging.Uint64("previous_tick", tick),
	)
}

// resetLocked (re)builds live state from the registry. Caller must hold
// w.mu or be the constructor.
func (w *World) resetLocked() {
	defs := w.registry.ListNodes()
	segs := w.registry.ListSegments()

	w.nodes = make(map[string]*NodeState, len(defs))
	w.nodeOrder = make([]string, 0, len(defs))
	poolFromCapacity := 0.0
	for _, d := range defs {
		w.nodes[d.Name] = newNodeState(d)
		w.nodeOrder = append(w.nodeOrder, d.Name)
		poolFromCapacity += d.Capacity
	}

	w.segments = make(map[string]*SegmentState, len(segs))
	w.segmentOrder = make([]string, 0, len(segs))
	for _, s := range segs {
		w.segments[s.Name] = newSegmentState(s)
		w.segmentOrder = append(w.segmentOrder, s.Name)
	}

	if w.supplyPool == 0 {
		w.supplyPool = poolFromCapacity
	}

	w.tick = 0
	w.simTime = w.start
	w.elapsed = 0

	w.pendingMu.Lock()
	w.pending = newEventQueue()
	w.pendingMu.Unlock()
}

func newNodeState(d model.Node) *NodeState {
	return &NodeState{
		Name:           d.Name,
		Capacity:       d.Capacity,
		BaselineDemand: d.BaselineDemand,
		Demand:         d.InitialDemand,
		Supply:         d.InitialSupply,
		Shortfall:      core.Shortfall(d.InitialDemand, d.InitialSupply),
		Criticality:    d.Criticality,
		Elasticity:     d.Elasticity,
		Priority:       d.Priority,
		Critical:       d.Critical,
		Source:         d.Source,
		Energized:      true,
	}
}

func newSegmentState(s model.Segment) *SegmentState {
	return &SegmentState{
		Name:   s.Name,
		Source: s.Source,
		Target: s.Target,
		Weight: s.Weight,
		State:  model.SegmentHealthy,
	}
}
