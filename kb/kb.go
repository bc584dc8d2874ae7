package kb

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/gridworld-simulator/model"
)

// Registry is an in-memory, thread-safe store for the static grid topology.
// It is populated once at bootstrap and only read afterwards.
type Registry struct {
	mu sync.RWMutex

	nodes    map[string]*model.Node
	segments map[string]*model.Segment

	// segmentsByNode indexes segment names by either endpoint.
	segmentsByNode map[string][]string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:          make(map[string]*model.Node),
		segments:       make(map[string]*model.Segment),
		segmentsByNode: make(map[string][]string),
	}
}

// AddNode inserts a node. It fails with ErrDuplicateKey if the name is taken
// and ErrInvalidArgument if the definition is malformed.
func (r *Registry) AddNode(n *model.Node) error {
	if err := validateNode(n); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.Name]; exists {
		return fmt.Errorf("%w: node %q already exists", ErrDuplicateKey, n.Name)
	}
	cp := *n
	r.nodes[n.Name] = &cp
	return nil
}

// AddSegment inserts a segment. Both endpoints must already be registered.
func (r *Registry) AddSegment(s *model.Segment) error {
	if err := validateSegment(s); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.segments[s.Name]; exists {
		return fmt.Errorf("%w: segment %q already exists", ErrDuplicateKey, s.Name)
	}
	for _, end := range []string{s.Source, s.Target} {
		if _, ok := r.nodes[end]; !ok {
			return fmt.Errorf("%w: %q referenced by segment %q", ErrUnknownNode, end, s.Name)
		}
	}

	cp := *s
	r.segments[s.Name] = &cp
	r.segmentsByNode[s.Source] = append(r.segmentsByNode[s.Source], s.Name)
	r.segmentsByNode[s.Target] = append(r.segmentsByNode[s.Target], s.Name)
	return nil
}

// GetNode returns a copy of the named node.
func (r *Registry) GetNode(name string) (model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	if !ok {
		return model.Node{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	return *n, nil
}

// GetSegment returns a copy of the named segment.
func (r *Registry) GetSegment(name string) (model.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[name]
	if !ok {
		return model.Segment{}, fmt.Errorf("%w: %q", ErrUnknownSegment, name)
	}
	return *s, nil
}

// HasNode reports whether a node with the given name exists.
func (r *Registry) HasNode(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[name]
	return ok
}

// HasSegment reports whether a segment with the given name exists.
func (r *Registry) HasSegment(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.segments[name]
	return ok
}

// ListNodes returns copies of all nodes sorted by name.
func (r *Registry) ListNodes() []model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// ListSegments returns copies of all segments sorted by name.
func (r *Registry) ListSegments() []model.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Segment, 0, len(r.segments))
	for _, s := range r.segments {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// SegmentsForNode returns the names of segments touching the node, sorted.
func (r *Registry) SegmentsForNode(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := append([]string(nil), r.segmentsByNode[name]...)
	sort.Strings(ids)
	return ids
}

// Counts returns the number of registered nodes and segments.
func (r *Registry) Counts() (nodes, segments int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes), len(r.segments)
}

// Validate re-checks that every segment endpoint resolves. AddSegment already
// enforces this; Validate exists for topologies assembled elsewhere.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, s := range r.segments {
		for _, end := range []string{s.Source, s.Target} {
			if _, ok := r.nodes[end]; !ok {
				return fmt.Errorf("%w: %q referenced by segment %q", ErrUnknownNode, end, name)
			}
		}
	}
	return nil
}

// LoadTopology registers every node and then every segment of t, stopping at
// the first error.
func (r *Registry) LoadTopology(t *model.Topology) error {
	if t == nil {
		return fmt.Errorf("%w: nil topology", ErrInvalidArgument)
	}
	for _, n := range t.Nodes {
		if err := r.AddNode(n); err != nil {
			return err
		}
	}
	for _, s := range t.Segments {
		if err := r.AddSegment(s); err != nil {
			return err
		}
	}
	return r.Validate()
}

func validateNode(n *model.Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidArgument)
	}
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: node name is required", ErrInvalidArgument)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"capacity", n.Capacity},
		{"baseline_demand", n.BaselineDemand},
		{"initial_demand", n.InitialDemand},
		{"initial_supply", n.InitialSupply},
	} {
		if !finite(f.v) || f.v < 0 {
			return fmt.Errorf("%w: node %q %s must be a non-negative number, got %v", ErrInvalidArgument, n.Name, f.name, f.v)
		}
	}
	if n.InitialSupply > n.Capacity {
		return fmt.Errorf("%w: node %q initial_supply %v exceeds capacity %v", ErrInvalidArgument, n.Name, n.InitialSupply, n.Capacity)
	}
	for _, w := range []struct {
		name string
		v    float64
	}{
		{"criticality", n.Criticality},
		{"elasticity", n.Elasticity},
		{"priority", n.Priority},
	} {
		if !finite(w.v) || w.v < 0 || w.v > 1 {
			return fmt.Errorf("%w: node %q %s must be within [0,1], got %v", ErrInvalidArgument, n.Name, w.name, w.v)
		}
	}
	return nil
}

func validateSegment(s *model.Segment) error {
	if s == nil {
		return fmt.Errorf("%w: nil segment", ErrInvalidArgument)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: segment name is required", ErrInvalidArgument)
	}
	if s.Source == "" || s.Target == "" {
		return fmt.Errorf("%w: segment %q needs both source and target", ErrInvalidArgument, s.Name)
	}
	if s.Source == s.Target {
		return fmt.Errorf("%w: segment %q connects %q to itself", ErrInvalidArgument, s.Name, s.Source)
	}
	if !finite(s.Weight) || s.Weight < 0 {
		return fmt.Errorf("%w: segment %q weight must be a non-negative number, got %v", ErrInvalidArgument, s.Name, s.Weight)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
