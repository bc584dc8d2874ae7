package core

import (
	"math"
	"sort"
)

// Default priority score blend. Elasticity counts against a node: demand
// that can flex is served after demand that cannot.
const (
	DefaultPriorityWeight    = 0.5
	DefaultCriticalityWeight = 0.3
	DefaultElasticityWeight  = 0.2
	DefaultScoreFloor        = 0.05
)

const allocationEpsilon = 1e-9

// NodeLoad is the allocator's view of one node for a single tick.
type NodeLoad struct {
	Name     string
	Capacity float64
	Demand   float64

	Criticality float64
	Elasticity  float64
	Priority    float64

	Critical bool
	Source   bool
}

// want is the most supply worth giving the node this tick.
func (n NodeLoad) want() float64 {
	w := math.Min(n.Demand, n.Capacity)
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}

// Allocator distributes a fixed supply pool across energized nodes.
type Allocator struct {
	PriorityWeight    float64
	CriticalityWeight float64
	ElasticityWeight  float64
	// ScoreFloor keeps zero-weighted nodes from being starved outright.
	ScoreFloor float64
}

// NewAllocator returns an allocator using the default score blend.
func NewAllocator() *Allocator {
	return &Allocator{
		PriorityWeight:    DefaultPriorityWeight,
		CriticalityWeight: DefaultCriticalityWeight,
		ElasticityWeight:  DefaultElasticityWeight,
		ScoreFloor:        DefaultScoreFloor,
	}
}

// Score combines the three weighting factors into a single priority.
func (a *Allocator) Score(n NodeLoad) float64 {
	s := a.PriorityWeight*n.Priority +
		a.CriticalityWeight*n.Criticality +
		a.ElasticityWeight*(1-n.Elasticity)
	if s < a.ScoreFloor {
		return a.ScoreFloor
	}
	return s
}

// Allocate returns the supply granted to every node in nodes. Nodes missing
// from energized get zero. The result never exceeds a node's capacity and
// the sum never exceeds pool.
//
// Critical nodes are served first, highest score first, each up to its
// demand. Whatever remains is shared across non-critical nodes in
// proportion to demand*score, water-filling so that a node never receives
// more than it wants and any excess flows to the others.
func (a *Allocator) Allocate(nodes []NodeLoad, energized map[string]bool, pool float64) map[string]float64 {
	alloc := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		alloc[n.Name] = 0
	}
	if pool <= 0 || math.IsNaN(pool) {
		return alloc
	}
	remaining := pool

	var critical, regular []NodeLoad
	for _, n := range nodes {
		if !energized[n.Name] || n.want() <= 0 {
			continue
		}
		if n.Critical {
			critical = append(critical, n)
		} else {
			regular = append(regular, n)
		}
	}

	sort.Slice(critical, func(i, j int) bool {
		si, sj := a.Score(critical[i]), a.Score(critical[j])
		if si != sj {
			return si > sj
		}
		return critical[i].Name < critical[j].Name
	})
	for _, n := range critical {
		if remaining <= allocationEpsilon {
			break
		}
		grant := math.Min(n.want(), remaining)
		alloc[n.Name] = grant
		remaining -= grant
	}

	active := regular
	for len(active) > 0 && remaining > allocationEpsilon {
		total := 0.0
		for _, n := range active {
			total += n.want() * a.Score(n)
		}
		if total <= 0 {
			break
		}

		next := make([]NodeLoad, 0, len(active))
		handed := 0.0
		for _, n := range active {
			room := n.want() - alloc[n.Name]
			share := remaining * n.want() * a.Score(n) / total
			if share >= room {
				alloc[n.Name] = n.want()
				handed += room
				continue
			}
			alloc[n.Name] += share
			handed += share
			next = append(next, n)
		}
		remaining -= handed
		if len(next) == len(active) {
			break
		}
		active = next
	}

	for _, n := range nodes {
		if alloc[n.Name] > n.Capacity {
			alloc[n.Name] = n.Capacity
		}
	}
	return alloc
}

// Shortfall is max(0, demand - supply).
func Shortfall(demand, supply float64) float64 {
	if d := demand - supply; d > 0 {
		return d
	}
	return 0
}
