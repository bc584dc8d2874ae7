package core

import "sort"

// Link is the reachability view of a segment: its endpoints and whether it
// currently carries flow.
type Link struct {
	Name    string
	A       string
	B       string
	Healthy bool
}

// Reachability records which nodes can currently receive supply and, when
// the topology has source nodes, the BFS tree used to reach them.
type Reachability struct {
	// Energized holds every node that may be allocated supply.
	Energized map[string]bool
	// Rooted is true when reachability was computed from source nodes.
	Rooted bool

	// order lists reached nodes in BFS order; parentSeg and parentNode
	// describe the tree edge each non-root node was reached through.
	order      []string
	parentSeg  map[string]string
	parentNode map[string]string
}

// Energized works out which nodes are fed this tick. Links are treated as
// undirected.
//
// If any node is a source, the energized set is everything reachable from a
// source over healthy links. Otherwise every node is energized except those
// that have incident links and all of them are faulted.
func Energized(nodes []NodeLoad, links []Link) Reachability {
	adj := make(map[string][]Link, len(nodes))
	for _, l := range links {
		adj[l.A] = append(adj[l.A], l)
		adj[l.B] = append(adj[l.B], l)
	}
	for _, ls := range adj {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	}

	var sources []string
	for _, n := range nodes {
		if n.Source {
			sources = append(sources, n.Name)
		}
	}

	r := Reachability{
		Energized:  make(map[string]bool, len(nodes)),
		parentSeg:  make(map[string]string),
		parentNode: make(map[string]string),
	}

	if len(sources) == 0 {
		for _, n := range nodes {
			incident := adj[n.Name]
			if len(incident) == 0 {
				r.Energized[n.Name] = true
				continue
			}
			for _, l := range incident {
				if l.Healthy {
					r.Energized[n.Name] = true
					break
				}
			}
		}
		return r
	}

	r.Rooted = true
	sort.Strings(sources)
	queue := make([]string, 0, len(nodes))
	for _, s := range sources {
		r.Energized[s] = true
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		r.order = append(r.order, cur)
		for _, l := range adj[cur] {
			if !l.Healthy {
				continue
			}
			next := l.B
			if next == cur {
				next = l.A
			}
			if r.Energized[next] {
				continue
			}
			r.Energized[next] = true
			r.parentSeg[next] = l.Name
			r.parentNode[next] = cur
			queue = append(queue, next)
		}
	}
	return r
}

// AttributeFlow assigns each tree segment the total supply of the subtree
// it feeds. Without source nodes there is no tree and every flow is zero.
func (r Reachability) AttributeFlow(supply map[string]float64) map[string]float64 {
	flow := make(map[string]float64, len(r.parentSeg))
	if !r.Rooted {
		return flow
	}
	subtotal := make(map[string]float64, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		n := r.order[i]
		subtotal[n] += supply[n]
		seg, ok := r.parentSeg[n]
		if !ok {
			continue
		}
		flow[seg] += subtotal[n]
		subtotal[r.parentNode[n]] += subtotal[n]
	}
	return flow
}
