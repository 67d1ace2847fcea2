package core

import (
	"container/heap"
	"sort"
)

// depEdge says node `from` must be written before node `to`.
type depEdge struct {
	from, to int
	required bool
	// column is the owning join column on `to` that references `from`.
	column string
}

// depGraph orders entities by foreign-key dependency. Node indices are
// canonical (kind registration rank, then construction order) so every
// ordering decision is deterministic.
type depGraph struct {
	nodes []*Entity
	edges []depEdge
}

func newDepGraph(m *Manager, entities []*Entity) *depGraph {
	nodes := append([]*Entity(nil), entities...)
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := m.registry.Index(nodes[i].Kind()), m.registry.Index(nodes[j].Kind())
		if ri != rj {
			return ri < rj
		}
		return nodes[i].seq < nodes[j].seq
	})
	g := &depGraph{nodes: nodes}
	index := make(map[identityKey]int, len(nodes))
	for i, e := range nodes {
		index[identityKey{e.Kind(), e.id.String()}] = i
	}
	for to, e := range nodes {
		for _, rel := range e.desc.Owning() {
			id := e.refs[rel.Name].ID()
			if id.IsZero() {
				continue
			}
			from, ok := index[identityKey{rel.Target, id.String()}]
			if !ok {
				continue
			}
			g.edges = append(g.edges, depEdge{from: from, to: to, required: rel.Required, column: rel.JoinColumn})
		}
	}
	return g
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topo runs Kahn's algorithm over the edges accepted by keep. The ready
// queue is a min-heap by canonical index.
func (g *depGraph) topo(keep func(depEdge) bool) []int {
	indeg := make([]int, len(g.nodes))
	outgoing := make([][]int, len(g.nodes))
	for _, e := range g.edges {
		if !keep(e) || e.from == e.to {
			continue
		}
		indeg[e.to]++
		outgoing[e.from] = append(outgoing[e.from], e.to)
	}
	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

func all(depEdge) bool            { return true }
func requiredOnly(e depEdge) bool { return e.required }

// insertOrder returns the write order and the optional edges that have to be
// written as NULL first and patched afterwards. A cycle of required edges
// fails with an *InsertOrderError.
func (g *depGraph) insertOrder() ([]int, []depEdge, error) {
	for _, e := range g.edges {
		if e.from == e.to && e.required {
			return nil, nil, &InsertOrderError{Cycle: []string{g.nodes[e.from].String(), g.nodes[e.to].String()}}
		}
	}
	if order := g.topo(all); len(order) == len(g.nodes) && !g.hasSelfEdge() {
		return order, nil, nil
	}
	order := g.topo(requiredOnly)
	if len(order) != len(g.nodes) {
		return nil, nil, &InsertOrderError{Cycle: g.cycle(requiredOnly)}
	}
	rank := make([]int, len(order))
	for pos, n := range order {
		rank[n] = pos
	}
	var deferred []depEdge
	for _, e := range g.edges {
		if !e.required && rank[e.from] >= rank[e.to] {
			deferred = append(deferred, e)
		}
	}
	return order, deferred, nil
}

func (g *depGraph) hasSelfEdge() bool {
	for _, e := range g.edges {
		if e.from == e.to {
			return true
		}
	}
	return false
}

// deleteOrder returns dependents before their targets. When the graph has a
// cycle the canonical order is reversed instead.
func (g *depGraph) deleteOrder() []int {
	order := g.topo(all)
	if len(order) != len(g.nodes) {
		order = make([]int, len(g.nodes))
		for i := range order {
			order[i] = i
		}
	}
	out := make([]int, len(order))
	for i, n := range order {
		out[len(order)-1-i] = n
	}
	return out
}

// cycle extracts one stable witness cycle with a DFS over canonical indices.
func (g *depGraph) cycle(keep func(depEdge) bool) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	outgoing := make([][]int, len(g.nodes))
	for _, e := range g.edges {
		if keep(e) {
			outgoing[e.from] = append(outgoing[e.from], e.to)
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}
	var found []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				found = append(found, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					found = append(found, cur)
				}
				found = append(found, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	out := make([]string, 0, len(found))
	for i := len(found) - 1; i >= 0; i-- {
		out = append(out, g.nodes[found[i]].String())
	}
	return out
}
