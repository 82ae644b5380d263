package teg

import (
	"slices"

	"github.com/roach88/causality/internal/ir"
)

// Validate checks the graph invariants: every edge names known nodes,
// ordering edges are acyclic, concurrency claims agree with the temporal
// closure, and every resource is produced at most once and consumed at
// most once, after it exists.
func (g *Graph) Validate() error {
	if err := g.checkNodes(); err != nil {
		return err
	}
	adj := g.ordering()
	if err := g.checkCycles(adj); err != nil {
		return err
	}
	if err := g.checkTemporal(adj); err != nil {
		return err
	}
	return g.checkResources(adj)
}

func (g *Graph) checkNodes() error {
	for _, id := range g.EffectIDs() {
		n := g.Effects[id]
		if n.TopLevel() {
			continue
		}
		p, ok := g.Effects[n.Parent]
		if !ok || !p.TopLevel() {
			return newError(ErrCodeUnknownNode, []ir.NodeID{id}, "label %s has no enclosing step", n.Label)
		}
	}
	if !g.Result.IsZero() {
		if n, ok := g.Effects[g.Result]; !ok || !n.TopLevel() || n.Code == nil {
			return newError(ErrCodeUnknownNode, []ir.NodeID{g.Result}, "result is not a step")
		}
	}
	for _, e := range g.SortedEdges() {
		if _, ok := g.Effects[e.From]; !ok {
			return newError(ErrCodeUnknownNode, []ir.NodeID{e.From}, "edge %s starts at an unknown effect", e.Kind)
		}
		switch e.Kind {
		case EdgeConsumes:
			if _, ok := g.Resources[e.To]; !ok {
				return newError(ErrCodeDanglingConsumes, []ir.NodeID{e.From, e.To}, "consumes an unknown resource")
			}
		case EdgeProduces:
			if _, ok := g.Resources[e.To]; !ok {
				return newError(ErrCodeUnknownNode, []ir.NodeID{e.From, e.To}, "produces an unknown resource")
			}
		default:
			if _, ok := g.Effects[e.To]; !ok {
				return newError(ErrCodeUnknownNode, []ir.NodeID{e.To}, "edge %s ends at an unknown effect", e.Kind)
			}
		}
	}
	return nil
}

// step returns the top-level node that owns id.
func (g *Graph) step(id ir.NodeID) ir.NodeID {
	for {
		n, ok := g.Effects[id]
		if !ok || n.TopLevel() {
			return id
		}
		id = n.Parent
	}
}

type adjacency map[ir.NodeID][]ir.NodeID

// ordering returns the ordering edges between effect nodes together with
// their projection onto steps. A cycle in this graph is a cycle either
// among labels or among the steps that own them.
func (g *Graph) ordering() adjacency {
	adj := adjacency{}
	add := func(from, to ir.NodeID) {
		if !slices.Contains(adj[from], to) {
			adj[from] = append(adj[from], to)
		}
	}
	for _, e := range g.SortedEdges() {
		if !e.Kind.Ordering() {
			continue
		}
		add(e.From, e.To)
		if a, b := g.step(e.From), g.step(e.To); a != b {
			add(a, b)
		}
	}
	for id := range adj {
		slices.SortFunc(adj[id], compareNodes)
	}
	return adj
}

func (adj adjacency) reaches(from, to ir.NodeID) bool {
	seen := map[ir.NodeID]bool{from: true}
	queue := []ir.NodeID{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range adj[n] {
			if m == to {
				return true
			}
			if !seen[m] {
				seen[m] = true
				queue = append(queue, m)
			}
		}
	}
	return false
}

func (g *Graph) checkCycles(adj adjacency) error {
	for _, scc := range tarjanSCC(g.EffectIDs(), adj) {
		if len(scc) > 1 || slices.Contains(adj[scc[0]], scc[0]) {
			slices.SortFunc(scc, compareNodes)
			return newError(ErrCodeCycleDetected, scc, "ordering edges form a cycle through %d nodes", len(scc))
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the order given so the result is deterministic.
func tarjanSCC(nodes []ir.NodeID, adj adjacency) [][]ir.NodeID {
	var (
		index   = 0
		stack   []ir.NodeID
		indices = make(map[ir.NodeID]int)
		lowlink = make(map[ir.NodeID]int)
		onStack = make(map[ir.NodeID]bool)
		sccs    [][]ir.NodeID
	)

	var strongConnect func(ir.NodeID)
	strongConnect = func(v ir.NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []ir.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}

// checkTemporal rejects a concurrency claim between nodes the ordering
// edges already order, directly or through the steps that own them.
func (g *Graph) checkTemporal(adj adjacency) error {
	ordered := func(a, b ir.NodeID) bool {
		if adj.reaches(a, b) {
			return true
		}
		sa, sb := g.step(a), g.step(b)
		return sa != sb && adj.reaches(sa, sb)
	}
	for _, e := range g.EdgesOf(EdgeConcurrent) {
		if e.From == e.To || ordered(e.From, e.To) || ordered(e.To, e.From) {
			return newError(ErrCodeInconsistentTemporal, []ir.NodeID{e.From, e.To},
				"concurrent nodes are temporally ordered")
		}
	}
	return nil
}

func (g *Graph) checkResources(adj adjacency) error {
	producers := map[ir.NodeID][]ir.NodeID{}
	consumers := map[ir.NodeID][]ir.NodeID{}
	for _, e := range g.SortedEdges() {
		switch e.Kind {
		case EdgeProduces:
			producers[e.To] = append(producers[e.To], e.From)
		case EdgeConsumes:
			consumers[e.To] = append(consumers[e.To], e.From)
		}
	}
	for _, rid := range g.ResourceIDs() {
		r := g.Resources[rid]
		prod, cons := producers[rid], consumers[rid]
		if len(prod) > 1 {
			return newError(ErrCodeDoubleProduce, append([]ir.NodeID{rid}, prod...), "resource produced %d times", len(prod))
		}
		if len(cons) > 1 {
			return newError(ErrCodeDoubleConsume, append([]ir.NodeID{rid}, cons...), "resource consumed %d times", len(cons))
		}
		if len(cons) == 0 {
			continue
		}
		c := cons[0]
		switch {
		case r.State == StateInactive:
			return newError(ErrCodeDanglingConsumes, []ir.NodeID{c, rid}, "consumes an inactive resource")
		case len(prod) == 0 && r.State != StateActive:
			return newError(ErrCodeDanglingConsumes, []ir.NodeID{c, rid}, "consumes a %s resource nobody produces", r.State)
		case len(prod) == 1:
			p := prod[0]
			if g.step(p) != g.step(c) && !adj.reaches(g.step(p), g.step(c)) {
				return newError(ErrCodeDanglingConsumes, []ir.NodeID{c, rid}, "resource may be consumed before it is produced")
			}
		}
	}
	return nil
}
