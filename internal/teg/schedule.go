package teg

import (
	"fmt"
	"slices"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// Schedule orders the steps topologically under the ordering edges
// projected onto steps. Among ready steps the smallest node id runs first.
func (g *Graph) Schedule() ([]*EffectNode, error) {
	indeg := map[ir.NodeID]int{}
	succ := map[ir.NodeID][]ir.NodeID{}
	var ready []ir.NodeID
	for _, n := range g.Steps() {
		indeg[n.ID] = 0
	}
	for _, e := range g.SortedEdges() {
		if !e.Kind.Ordering() {
			continue
		}
		a, b := g.step(e.From), g.step(e.To)
		if a == b || slices.Contains(succ[a], b) {
			continue
		}
		succ[a] = append(succ[a], b)
		indeg[b]++
	}
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	slices.SortFunc(ready, compareNodes)

	order := make([]*EffectNode, 0, len(indeg))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.Effects[id])
		for _, m := range succ[id] {
			indeg[m]--
			if indeg[m] == 0 {
				i, _ := slices.BinarySearchFunc(ready, m, compareNodes)
				ready = slices.Insert(ready, i, m)
			}
		}
	}
	if len(order) != len(indeg) {
		var stuck []ir.NodeID
		for id, d := range indeg {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, newError(ErrCodeCycleDetected, sortIDs(stuck), "%d steps cannot be scheduled", len(stuck))
	}
	return order, nil
}

// ToProgram validates g and assembles the code of its steps in schedule
// order.
func (g *Graph) ToProgram() (*machine.Program, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	order, err := g.Schedule()
	if err != nil {
		return nil, err
	}
	frags := make([]effect.Fragment, 0, len(order))
	for _, n := range order {
		if n.Code != nil {
			frags = append(frags, *n.Code)
		}
	}
	p := effect.Assemble(frags)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("scheduled program invalid: %w", err)
	}
	return p, nil
}
