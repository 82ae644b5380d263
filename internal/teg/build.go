package teg

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// Option configures Build.
type Option func(*builder)

// WithDomain places every node in the given domain.
func WithDomain(d ir.DomainID) Option {
	return func(b *builder) { b.domain = d }
}

type step struct {
	expr  effect.Expr
	bind  string
	yield bool
}

// splitSteps flattens the right spine of a bind chain. A bind in effect
// position stays one step so its scoping is preserved.
func splitSteps(x effect.Expr) []step {
	var out []step
	for {
		b, ok := x.(effect.Bind)
		if !ok {
			return append(out, step{expr: x})
		}
		out = append(out, step{expr: b.Effect, bind: b.Var, yield: !effect.IsPure(b.Effect)})
		x = b.Body
	}
}

type pending struct {
	kind     EdgeKind
	from, to string
	toNode   ir.NodeID
}

type builder struct {
	g      *Graph
	l      *effect.Lowerer
	domain ir.DomainID

	producers map[string]ir.NodeID
	lastUse   map[string]ir.NodeID
	resources map[string]ir.NodeID
	labels    map[string]ir.NodeID
	prev      ir.NodeID
	deferred  []pending
}

// Build constructs the graph of x. Every top-level step is lowered with a
// shared register allocator, so its fragment can be scheduled
// independently; the last step moves its result into r0.
func Build(x effect.Expr, opts ...Option) (*Graph, error) {
	b := &builder{
		g:         New(),
		l:         effect.NewLowerer(),
		producers: map[string]ir.NodeID{},
		lastUse:   map[string]ir.NodeID{},
		resources: map[string]ir.NodeID{},
		labels:    map[string]ir.NodeID{},
	}
	for _, opt := range opts {
		opt(b)
	}
	steps := splitSteps(x)
	for i, s := range steps {
		id, err := b.step(i, s, i == len(steps)-1)
		if err != nil {
			return nil, fmt.Errorf("build step %d: %w", i, err)
		}
		b.g.Result = id
	}
	if err := b.resolve(); err != nil {
		return nil, err
	}
	return b.g, nil
}

func (b *builder) step(i int, s step, last bool) (ir.NodeID, error) {
	out := b.l.LowerExpr(s.expr)
	if s.yield {
		b.l.Emit(machine.Yield{})
	}
	if last {
		b.l.Move(out, machine.ResultRegister)
		out = machine.ResultRegister
	}
	frag, err := b.l.End(out)
	if err != nil {
		return ir.NodeID{}, err
	}
	if s.bind != "" {
		b.l.Bind(s.bind, out)
	}

	sc := scan(s.expr)

	var produced, inputs []ir.NodeID
	var inline []ir.NodeID
	for k, a := range sc.allocs {
		rid, err := b.g.AddResource(&ResourceNode{
			Step:      i,
			Ordinal:   k,
			Type:      a.Type,
			Linearity: a.Linearity,
			State:     StateActive,
			Domain:    b.domain,
		})
		if err != nil {
			return ir.NodeID{}, err
		}
		produced = append(produced, rid)
		if sc.inline[k] {
			inline = append(inline, rid)
		}
	}
	inputs = append(inputs, inline...)
	for _, name := range sc.consumed {
		if rid, ok := b.resources[name]; ok {
			inputs = append(inputs, rid)
		}
	}
	inputs = slices.Compact(sortIDs(inputs))

	node := &EffectNode{
		Step:    i,
		Tag:     stepTag(s.expr),
		Inputs:  inputs,
		Outputs: produced,
		Domain:  b.domain,
		Code:    &frag,
	}
	if l, ok := s.expr.(effect.Label); ok {
		node.Label = l.Name
	}
	id, err := b.g.AddEffect(node)
	if err != nil {
		return ir.NodeID{}, err
	}
	if node.Label != "" {
		b.defineLabel(node.Label, id)
	}

	for _, rid := range produced {
		b.g.AddEdge(EdgeProduces, id, rid)
	}
	for _, rid := range inputs {
		b.g.AddEdge(EdgeConsumes, id, rid)
	}
	for _, name := range sc.uses {
		if p, ok := b.producers[name]; ok {
			b.g.AddEdge(EdgeDataFlow, p, id)
		}
		if u, ok := b.lastUse[name]; ok {
			b.g.AddEdge(EdgeDataFlow, u, id)
		}
		b.lastUse[name] = id
	}
	if !effect.IsPure(s.expr) {
		if !b.prev.IsZero() {
			b.g.AddEdge(EdgeBefore, b.prev, id)
		}
		b.prev = id
	}
	if err := b.nested(i, id, s.expr); err != nil {
		return ir.NodeID{}, err
	}

	if s.bind != "" {
		b.producers[s.bind] = id
		delete(b.lastUse, s.bind)
		delete(b.resources, s.bind)
		if rid, ok := b.boundResource(s.expr, produced); ok {
			b.resources[s.bind] = rid
		}
	}
	return id, nil
}

// boundResource returns the resource a step's result refers to, when the
// step is an allocation or passes a known resource through.
func (b *builder) boundResource(x effect.Expr, produced []ir.NodeID) (ir.NodeID, bool) {
	p, ok := x.(effect.Pure)
	if !ok {
		return ir.NodeID{}, false
	}
	switch t := p.Term.(type) {
	case effect.Alloc:
		if len(produced) > 0 {
			return produced[0], true
		}
	case effect.Var:
		rid, ok := b.resources[t.Name]
		return rid, ok
	case effect.Transition:
		if v, ok := t.Resource.(effect.Var); ok {
			rid, ok := b.resources[v.Name]
			return rid, ok
		}
	}
	return ir.NodeID{}, false
}

func (b *builder) defineLabel(name string, id ir.NodeID) {
	if _, ok := b.labels[name]; !ok {
		b.labels[name] = id
	}
}

// nested records labels inside a step as child nodes, along with the
// concurrency and causal claims the step makes about labels.
func (b *builder) nested(i int, parent ir.NodeID, root effect.Expr) error {
	var err error
	first := true
	effect.Walk(root, func(x effect.Expr) bool {
		if err != nil {
			return false
		}
		isRoot := first
		first = false
		switch x := x.(type) {
		case effect.Label:
			if isRoot {
				return true
			}
			var id ir.NodeID
			id, err = b.g.AddEffect(&EffectNode{
				Step:   i,
				Tag:    "label",
				Label:  x.Name,
				Parent: parent,
				Domain: b.domain,
			})
			b.defineLabel(x.Name, id)
		case effect.Parallel:
			b.concurrent(x.Left, x.Right)
		case effect.Race:
			b.concurrent(x.Left, x.Right)
		case effect.Depend:
			b.deferred = append(b.deferred, pending{kind: EdgeDependency, from: x.A, to: x.B})
		case effect.Barrier:
			for _, l := range x.Labels {
				b.deferred = append(b.deferred, pending{kind: EdgeSequence, from: l, toNode: parent})
			}
		case effect.VerifyCausal:
			for _, c := range x.Claims {
				switch c := c.(type) {
				case effect.HappensBefore:
					b.deferred = append(b.deferred, pending{kind: EdgeBefore, from: c.A, to: c.B})
				case effect.Concurrent:
					b.deferred = append(b.deferred, pending{kind: EdgeConcurrent, from: c.A, to: c.B})
				}
			}
		}
		return true
	})
	return err
}

func (b *builder) concurrent(left, right effect.Expr) {
	for _, l := range effect.Labels(left) {
		for _, r := range effect.Labels(right) {
			b.deferred = append(b.deferred, pending{kind: EdgeConcurrent, from: l, to: r})
		}
	}
}

func (b *builder) resolve() error {
	for _, p := range b.deferred {
		from, ok := b.labels[p.from]
		if !ok {
			return newError(ErrCodeUnknownLabel, nil, "%s edge names unknown label %q", p.kind, p.from)
		}
		to := p.toNode
		if p.to != "" {
			if to, ok = b.labels[p.to]; !ok {
				return newError(ErrCodeUnknownLabel, nil, "%s edge names unknown label %q", p.kind, p.to)
			}
		}
		b.g.AddEdge(p.kind, from, to)
	}
	return nil
}

func stepTag(x effect.Expr) string {
	switch x := x.(type) {
	case effect.Perform:
		return "perform:" + x.Tag
	case effect.Pure:
		return "pure"
	case effect.Bind:
		return "bind"
	case effect.Handle:
		return "handle"
	case effect.Parallel:
		return "parallel"
	case effect.Race:
		return "race"
	case effect.Transact:
		return "transact"
	case effect.Label:
		return "label"
	case effect.Barrier:
		return "barrier"
	case effect.WithSession:
		return "session:" + x.Protocol
	}
	name := fmt.Sprintf("%T", x)
	return strings.ToLower(name[strings.LastIndexByte(name, '.')+1:])
}

func sortIDs(ids []ir.NodeID) []ir.NodeID {
	slices.SortFunc(ids, compareNodes)
	return ids
}

// termScan is what one step does with terms: the names it reads, the
// allocations it makes and the names it consumes.
type termScan struct {
	uses     []string
	consumed []string
	allocs   []effect.Alloc
	inline   map[int]bool

	local map[string]bool
	seen  map[string]bool
}

// scan collects term-level facts for a step. Names bound anywhere inside
// the step by bind, handler parameters or session scopes are treated as
// local to it.
func scan(x effect.Expr) *termScan {
	sc := &termScan{inline: map[int]bool{}, local: map[string]bool{}, seen: map[string]bool{}}
	effect.Walk(x, func(x effect.Expr) bool {
		switch x := x.(type) {
		case effect.Bind:
			sc.local[x.Var] = true
		case effect.Handle:
			for _, h := range x.Handlers {
				for _, p := range h.Params {
					sc.local[p] = true
				}
			}
		}
		return true
	})
	effect.Walk(x, func(x effect.Expr) bool {
		switch x := x.(type) {
		case effect.Pure:
			sc.term(x.Term, nil)
		case effect.Perform:
			for _, a := range x.Args {
				sc.term(a, nil)
			}
		case effect.Send:
			sc.term(x.Value, nil)
		}
		return true
	})
	return sc
}

func (sc *termScan) free(name string, bound map[string]bool) bool {
	return !bound[name] && !sc.local[name]
}

func (sc *termScan) term(t effect.Term, bound map[string]bool) {
	with := func(names ...string) map[string]bool {
		nb := make(map[string]bool, len(bound)+len(names))
		for k := range bound {
			nb[k] = true
		}
		for _, n := range names {
			nb[n] = true
		}
		return nb
	}
	switch t := t.(type) {
	case effect.Var:
		if sc.free(t.Name, bound) && !sc.seen[t.Name] {
			sc.seen[t.Name] = true
			sc.uses = append(sc.uses, t.Name)
		}
	case effect.Tensor:
		sc.term(t.Left, bound)
		sc.term(t.Right, bound)
	case effect.LetTensor:
		sc.term(t.Pair, bound)
		sc.term(t.Body, with(t.Left, t.Right))
	case effect.LetUnit:
		sc.term(t.Unit, bound)
		sc.term(t.Body, bound)
	case effect.Inl:
		sc.term(t.Term, bound)
	case effect.Inr:
		sc.term(t.Term, bound)
	case effect.Match:
		sc.term(t.Scrutinee, bound)
		sc.term(t.LeftBody, with(t.LeftVar))
		sc.term(t.RightBody, with(t.RightVar))
	case effect.Alloc:
		sc.term(t.Init, bound)
		sc.allocs = append(sc.allocs, t)
	case effect.Consume:
		switch r := t.Resource.(type) {
		case effect.Alloc:
			sc.term(r, bound)
			sc.inline[len(sc.allocs)-1] = true
		case effect.Var:
			if sc.free(r.Name, bound) {
				sc.consumed = append(sc.consumed, r.Name)
			}
			sc.term(r, bound)
		default:
			sc.term(r, bound)
		}
	case effect.Apply:
		sc.term(t.Morph, bound)
		sc.term(t.Arg, bound)
	case effect.Compose:
		sc.term(t.First, bound)
		sc.term(t.Second, bound)
	case effect.Transition:
		sc.term(t.Resource, bound)
	}
}
