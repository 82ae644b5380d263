package effect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// Fragment is lowered code whose targets are relative to its first op.
type Fragment struct {
	Code      []machine.Op
	Constants []machine.Constant
	Output    machine.RegisterID
}

type scope struct {
	name   string
	reg    machine.RegisterID
	parent *scope
}

type channelScope struct {
	name    string
	channel string
	parent  *channelScope
}

// Lowerer lowers effect expressions to machine code. Registers come from
// one counter, so fragments produced by the same Lowerer never collide.
// r0 is reserved for the program result.
type Lowerer struct {
	next     machine.RegisterID
	env      *scope
	channels *channelScope
	chanSeq  int

	code   []machine.Op
	consts []machine.Constant
	shared map[string]machine.RegisterID
	err    error
}

// NewLowerer creates a lowerer with an empty environment.
func NewLowerer() *Lowerer {
	l := &Lowerer{next: machine.ResultRegister + 1}
	l.Begin()
	return l
}

// Begin starts a new fragment. The environment carries over.
func (l *Lowerer) Begin() {
	l.code = nil
	l.consts = nil
	l.shared = map[string]machine.RegisterID{}
}

// End closes the current fragment.
func (l *Lowerer) End(out machine.RegisterID) (Fragment, error) {
	if l.err != nil {
		return Fragment{}, l.err
	}
	f := Fragment{Code: l.code, Constants: l.consts, Output: out}
	l.Begin()
	return f, nil
}

// Err returns the first lowering error.
func (l *Lowerer) Err() error { return l.err }

// Bind makes name refer to reg for everything lowered afterwards.
func (l *Lowerer) Bind(name string, reg machine.RegisterID) {
	l.env = &scope{name: name, reg: reg, parent: l.env}
}

// Lookup returns the register bound to name.
func (l *Lowerer) Lookup(name string) (machine.RegisterID, bool) {
	for s := l.env; s != nil; s = s.parent {
		if s.name == name {
			return s.reg, true
		}
	}
	return 0, false
}

func (l *Lowerer) fail(code ErrorCode, format string, args ...any) machine.RegisterID {
	if l.err == nil {
		l.err = &Error{Code: code, Message: fmt.Sprintf(format, args...)}
	}
	return 0
}

func (l *Lowerer) fresh() machine.RegisterID {
	if l.next >= machine.MaxRegisters {
		return l.fail(ErrCodeLowering, "register file exhausted (%d registers)", machine.MaxRegisters)
	}
	r := l.next
	l.next++
	return r
}

func (l *Lowerer) emit(op machine.Op) int {
	l.code = append(l.code, op)
	return len(l.code) - 1
}

func (l *Lowerer) pc() int { return len(l.code) }

func (l *Lowerer) constant(v ir.Value) machine.RegisterID {
	r := l.fresh()
	l.consts = append(l.consts, machine.Constant{Register: r, Value: v})
	return r
}

// sharedConst returns a per-fragment constant register for v.
func (l *Lowerer) sharedConst(key string, v ir.Value) machine.RegisterID {
	if r, ok := l.shared[key]; ok {
		return r
	}
	r := l.constant(v)
	l.shared[key] = r
	return r
}

func (l *Lowerer) unit() machine.RegisterID {
	return l.sharedConst("unit", ir.Unit{})
}

func (l *Lowerer) morph(m ir.Morphism) machine.RegisterID {
	return l.sharedConst("morph:"+m.String(), m)
}

// Move transfers src to dst under src's discipline.
func (l *Lowerer) Move(src, dst machine.RegisterID) {
	if src == dst {
		return
	}
	l.emit(machine.Transform{Morph: l.morph(ir.Identity()), Input: src, Output: dst})
}

// Emit appends a raw op to the current fragment.
func (l *Lowerer) Emit(op machine.Op) int { return l.emit(op) }

// LowerProgram lowers a whole expression into a validated program whose
// result lands in r0.
func LowerProgram(x Expr) (*machine.Program, error) {
	l := NewLowerer()
	out := l.LowerExpr(x)
	l.Move(out, machine.ResultRegister)
	f, err := l.End(machine.ResultRegister)
	if err != nil {
		return nil, err
	}
	p := Assemble([]Fragment{f})
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("lowered program invalid: %w", err)
	}
	return p, nil
}

// Assemble concatenates fragments in order, relocating their targets and
// merging constants.
func Assemble(frags []Fragment) *machine.Program {
	p := &machine.Program{}
	for _, f := range frags {
		p.Code = append(p.Code, machine.RelocateAll(f.Code, len(p.Code))...)
		p.Constants = append(p.Constants, f.Constants...)
	}
	slices.SortFunc(p.Constants, func(a, b machine.Constant) int {
		return int(a.Register) - int(b.Register)
	})
	return p
}

// LowerTerm appends code computing t and returns the result register.
func (l *Lowerer) LowerTerm(t Term) machine.RegisterID {
	if l.err != nil {
		return 0
	}
	switch t := t.(type) {
	case Lit:
		return l.constant(t.Value)
	case Var:
		r, ok := l.Lookup(t.Name)
		if !ok {
			return l.fail(ErrCodeUnbound, "unbound variable %s", t.Name)
		}
		return r
	case Tensor:
		a := l.LowerTerm(t.Left)
		b := l.LowerTerm(t.Right)
		out := l.fresh()
		l.emit(machine.Tensor{Left: a, Right: b, Output: out})
		return out
	case LetTensor:
		p := l.LowerTerm(t.Pair)
		x, y := l.fresh(), l.fresh()
		l.emit(machine.Split{Pair: p, Left: x, Right: y})
		saved := l.env
		l.Bind(t.Left, x)
		l.Bind(t.Right, y)
		out := l.LowerTerm(t.Body)
		l.env = saved
		return out
	case LetUnit:
		u := l.LowerTerm(t.Unit)
		l.emit(machine.Assert{Register: u, Type: ir.UnitType})
		b := l.LowerTerm(t.Body)
		out := l.fresh()
		l.emit(machine.Tensor{Left: u, Right: b, Output: out})
		return out
	case Inl:
		return l.apply(ir.Prim(ir.MorphInjL), l.LowerTerm(t.Term))
	case Inr:
		return l.apply(ir.Prim(ir.MorphInjR), l.LowerTerm(t.Term))
	case Match:
		s := l.LowerTerm(t.Scrutinee)
		x, y, out := l.fresh(), l.fresh(), l.fresh()
		at := l.emit(machine.Match{Scrutinee: s, Left: x, Right: y})
		saved := l.env
		l.Bind(t.LeftVar, x)
		l.Move(l.LowerTerm(t.LeftBody), out)
		l.env = saved
		jump := l.emit(machine.Jump{})
		l.code[at] = machine.Match{Scrutinee: s, Left: x, Right: y, Else: l.pc()}
		l.Bind(t.RightVar, y)
		l.Move(l.LowerTerm(t.RightBody), out)
		l.env = saved
		l.code[jump] = machine.Jump{Target: l.pc()}
		return out
	case Alloc:
		typ := l.constant(ir.TypeDesc{Type: t.Type, Linearity: t.Linearity})
		init := l.LowerTerm(t.Init)
		out := l.fresh()
		l.emit(machine.Alloc{Type: typ, Init: init, Output: out})
		return out
	case Consume:
		r := l.LowerTerm(t.Resource)
		out := l.fresh()
		l.emit(machine.Consume{Resource: r, Output: out})
		return out
	case Apply:
		m := l.LowerTerm(t.Morph)
		a := l.LowerTerm(t.Arg)
		out := l.fresh()
		l.emit(machine.Transform{Morph: m, Input: a, Output: out})
		return out
	case Compose:
		f := l.LowerTerm(t.First)
		g := l.LowerTerm(t.Second)
		out := l.fresh()
		l.emit(machine.Compose{First: f, Second: g, Output: out})
		return out
	case Transition:
		r := l.LowerTerm(t.Resource)
		out := l.fresh()
		l.emit(machine.Transition{Resource: r, Output: out, To: t.To})
		return out
	}
	return l.fail(ErrCodeLowering, "unsupported term %T", t)
}

func (l *Lowerer) apply(m ir.Morphism, in machine.RegisterID) machine.RegisterID {
	out := l.fresh()
	l.emit(machine.Transform{Morph: l.morph(m), Input: in, Output: out})
	return out
}

func (l *Lowerer) channel(name string) string {
	for s := l.channels; s != nil; s = s.parent {
		if s.name == name {
			return s.channel
		}
	}
	l.fail(ErrCodeUnbound, "unbound channel %s", name)
	return ""
}

// LowerExpr appends code for x and returns its result register.
func (l *Lowerer) LowerExpr(x Expr) machine.RegisterID {
	if l.err != nil {
		return 0
	}
	switch x := x.(type) {
	case Pure:
		if lit, ok := x.Term.(Lit); ok {
			// A constant-producing transform: const(v) applied to unit.
			m := l.constant(ir.ConstMorph(lit.Value))
			out := l.fresh()
			l.emit(machine.Transform{Morph: m, Input: l.unit(), Output: out})
			return out
		}
		return l.LowerTerm(x.Term)
	case Bind:
		r := l.LowerExpr(x.Effect)
		if !IsPure(x.Effect) {
			l.emit(machine.Yield{})
		}
		saved := l.env
		l.Bind(x.Var, r)
		out := l.LowerExpr(x.Body)
		l.env = saved
		return out
	case Perform:
		args := make([]machine.RegisterID, len(x.Args))
		for i, a := range x.Args {
			args[i] = l.LowerTerm(a)
		}
		out := l.fresh()
		l.emit(machine.Perform{Tag: x.Tag, Args: args, Output: out})
		return out
	case Handle:
		return l.lowerHandle(x)
	case Parallel:
		return l.lowerFork(machine.ForkParallel, x.Left, x.Right)
	case Race:
		return l.lowerFork(machine.ForkRace, x.Left, x.Right)
	case Transact:
		out := l.fresh()
		at := l.emit(machine.Begin{Output: out})
		last := l.unit()
		for _, e := range x.Effects {
			last = l.LowerExpr(e)
		}
		l.emit(machine.Commit{Result: last, Output: out})
		l.code[at] = machine.Begin{Output: out, Abort: l.pc()}
		return out
	case Label:
		l.emit(machine.Mark{Label: x.Name, Phase: machine.PhaseStart})
		out := l.LowerExpr(x.Body)
		l.emit(machine.Mark{Label: x.Name, Phase: machine.PhaseComplete})
		return out
	case Depend:
		return l.causal(machine.Causal{Kind: machine.CausalDepend, A: x.A, B: x.B})
	case Sequence:
		p := l.LowerExpr(x.First)
		q := l.LowerExpr(x.Second)
		return l.causal(machine.Causal{Kind: machine.CausalSequence, Proofs: []machine.RegisterID{p, q}})
	case Verify:
		p := l.LowerExpr(x.Proof)
		return l.causal(machine.Causal{Kind: machine.CausalVerify, Proofs: []machine.RegisterID{p}})
	case HappensBefore:
		return l.causal(machine.Causal{Kind: machine.CausalHappensBefore, A: x.A, B: x.B})
	case Concurrent:
		return l.causal(machine.Causal{Kind: machine.CausalConcurrent, A: x.A, B: x.B})
	case VerifyCausal:
		regs := make([]machine.RegisterID, len(x.Claims))
		for i, c := range x.Claims {
			switch c := c.(type) {
			case HappensBefore:
				regs[i] = l.constant(Claim{Kind: ClaimBefore, A: c.A, B: c.B}.Value())
			case Concurrent:
				regs[i] = l.constant(Claim{Kind: ClaimConcurrent, A: c.A, B: c.B}.Value())
			default:
				regs[i] = l.LowerExpr(c)
			}
		}
		return l.causal(machine.Causal{Kind: machine.CausalConsistent, Proofs: regs})
	case Barrier:
		labels := slices.Clone(x.Labels)
		slices.Sort(labels)
		labels = slices.Compact(labels)
		l.emit(machine.Barrier{Labels: labels})
		return l.unit()
	case WithSession:
		name := fmt.Sprintf("%s/%s/%d", x.Protocol, x.Channel, l.chanSeq)
		l.chanSeq++
		saved := l.channels
		l.channels = &channelScope{name: x.Channel, channel: name, parent: l.channels}
		out := l.LowerExpr(x.Body)
		l.channels = saved
		return out
	case Send:
		ch := l.channel(x.Channel)
		v := l.LowerTerm(x.Value)
		l.emit(machine.Send{Channel: ch, Value: v})
		return l.unit()
	case Receive:
		ch := l.channel(x.Channel)
		out := l.fresh()
		l.emit(machine.Recv{Channel: ch, Output: out})
		return out
	case Select:
		l.emit(machine.Select{Channel: l.channel(x.Channel), Label: x.Label})
		return l.unit()
	case Case:
		return l.lowerCase(x)
	}
	return l.fail(ErrCodeLowering, "unsupported expression %T", x)
}

func (l *Lowerer) causal(c machine.Causal) machine.RegisterID {
	c.Output = l.fresh()
	l.emit(c)
	return c.Output
}

func (l *Lowerer) lowerHandle(x Handle) machine.RegisterID {
	handlers := slices.Clone(x.Handlers)
	slices.SortFunc(handlers, func(a, b Handler) int { return strings.Compare(a.Tag, b.Tag) })
	for i := 1; i < len(handlers); i++ {
		if handlers[i-1].Tag == handlers[i].Tag {
			return l.fail(ErrCodeLowering, "duplicate handler for %s", handlers[i].Tag)
		}
	}

	push := l.emit(machine.PushHandlers{})
	out := l.LowerExpr(x.Body)
	l.emit(machine.PopHandlers{})
	jump := l.emit(machine.Jump{})

	entries := make([]machine.HandlerEntry, len(handlers))
	for i, h := range handlers {
		entry := machine.HandlerEntry{Tag: h.Tag, Entry: l.pc()}
		saved := l.env
		for _, p := range h.Params {
			r := l.fresh()
			entry.Params = append(entry.Params, r)
			l.Bind(p, r)
		}
		res := l.LowerExpr(h.Body)
		l.emit(machine.Resume{Result: res})
		l.env = saved
		entries[i] = entry
	}
	l.code[jump] = machine.Jump{Target: l.pc()}
	l.code[push] = machine.PushHandlers{Handlers: entries}
	return out
}

func (l *Lowerer) lowerFork(mode machine.ForkMode, left, right Expr) machine.RegisterID {
	at := l.emit(machine.Fork{Mode: mode})
	lb := machine.Block{Start: l.pc()}
	lo := l.LowerExpr(left)
	lb.End = l.pc()
	rb := machine.Block{Start: l.pc()}
	ro := l.LowerExpr(right)
	rb.End = l.pc()
	out := l.fresh()
	l.code[at] = machine.Fork{
		Mode: mode, Left: lb, Right: rb,
		LeftOut: lo, RightOut: ro, Output: out,
		Continue: l.pc(),
	}
	return out
}

func (l *Lowerer) lowerCase(x Case) machine.RegisterID {
	ch := l.channel(x.Channel)
	branches := slices.Clone(x.Branches)
	slices.SortFunc(branches, func(a, b CaseBranch) int { return strings.Compare(a.Label, b.Label) })
	out := l.fresh()
	at := l.emit(machine.Offer{Channel: ch})
	arms := make([]machine.Branch, len(branches))
	var jumps []int
	for i, b := range branches {
		arms[i] = machine.Branch{Label: b.Label, Target: l.pc()}
		l.Move(l.LowerExpr(b.Body), out)
		jumps = append(jumps, l.emit(machine.Jump{}))
	}
	for _, j := range jumps {
		l.code[j] = machine.Jump{Target: l.pc()}
	}
	l.code[at] = machine.Offer{Channel: ch, Branches: arms}
	return out
}
