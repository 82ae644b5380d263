package compiler

import (
	"errors"
	"slices"
	"strings"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
	"github.com/roach88/causality/internal/machine"
)

// binaryOps maps surface operators to the primitive applied to a pair.
var binaryOps = map[string]ir.MorphOp{
	"+": ir.MorphAdd,
	"-": ir.MorphSub,
	"*": ir.MorphMul,
	"=": ir.MorphEq,
	"<": ir.MorphLt,
}

var unaryOps = map[string]ir.MorphOp{
	"not": ir.MorphNot,
	"neg": ir.MorphNeg,
	"fst": ir.MorphFst,
	"snd": ir.MorphSnd,
}

var effectForms = map[string]bool{
	"pure": true, "bind": true, "let": true, "do": true, "perform": true,
	"handle": true, "parallel": true, "race": true, "transact": true,
	"label": true, "causal-chain": true, "depend": true, "sequence": true,
	"verify": true, "happens-before": true, "concurrent": true,
	"barrier": true, "verify-causal": true, "with-session": true,
	"send": true, "receive": true, "select": true, "offer": true,
}

// Analyze converts a parsed form into an effect expression. It resolves
// names, checks arity and tracks the usage of every bound variable under
// its linearity discipline.
func Analyze(s SExpr) (effect.Expr, error) {
	a := &analyzer{lin: linear.NewTracker()}
	x, err := a.expr(s)
	if err != nil {
		return nil, err
	}
	if err := a.lin.Exit(); err != nil {
		return nil, &CompileError{Code: ErrCodeLowering, Message: "unmet usage obligation", Pos: s.Pos, Cause: err}
	}
	return x, nil
}

type analyzer struct {
	lin      *linear.Tracker
	channels []string
}

func (a *analyzer) use(name string, pos Pos) error {
	if err := a.lin.Use(name); err != nil {
		return &CompileError{Code: ErrCodeLowering, Message: "invalid use of " + name, Pos: pos, Cause: err}
	}
	return nil
}

// scoped declares names for the duration of fn and checks their drop
// obligations afterwards.
func (a *analyzer) scoped(pos Pos, names []string, lin ir.Linearity, fn func() error) error {
	a.lin.Enter()
	for _, n := range names {
		a.lin.Declare(n, lin)
	}
	err := fn()
	if exitErr := a.lin.Exit(); err == nil && exitErr != nil {
		err = &CompileError{Code: ErrCodeLowering, Message: "unmet usage obligation", Pos: pos, Cause: exitErr}
	}
	return err
}

// alternatives runs each branch from the same starting usage and merges
// the outcomes.
func (a *analyzer) alternatives(pos Pos, branches []func() error) error {
	start := a.lin.Snapshot()
	var merged map[string]linear.Usage
	for i, b := range branches {
		a.lin.Restore(start)
		if err := b(); err != nil {
			return err
		}
		snap := a.lin.Snapshot()
		if i == 0 {
			merged = snap
			continue
		}
		if err := a.lin.Merge(merged, snap); err != nil {
			return &CompileError{Code: ErrCodeLowering, Message: "branches disagree on usage", Pos: pos, Cause: err}
		}
		merged = a.lin.Snapshot()
	}
	return nil
}

func arity(s SExpr, n int) error {
	if len(s.List)-1 != n {
		return loweringError(s.Pos, "%s expects %d arguments, got %d", s.Head(), n, len(s.List)-1)
	}
	return nil
}

func minArity(s SExpr, n int) error {
	if len(s.List)-1 < n {
		return loweringError(s.Pos, "%s expects at least %d arguments, got %d", s.Head(), n, len(s.List)-1)
	}
	return nil
}

// name reads a symbol or quoted symbol used as a tag, label or channel.
func name(s SExpr) (string, error) {
	switch s.Kind {
	case SSymbol, SQuote, SString:
		if s.Text != "" {
			return s.Text, nil
		}
	}
	return "", loweringError(s.Pos, "expected a name, got %s", s)
}

func names(ss []SExpr) ([]string, error) {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		n, err := name(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// inferLinearity returns the discipline of the value x yields when it is
// known statically.
func (a *analyzer) inferLinearity(x effect.Expr) ir.Linearity {
	p, ok := x.(effect.Pure)
	if !ok {
		return ir.Unrestricted
	}
	switch t := p.Term.(type) {
	case effect.Alloc:
		return t.Linearity
	case effect.Var:
		if l, ok := a.lin.Linearity(t.Name); ok {
			return l
		}
	case effect.Transition:
		if v, ok := t.Resource.(effect.Var); ok {
			if l, ok := a.lin.Linearity(v.Name); ok {
				return l
			}
		}
	}
	return ir.Unrestricted
}

func (a *analyzer) expr(s SExpr) (effect.Expr, error) {
	head := s.Head()
	if !effectForms[head] {
		t, err := a.term(s)
		if err != nil {
			return nil, err
		}
		return effect.Pure{Term: t}, nil
	}
	args := s.List[1:]
	switch head {
	case "pure":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		t, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		return effect.Pure{Term: t}, nil

	case "bind", "let":
		if err := arity(s, 3); err != nil {
			return nil, err
		}
		varForm, valForm := args[1], args[0]
		if head == "let" {
			varForm, valForm = args[0], args[1]
		}
		v, err := name(varForm)
		if err != nil {
			return nil, err
		}
		val, err := a.expr(valForm)
		if err != nil {
			return nil, err
		}
		var body effect.Expr
		err = a.scoped(s.Pos, []string{v}, a.inferLinearity(val), func() error {
			var err error
			body, err = a.expr(args[2])
			return err
		})
		if err != nil {
			return nil, err
		}
		return effect.Let(v, val, body), nil

	case "do":
		xs, err := a.exprs(args)
		if err != nil {
			return nil, err
		}
		return effect.Do(xs...), nil

	case "perform":
		if err := minArity(s, 1); err != nil {
			return nil, err
		}
		tag, err := name(args[0])
		if err != nil {
			return nil, err
		}
		terms, err := a.terms(args[1:])
		if err != nil {
			return nil, err
		}
		return effect.Perform{Tag: tag, Args: terms}, nil

	case "handle":
		return a.handle(s)

	case "parallel", "race":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		l, err := a.expr(args[0])
		if err != nil {
			return nil, err
		}
		r, err := a.expr(args[1])
		if err != nil {
			return nil, err
		}
		if head == "race" {
			return effect.Race{Left: l, Right: r}, nil
		}
		return effect.Parallel{Left: l, Right: r}, nil

	case "transact":
		xs, err := a.exprs(args)
		if err != nil {
			return nil, err
		}
		return effect.Transact{Effects: xs}, nil

	case "label":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		n, err := name(args[0])
		if err != nil {
			return nil, err
		}
		body, err := a.expr(args[1])
		if err != nil {
			return nil, err
		}
		return effect.Label{Name: n, Body: body}, nil

	case "causal-chain":
		steps := make([]effect.Label, 0, len(args))
		for _, st := range args {
			if st.Kind != SList || len(st.List) != 2 {
				return nil, loweringError(st.Pos, "causal-chain step must be (name effect)")
			}
			n, err := name(st.List[0])
			if err != nil {
				return nil, err
			}
			body, err := a.expr(st.List[1])
			if err != nil {
				return nil, err
			}
			steps = append(steps, effect.Label{Name: n, Body: body})
		}
		return effect.CausalChain(steps...), nil

	case "depend", "happens-before", "concurrent":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ns, err := names(args)
		if err != nil {
			return nil, err
		}
		switch head {
		case "depend":
			return effect.Depend{A: ns[0], B: ns[1]}, nil
		case "happens-before":
			return effect.HappensBefore{A: ns[0], B: ns[1]}, nil
		}
		return effect.Concurrent{A: ns[0], B: ns[1]}, nil

	case "sequence":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		xs, err := a.exprs(args)
		if err != nil {
			return nil, err
		}
		return effect.Sequence{First: xs[0], Second: xs[1]}, nil

	case "verify":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		p, err := a.expr(args[0])
		if err != nil {
			return nil, err
		}
		return effect.Verify{Proof: p}, nil

	case "barrier":
		ns, err := names(args)
		if err != nil {
			return nil, err
		}
		return effect.Barrier{Labels: ns}, nil

	case "verify-causal":
		xs, err := a.exprs(args)
		if err != nil {
			return nil, err
		}
		return effect.VerifyCausal{Claims: xs}, nil

	case "with-session":
		if err := arity(s, 3); err != nil {
			return nil, err
		}
		ns, err := names(args[:2])
		if err != nil {
			return nil, err
		}
		a.channels = append(a.channels, ns[1])
		body, err := a.expr(args[2])
		a.channels = a.channels[:len(a.channels)-1]
		if err != nil {
			return nil, err
		}
		return effect.WithSession{Protocol: ns[0], Channel: ns[1], Body: body}, nil

	case "send":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ch, err := a.channel(args[0])
		if err != nil {
			return nil, err
		}
		v, err := a.term(args[1])
		if err != nil {
			return nil, err
		}
		return effect.Send{Channel: ch, Value: v}, nil

	case "receive":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		ch, err := a.channel(args[0])
		if err != nil {
			return nil, err
		}
		return effect.Receive{Channel: ch}, nil

	case "select":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ch, err := a.channel(args[0])
		if err != nil {
			return nil, err
		}
		l, err := name(args[1])
		if err != nil {
			return nil, err
		}
		return effect.Select{Channel: ch, Label: l}, nil

	case "offer":
		return a.offer(s)
	}
	return nil, loweringError(s.Pos, "unknown form %s", head)
}

func (a *analyzer) exprs(ss []SExpr) ([]effect.Expr, error) {
	out := make([]effect.Expr, 0, len(ss))
	for _, s := range ss {
		x, err := a.expr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func (a *analyzer) channel(s SExpr) (string, error) {
	ch, err := name(s)
	if err != nil {
		return "", err
	}
	for i := len(a.channels) - 1; i >= 0; i-- {
		if a.channels[i] == ch {
			return ch, nil
		}
	}
	return "", loweringError(s.Pos, "channel %s is not opened by an enclosing with-session", ch)
}

// handle reads (handle body (tag (params...) handler-body)...). Handler
// bodies may run any number of times, so they cannot consume outer
// bindings.
func (a *analyzer) handle(s SExpr) (effect.Expr, error) {
	if err := minArity(s, 1); err != nil {
		return nil, err
	}
	body, err := a.expr(s.List[1])
	if err != nil {
		return nil, err
	}
	out := effect.Handle{Body: body}
	seen := map[string]bool{}
	for _, hs := range s.List[2:] {
		if hs.Kind != SList || len(hs.List) != 3 || hs.List[1].Kind != SList {
			return nil, loweringError(hs.Pos, "handler must be (tag (params...) body)")
		}
		tag, err := name(hs.List[0])
		if err != nil {
			return nil, err
		}
		if seen[tag] {
			return nil, loweringError(hs.Pos, "duplicate handler for %s", tag)
		}
		seen[tag] = true
		params, err := names(hs.List[1].List)
		if err != nil {
			return nil, err
		}
		before := a.lin.Snapshot()
		var hbody effect.Expr
		err = a.scoped(hs.Pos, params, ir.Unrestricted, func() error {
			var err error
			hbody, err = a.expr(hs.List[2])
			return err
		})
		if err != nil {
			return nil, err
		}
		if n := consumedOuter(before, a.lin.Snapshot()); n != "" {
			return nil, loweringError(hs.Pos, "handler %s consumes %s from an enclosing scope", tag, n)
		}
		out.Handlers = append(out.Handlers, effect.Handler{Tag: tag, Params: params, Body: hbody})
	}
	sortHandlers(out.Handlers)
	return out, nil
}

func consumedOuter(before, after map[string]linear.Usage) string {
	for _, n := range sortedNames(after) {
		if after[n].Consumed && !before[n].Consumed {
			return n
		}
	}
	return ""
}

func (a *analyzer) offer(s SExpr) (effect.Expr, error) {
	if err := minArity(s, 2); err != nil {
		return nil, err
	}
	ch, err := a.channel(s.List[1])
	if err != nil {
		return nil, err
	}
	out := effect.Case{Channel: ch}
	seen := map[string]bool{}
	var branches []func() error
	for _, bs := range s.List[2:] {
		if bs.Kind != SList || len(bs.List) != 2 {
			return nil, loweringError(bs.Pos, "offer branch must be (label body)")
		}
		l, err := name(bs.List[0])
		if err != nil {
			return nil, err
		}
		if seen[l] {
			return nil, loweringError(bs.Pos, "duplicate branch %s", l)
		}
		seen[l] = true
		form := bs.List[1]
		branches = append(branches, func() error {
			body, err := a.expr(form)
			if err != nil {
				return err
			}
			out.Branches = append(out.Branches, effect.CaseBranch{Label: l, Body: body})
			return nil
		})
	}
	if err := a.alternatives(s.Pos, branches); err != nil {
		return nil, err
	}
	sortBranches(out.Branches)
	return out, nil
}

func (a *analyzer) terms(ss []SExpr) ([]effect.Term, error) {
	out := make([]effect.Term, 0, len(ss))
	for _, s := range ss {
		t, err := a.term(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (a *analyzer) term(s SExpr) (effect.Term, error) {
	switch s.Kind {
	case SInt:
		return effect.Lit{Value: ir.Int(s.Int)}, nil
	case SBool:
		return effect.Lit{Value: ir.Bool(s.Bool)}, nil
	case SQuote, SString:
		return effect.Lit{Value: ir.Symbol(s.Text)}, nil
	case SSymbol:
		return a.symbol(s)
	}
	if len(s.List) == 0 {
		return effect.Lit{Value: ir.Unit{}}, nil
	}
	head := s.Head()
	if effectForms[head] {
		return nil, loweringError(s.Pos, "effect form %s in term position", head)
	}
	args := s.List[1:]
	if op, ok := binaryOps[head]; ok {
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		return effect.Apply{Morph: effect.Lit{Value: ir.Prim(op)}, Arg: effect.Tensor{Left: ts[0], Right: ts[1]}}, nil
	}
	if op, ok := unaryOps[head]; ok {
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		t, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		return effect.Apply{Morph: effect.Lit{Value: ir.Prim(op)}, Arg: t}, nil
	}

	switch head {
	case "tensor":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		return effect.Tensor{Left: ts[0], Right: ts[1]}, nil

	case "let-tensor":
		if err := arity(s, 3); err != nil {
			return nil, err
		}
		if args[1].Kind != SList || len(args[1].List) != 2 {
			return nil, loweringError(args[1].Pos, "let-tensor binds exactly two names")
		}
		ns, err := names(args[1].List)
		if err != nil {
			return nil, err
		}
		lin := a.termLinearity(args[0])
		pair, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		var body effect.Term
		err = a.scoped(s.Pos, ns, lin, func() error {
			var err error
			body, err = a.term(args[2])
			return err
		})
		if err != nil {
			return nil, err
		}
		return effect.LetTensor{Pair: pair, Left: ns[0], Right: ns[1], Body: body}, nil

	case "let-unit":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		return effect.LetUnit{Unit: ts[0], Body: ts[1]}, nil

	case "inl", "inr":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		t, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		if head == "inl" {
			return effect.Inl{Term: t}, nil
		}
		return effect.Inr{Term: t}, nil

	case "case":
		return a.caseTerm(s)

	case "alloc":
		return a.alloc(s)

	case "consume":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		r, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		return effect.Consume{Resource: r}, nil

	case "transition":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		r, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		st, err := name(args[1])
		if err != nil {
			return nil, err
		}
		to, err := machine.ParseResourceState(st)
		if err != nil || to == machine.Consumed {
			return nil, loweringError(args[1].Pos, "cannot transition to %s", st)
		}
		return effect.Transition{Resource: r, To: to}, nil

	case "lambda":
		return nil, notImplemented(s.Pos, "lambda")

	case "morph":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		n, err := name(args[0])
		if err != nil {
			return nil, err
		}
		m, ok := primitive(n)
		if !ok {
			return nil, loweringError(args[0].Pos, "unknown morphism %s", n)
		}
		return effect.Lit{Value: m}, nil

	case "const":
		if err := arity(s, 1); err != nil {
			return nil, err
		}
		v, err := a.term(args[0])
		if err != nil {
			return nil, err
		}
		lit, ok := v.(effect.Lit)
		if !ok {
			return nil, loweringError(args[0].Pos, "const takes a literal")
		}
		return effect.Lit{Value: ir.ConstMorph(lit.Value)}, nil

	case "compose":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		return effect.Compose{First: ts[0], Second: ts[1]}, nil

	case "par":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		f, okF := morphLit(ts[0])
		g, okG := morphLit(ts[1])
		if !okF || !okG {
			return nil, loweringError(s.Pos, "par takes morphism literals")
		}
		return effect.Lit{Value: ir.Par(f, g)}, nil

	case "apply":
		if err := arity(s, 2); err != nil {
			return nil, err
		}
		ts, err := a.terms(args)
		if err != nil {
			return nil, err
		}
		return effect.Apply{Morph: ts[0], Arg: ts[1]}, nil
	}

	if _, bound := a.lin.Linearity(head); bound && len(args) == 1 {
		ts, err := a.terms(s.List)
		if err != nil {
			return nil, err
		}
		return effect.Apply{Morph: ts[0], Arg: ts[1]}, nil
	}
	return nil, loweringError(s.Pos, "unknown form %s", s.List[0])
}

func (a *analyzer) symbol(s SExpr) (effect.Term, error) {
	if s.Text == "unit" {
		return effect.Lit{Value: ir.Unit{}}, nil
	}
	if _, bound := a.lin.Linearity(s.Text); bound {
		if err := a.use(s.Text, s.Pos); err != nil {
			return nil, err
		}
		return effect.Var{Name: s.Text}, nil
	}
	if m, ok := primitive(s.Text); ok {
		return effect.Lit{Value: m}, nil
	}
	return nil, &CompileError{
		Code:    ErrCodeLowering,
		Message: "unbound variable " + s.Text,
		Pos:     s.Pos,
		Cause:   &effect.Error{Code: effect.ErrCodeUnbound, Message: s.Text},
	}
}

// termLinearity is the discipline of a variable term, used for names
// destructured from it.
func (a *analyzer) termLinearity(s SExpr) ir.Linearity {
	if s.Kind == SSymbol {
		if l, ok := a.lin.Linearity(s.Text); ok {
			return l
		}
	}
	return ir.Unrestricted
}

func primitive(n string) (ir.Morphism, bool) {
	if op, ok := binaryOps[n]; ok {
		return ir.Prim(op), true
	}
	return ir.PrimitiveMorph(n)
}

func morphLit(t effect.Term) (ir.Morphism, bool) {
	if l, ok := t.(effect.Lit); ok {
		m, ok := l.Value.(ir.Morphism)
		return m, ok
	}
	return ir.Morphism{}, false
}

// caseTerm reads (case s (x left) (y right)).
func (a *analyzer) caseTerm(s SExpr) (effect.Term, error) {
	if err := arity(s, 3); err != nil {
		return nil, err
	}
	args := s.List[1:]
	lin := a.termLinearity(args[0])
	scrutinee, err := a.term(args[0])
	if err != nil {
		return nil, err
	}
	out := effect.Match{Scrutinee: scrutinee}
	arm := func(form SExpr, v *string, body *effect.Term) func() error {
		return func() error {
			if form.Kind != SList || len(form.List) != 2 {
				return loweringError(form.Pos, "case arm must be (name body)")
			}
			n, err := name(form.List[0])
			if err != nil {
				return err
			}
			*v = n
			return a.scoped(form.Pos, []string{n}, lin, func() error {
				var err error
				*body, err = a.term(form.List[1])
				return err
			})
		}
	}
	err = a.alternatives(s.Pos, []func() error{
		arm(args[1], &out.LeftVar, &out.LeftBody),
		arm(args[2], &out.RightVar, &out.RightBody),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// alloc reads (alloc [linearity] type init). The default discipline is
// linear.
func (a *analyzer) alloc(s SExpr) (effect.Term, error) {
	args := s.List[1:]
	lin := ir.Linear
	switch len(args) {
	case 2:
	case 3:
		n, err := name(args[0])
		if err != nil {
			return nil, err
		}
		if lin, err = ir.ParseLinearity(n); err != nil {
			return nil, loweringError(args[0].Pos, "%v", err)
		}
		args = args[1:]
	default:
		return nil, loweringError(s.Pos, "alloc expects [linearity] type init")
	}
	typ, err := typeTag(args[0])
	if err != nil {
		return nil, err
	}
	init, err := a.term(args[1])
	if err != nil {
		return nil, err
	}
	return effect.Alloc{Linearity: lin, Type: typ, Init: init}, nil
}

// typeTag reads a scalar type name or (product a b) / (sum a b).
func typeTag(s SExpr) (ir.TypeTag, error) {
	if s.Kind == SSymbol {
		t, err := ir.ParseTypeName(s.Text)
		if err != nil {
			return ir.TypeTag{}, loweringError(s.Pos, "%v", err)
		}
		return t, nil
	}
	if s.Kind == SList && len(s.List) == 3 {
		l, err := typeTag(s.List[1])
		if err != nil {
			return ir.TypeTag{}, err
		}
		r, err := typeTag(s.List[2])
		if err != nil {
			return ir.TypeTag{}, err
		}
		switch s.Head() {
		case "product":
			return ir.ProductType(l, r), nil
		case "sum":
			return ir.SumType(l, r), nil
		}
	}
	return ir.TypeTag{}, loweringError(s.Pos, "unknown type %s", s)
}

// IsUnbound reports whether err names an unbound variable.
func IsUnbound(err error) bool {
	var ee *effect.Error
	return errors.As(err, &ee) && ee.Code == effect.ErrCodeUnbound
}

func sortedNames(m map[string]linear.Usage) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func sortHandlers(hs []effect.Handler) {
	slices.SortFunc(hs, func(a, b effect.Handler) int { return strings.Compare(a.Tag, b.Tag) })
}

func sortBranches(bs []effect.CaseBranch) {
	slices.SortFunc(bs, func(a, b effect.CaseBranch) int { return strings.Compare(a.Label, b.Label) })
}
