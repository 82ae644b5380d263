package effect

import "github.com/roach88/causality/internal/ir"

// Discard is the variable name for results that are never referenced.
const Discard = "_"

// Let binds the result of value to name in body.
func Let(name string, value, body Expr) Expr {
	return Bind{Effect: value, Var: name, Body: body}
}

// Do runs effects in order and returns the result of the last one.
func Do(effects ...Expr) Expr {
	switch len(effects) {
	case 0:
		return Pure{Term: Lit{Value: ir.Unit{}}}
	case 1:
		return effects[0]
	}
	return Bind{Effect: effects[0], Var: Discard, Body: Do(effects[1:]...)}
}

// CausalChain runs labelled steps in order, each behind a barrier on its
// predecessor, and yields the chain proof over their labels.
func CausalChain(steps ...Label) Expr {
	if len(steps) == 0 {
		return Do()
	}
	var seq []Expr
	for i, s := range steps {
		if i > 0 {
			seq = append(seq, Barrier{Labels: []string{steps[i-1].Name}})
		}
		seq = append(seq, s)
	}
	if len(steps) == 1 {
		return Do(seq...)
	}
	var proof Expr = Depend{A: steps[0].Name, B: steps[1].Name}
	for i := 2; i < len(steps); i++ {
		proof = Sequence{First: proof, Second: Depend{A: steps[i-1].Name, B: steps[i].Name}}
	}
	return Do(append(seq, proof)...)
}
