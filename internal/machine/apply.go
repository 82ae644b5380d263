package machine

import "github.com/roach88/causality/internal/ir"

// Apply evaluates morphism m on v. Type errors are TYPE_MISMATCH; the
// result is a fresh value and v is not modified.
func Apply(m ir.Morphism, v ir.Value) (ir.Value, error) {
	switch m.Op {
	case ir.MorphIdentity:
		return v, nil
	case ir.MorphConst:
		return m.Const, nil
	case ir.MorphAdd, ir.MorphSub, ir.MorphMul, ir.MorphLt:
		a, b, err := intPair(v)
		if err != nil {
			return nil, err
		}
		switch m.Op {
		case ir.MorphAdd:
			return a + b, nil
		case ir.MorphSub:
			return a - b, nil
		case ir.MorphMul:
			return a * b, nil
		default:
			return ir.Bool(a < b), nil
		}
	case ir.MorphEq:
		p, ok := v.(ir.Pair)
		if !ok {
			return nil, TypeMismatch("Product", ir.KindName(v))
		}
		return ir.Bool(ir.ValuesEqual(p.Left, p.Right)), nil
	case ir.MorphNot:
		b, ok := v.(ir.Bool)
		if !ok {
			return nil, TypeMismatch("Bool", ir.KindName(v))
		}
		return !b, nil
	case ir.MorphNeg:
		n, ok := v.(ir.Int)
		if !ok {
			return nil, TypeMismatch("Int", ir.KindName(v))
		}
		return -n, nil
	case ir.MorphFst, ir.MorphSnd, ir.MorphSwap:
		p, ok := v.(ir.Pair)
		if !ok {
			return nil, TypeMismatch("Product", ir.KindName(v))
		}
		switch m.Op {
		case ir.MorphFst:
			return p.Left, nil
		case ir.MorphSnd:
			return p.Right, nil
		default:
			return ir.Pair{Left: p.Right, Right: p.Left}, nil
		}
	case ir.MorphInjL:
		return ir.Inl{V: v}, nil
	case ir.MorphInjR:
		return ir.Inr{V: v}, nil
	case ir.MorphSeq:
		cur := v
		for _, stage := range m.Parts {
			next, err := Apply(stage, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	case ir.MorphPar:
		p, ok := v.(ir.Pair)
		if !ok {
			return nil, TypeMismatch("Product", ir.KindName(v))
		}
		l, err := Apply(m.Parts[0], p.Left)
		if err != nil {
			return nil, err
		}
		r, err := Apply(m.Parts[1], p.Right)
		if err != nil {
			return nil, err
		}
		return ir.Pair{Left: l, Right: r}, nil
	case ir.MorphLocated:
		return Apply(m.Parts[0], v)
	}
	return nil, &Error{Code: ErrCodeInvalidProgram, Message: "unknown morphism " + m.Op.String()}
}

func intPair(v ir.Value) (ir.Int, ir.Int, error) {
	p, ok := v.(ir.Pair)
	if !ok {
		return 0, 0, TypeMismatch("Product(Int, Int)", ir.KindName(v))
	}
	a, okA := p.Left.(ir.Int)
	b, okB := p.Right.(ir.Int)
	if !okA || !okB {
		return 0, 0, TypeMismatch("Product(Int, Int)",
			"Product("+ir.KindName(p.Left)+", "+ir.KindName(p.Right)+")")
	}
	return a, b, nil
}
