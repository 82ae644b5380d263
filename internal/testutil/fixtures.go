package testutil

import (
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// Source fixtures for the surface language.
const (
	// SourcePure evaluates to 42 with no resources.
	SourcePure = "(pure 42)"
	// SourceAllocConsume allocates a linear int and consumes it.
	SourceAllocConsume = "(let r (alloc int 42) (consume r))"
	// SourceArith squares 4 and subtracts one.
	SourceArith = "(let x 4 (let y (* x x) (- y 1)))"
	// SourceEffect performs f twice, feeding the first result into the second.
	SourceEffect = "(bind (perform f 1) x (perform f x))"
	// SourceChain orders three labelled performs.
	SourceChain = "(causal-chain (a (perform s 1)) (b (perform s 2)) (c (perform s 3)))"
)

func typeConst(r machine.RegisterID, t ir.TypeTag, lin ir.Linearity) machine.Constant {
	return machine.Constant{Register: r, Value: ir.TypeDesc{Type: t, Linearity: lin}}
}

// AllocConsume allocates a linear int holding init into r1 and consumes
// it into r0.
func AllocConsume(init int64) *machine.Program {
	return &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(init)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{
			machine.Alloc{Type: 3, Init: 2, Output: 1},
			machine.Consume{Resource: 1, Output: 0},
		},
	}
}

// DoubleConsume consumes the same resource twice. The second consume
// fails with ALREADY_CONSUMED.
func DoubleConsume() *machine.Program {
	return &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(1)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{
			machine.Alloc{Type: 3, Init: 2, Output: 1},
			machine.Consume{Resource: 1, Output: 4},
			machine.Consume{Resource: 1, Output: 5},
		},
	}
}

// UnconsumedLinear allocates a linear resource and never consumes it.
func UnconsumedLinear() *machine.Program {
	return &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(1)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{machine.Alloc{Type: 3, Init: 2, Output: 1}},
	}
}

// Inputs allocates and consumes one linear int per value, so every value
// shows up as an instruction input in the trace. The result is the last
// value.
func Inputs(values ...int64) *machine.Program {
	p := &machine.Program{}
	next := machine.RegisterID(1)
	reg := func() machine.RegisterID { r := next; next++; return r }
	typ := reg()
	p.Constants = append(p.Constants, typeConst(typ, ir.IntType, ir.Linear))
	for _, v := range values {
		init := reg()
		p.Constants = append(p.Constants, machine.Constant{Register: init, Value: ir.Int(v)})
	}
	for i := range values {
		res := reg()
		out := reg()
		if i == len(values)-1 {
			out = machine.ResultRegister
		}
		p.Code = append(p.Code,
			machine.Alloc{Type: typ, Init: typ + 1 + machine.RegisterID(i), Output: res},
			machine.Consume{Resource: res, Output: out},
		)
	}
	return p
}
