package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
)

func typeConst(r RegisterID, t ir.TypeTag, l ir.Linearity) Constant {
	return Constant{Register: r, Value: ir.TypeDesc{Type: t, Linearity: l}}
}

func TestRun_AllocateAndConsume(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 0, Value: ir.Int(42)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []Op{
			Alloc{Type: 3, Init: 0, Output: 1},
			Consume{Resource: 1, Output: 2},
		},
	}

	_, s, err := Run(p, DefaultLimits())
	require.NoError(t, err)

	v, ok := s.Registers.Peek(2)
	require.True(t, ok)
	assert.Equal(t, ir.Int(42), v)
	assert.Equal(t, 0, s.Heap.Len(), "heap should be empty after consume")
	assert.Equal(t, DefaultGas-2, s.Gas)
}

func TestRun_DoubleConsume(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 0, Value: ir.Int(1)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []Op{
			Alloc{Type: 3, Init: 0, Output: 1},
			Consume{Resource: 1, Output: 2},
			Consume{Resource: 1, Output: 4},
		},
	}

	_, _, err := Run(p, DefaultLimits())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeAlreadyConsumed), "got %v", err)

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 2, me.PC)
}

func TestRun_UnconsumedLinear(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			typeConst(10, ir.IntType, ir.Linear),
			{Register: 11, Value: ir.Int(1)},
		},
		Code: []Op{Alloc{Type: 10, Init: 11, Output: 1}},
	}

	_, s, err := Run(p, DefaultLimits())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLinearity))
	assert.True(t, linear.Is(err, linear.ErrUnusedLinear))

	r := s.Registers.Get(1)
	require.NotNil(t, r, "slot must not be cleared")
	assert.False(t, r.Usage.Consumed)
	assert.Equal(t, 1, s.Heap.Len())
}

func TestRun_UnusedRelevant(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			typeConst(10, ir.IntType, ir.Relevant),
			{Register: 11, Value: ir.Int(1)},
		},
		Code: []Op{Alloc{Type: 10, Init: 11, Output: 1}},
	}

	_, _, err := Run(p, DefaultLimits())
	assert.True(t, linear.Is(err, linear.ErrUnusedRelevant), "got %v", err)
}

func TestRun_AffineMayBeDropped(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			typeConst(10, ir.IntType, ir.Affine),
			{Register: 11, Value: ir.Int(1)},
		},
		Code: []Op{Alloc{Type: 10, Init: 11, Output: 1}},
	}

	_, _, err := Run(p, DefaultLimits())
	assert.NoError(t, err)
}

func TestRun_EmptyProgram(t *testing.T) {
	v, s, err := Run(&Program{}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Unit{}, v)
	assert.True(t, s.Terminated)
	assert.Equal(t, DefaultGas, s.Gas)
}

func TestRun_Transform(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 1, Value: ir.Pair{Left: ir.Int(2), Right: ir.Int(3)}},
			{Register: 2, Value: ir.Prim(ir.MorphAdd)},
		},
		Code: []Op{Transform{Morph: 2, Input: 1, Output: 0}},
	}

	v, _, err := Run(p, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), v)
}

func TestRun_TransformTypeMismatch(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 1, Value: ir.Bool(true)},
			{Register: 2, Value: ir.Prim(ir.MorphNeg)},
		},
		Code: []Op{Transform{Morph: 2, Input: 1, Output: 0}},
	}

	_, _, err := Run(p, DefaultLimits())
	require.Error(t, err)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeTypeMismatch, me.Code)
	assert.Equal(t, "Int", me.Expected)
	assert.Equal(t, "Bool", me.Actual)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))
}

func TestRun_ComposeThenTransform(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 1, Value: ir.Prim(ir.MorphSwap)},
			{Register: 2, Value: ir.Prim(ir.MorphSub)},
			{Register: 3, Value: ir.Pair{Left: ir.Int(2), Right: ir.Int(10)}},
		},
		Code: []Op{
			Compose{First: 1, Second: 2, Output: 4},
			Transform{Morph: 4, Input: 3, Output: 0},
		},
	}

	v, _, err := Run(p, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(8), v)
}

func TestRun_TensorUnitIdentity(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 1, Value: ir.Unit{}},
			{Register: 2, Value: ir.Int(7)},
		},
		Code: []Op{Tensor{Left: 1, Right: 2, Output: 0}},
	}

	v, _, err := Run(p, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)
}

func TestRun_TensorJoinsLinearity(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			typeConst(10, ir.IntType, ir.Linear),
			{Register: 11, Value: ir.Int(1)},
		},
		Code: []Op{
			Alloc{Type: 10, Init: 11, Output: 1},
			Tensor{Left: 1, Right: 11, Output: 2},
		},
	}

	_, s, err := Run(p, DefaultLimits())
	require.Error(t, err)
	assert.True(t, linear.Is(err, linear.ErrUnusedLinear))
	assert.Equal(t, ir.Linear, s.Registers.Get(2).Linearity)
	assert.True(t, s.Registers.Get(1).Usage.Consumed)
}

func TestRun_OutOfGas(t *testing.T) {
	p := &Program{
		Constants: []Constant{{Register: 1, Value: ir.Int(1)}, {Register: 2, Value: ir.Identity()}},
		Code: []Op{
			Transform{Morph: 2, Input: 1, Output: 3},
			Transform{Morph: 2, Input: 1, Output: 4},
		},
	}

	_, _, err := Run(p, Limits{Gas: 1})
	assert.True(t, IsCode(err, ErrCodeOutOfGas), "got %v", err)
}

func TestRun_InvalidRegister(t *testing.T) {
	p := &Program{
		Code: []Op{Consume{Resource: 9, Output: 1}},
	}
	_, _, err := Run(p, DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeInvalidRegister), "got %v", err)
}

func TestRun_OverwriteLiveLinear(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			typeConst(10, ir.IntType, ir.Linear),
			{Register: 11, Value: ir.Int(1)},
		},
		Code: []Op{
			Alloc{Type: 10, Init: 11, Output: 1},
			Alloc{Type: 10, Init: 11, Output: 1},
		},
	}
	_, _, err := Run(p, DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeLinearity), "got %v", err)
}

// nestedCalls builds a program whose deepest call stack holds depth frames.
func nestedCalls(depth int) *Program {
	code := []Op{Call{Target: 2}, Halt{}}
	for k := 1; k < depth; k++ {
		code = append(code, Call{Target: 2*k + 2}, Return{})
	}
	code = append(code, Return{})
	return &Program{Code: code}
}

func TestRun_CallDepth(t *testing.T) {
	_, s, err := Run(nestedCalls(MaxCallDepth), DefaultLimits())
	require.NoError(t, err)
	assert.Empty(t, s.CallStack)

	_, _, err = Run(nestedCalls(MaxCallDepth+1), DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeCallStackOverflow), "got %v", err)
}

func TestRun_ReturnUnderflow(t *testing.T) {
	_, _, err := Run(&Program{Code: []Op{Return{}}}, DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeCallStackUnderflow), "got %v", err)
}

func TestRun_Match(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 1, Value: ir.Inr{V: ir.Int(4)}},
			{Register: 5, Value: ir.Prim(ir.MorphNeg)},
		},
		Code: []Op{
			Match{Scrutinee: 1, Left: 2, Right: 3, Else: 3},
			Transform{Morph: 5, Input: 2, Output: 0},
			Jump{Target: 4},
			Transform{Morph: 5, Input: 3, Output: 0},
		},
	}
	v, _, err := Run(p, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(-4), v)
}

func TestRun_AssertConstraint(t *testing.T) {
	p := &Program{
		Constants: []Constant{{Register: 1, Value: ir.Int(1)}},
		Code:      []Op{Assert{Register: 1, Type: ir.BoolType}},
	}
	_, _, err := Run(p, DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeConstraint), "got %v", err)
}

func TestRun_RequiresRuntime(t *testing.T) {
	p := &Program{Code: []Op{Yield{}}}
	_, _, err := Run(p, DefaultLimits())
	assert.True(t, IsCode(err, ErrCodeInvalidProgram))
}

func TestRun_Deterministic(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			{Register: 0, Value: ir.Int(42)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []Op{
			Alloc{Type: 3, Init: 0, Output: 1},
			Consume{Resource: 1, Output: 2},
		},
	}
	_, s1, err := Run(p, DefaultLimits())
	require.NoError(t, err)
	_, s2, err := Run(p, DefaultLimits())
	require.NoError(t, err)

	h1, err := s1.Hash()
	require.NoError(t, err)
	h2, err := s2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
