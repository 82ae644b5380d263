package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/causality/internal/ir"
)

func TestCheckAssociativity(t *testing.T) {
	f, g, h := ir.Prim(ir.MorphSwap), ir.Prim(ir.MorphAdd), ir.Prim(ir.MorphNeg)
	assert.NoError(t, CheckAssociativity(f, g, h))
	assert.NoError(t, CheckIdentity(ir.Then(f, g)))
}

func TestCheckAssociativity_Observational(t *testing.T) {
	f, g, h := ir.Prim(ir.MorphSwap), ir.Prim(ir.MorphSub), ir.Prim(ir.MorphNeg)
	in := ir.Pair{Left: ir.Int(3), Right: ir.Int(10)}

	left, err := Apply(ir.Then(ir.Then(f, g), h), in)
	assert.NoError(t, err)
	right, err := Apply(ir.Then(f, ir.Then(g, h)), in)
	assert.NoError(t, err)
	assert.Equal(t, left, right)
	assert.Equal(t, ir.Int(-7), left)
}

func TestCheckFunctoriality(t *testing.T) {
	m := ir.Seq(ir.Prim(ir.MorphSwap), ir.Prim(ir.MorphSub), ir.Prim(ir.MorphNeg))
	assert.NoError(t, CheckFunctoriality(m, ir.Pair{Left: ir.Int(1), Right: ir.Int(5)}))
}

func TestCheckBifunctoriality(t *testing.T) {
	assert.NoError(t, CheckBifunctoriality(ir.Int(1), ir.Bool(true)))
	assert.NoError(t, CheckBifunctoriality(ir.Prim(ir.MorphNeg), ir.Prim(ir.MorphNot)))
}

func TestInstruction_VerifyCategoryLaws(t *testing.T) {
	f := NewRegisterFile()
	assert.NoError(t, f.Write(1, ir.Prim(ir.MorphSwap), ir.Unrestricted))
	assert.NoError(t, f.Write(2, ir.Prim(ir.MorphFst), ir.Unrestricted))
	assert.NoError(t, f.Write(3, ir.Pair{Left: ir.Int(1), Right: ir.Int(2)}, ir.Unrestricted))

	for _, in := range []Instruction{
		Compose{First: 1, Second: 2, Output: 4},
		Transform{Morph: 1, Input: 3, Output: 4},
		Tensor{Left: 1, Right: 2, Output: 4},
		Tensor{Left: 3, Right: 3, Output: 4},
	} {
		assert.NoError(t, in.VerifyCategoryLaws(f), in.String())
	}
}
