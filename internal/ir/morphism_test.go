package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqIsAssociative(t *testing.T) {
	f, g, h := Prim(MorphAdd), Prim(MorphNeg), Prim(MorphNot)

	left := Seq(f, Seq(g, h))
	right := Seq(Seq(f, g), h)

	assert.True(t, left.Equal(right), "f;(g;h) == (f;g);h structurally")
	assert.Len(t, left.Parts, 3, "composition is flattened")
}

func TestSeqDropsIdentities(t *testing.T) {
	f := Prim(MorphNeg)

	assert.True(t, Seq(Identity(), f).Equal(f))
	assert.True(t, Seq(f, Identity()).Equal(f))
	assert.Equal(t, MorphIdentity, Seq().Op)
	assert.Equal(t, MorphIdentity, Seq(Identity(), Identity()).Op)
}

func TestParInterchange(t *testing.T) {
	f1, g1 := Prim(MorphNeg), Prim(MorphNot)
	f2, g2 := Prim(MorphNeg), Identity()

	fused := Seq(Par(f1, g1), Par(f2, g2))
	direct := Par(Seq(f1, f2), Seq(g1, g2))

	assert.True(t, fused.Equal(direct), "par(f1,g1);par(f2,g2) == par(f1;f2, g1;g2)")
	assert.Equal(t, MorphIdentity, Par(Identity(), Identity()).Op, "par(id,id) == id")
}

func TestPrimitiveMorphLookup(t *testing.T) {
	m, ok := PrimitiveMorph("add")
	assert.True(t, ok)
	assert.Equal(t, MorphAdd, m.Op)

	_, ok = PrimitiveMorph("seq")
	assert.False(t, ok, "parameterized morphisms are not primitives")
	_, ok = PrimitiveMorph("nope")
	assert.False(t, ok)
}
