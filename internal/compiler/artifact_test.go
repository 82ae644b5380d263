package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

func TestCompile_Deterministic(t *testing.T) {
	a, err := Compile("(pure 42)")
	require.NoError(t, err)
	b, err := Compile("(pure 42)")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	ab, err := a.Bytes()
	require.NoError(t, err)
	bb, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, ab, bb)
	assert.Equal(t, a.ProgramID(), b.ProgramID())
}

func TestCompile_Runs(t *testing.T) {
	tests := []struct {
		src  string
		want ir.Value
	}{
		{"(pure 42)", ir.Int(42)},
		{"(+ 2 3)", ir.Int(5)},
		{"(let r (alloc int 42) (consume r))", ir.Int(42)},
		{"(let x 4 (let y (* x x) (- y 1)))", ir.Int(15)},
		{"(bind (pure 1) x (pure x))", ir.Int(1)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			a, err := Compile(tt.src)
			require.NoError(t, err)
			v, _, err := machine.Run(a.Program, machine.DefaultLimits())
			require.NoError(t, err, a.Program.Listing())
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestCompile_DistinctSources(t *testing.T) {
	a, err := Compile("(pure 1)")
	require.NoError(t, err)
	b, err := Compile("(pure 2)")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	// Whitespace changes the source and so the artifact, not the program.
	c, err := Compile("(pure  1)")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, a.ProgramID(), c.ProgramID())
}

func TestCompile_NoPartialArtifact(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code ErrorCode
	}{
		{"parse", "(pure 1", ErrCodeParse},
		{"unbound", "(pure x)", ErrCodeLowering},
		{"unknown label", "(depend a b)", ErrCodeLowering},
		{"lambda", "(pure (lambda (x) x))", ErrCodeNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Compile(tt.src)
			assert.Nil(t, a)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err), "got %v", err)
		})
	}
}

func TestArtifact_RoundTrip(t *testing.T) {
	a, err := Compile("(causal-chain (a (perform s)) (b (perform s)))")
	require.NoError(t, err)

	data, err := a.Bytes()
	require.NoError(t, err)
	back, err := DecodeArtifact(data)
	require.NoError(t, err)

	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.Source, back.Source)
	assert.Equal(t, a.ProgramID(), back.ProgramID())
	again, err := back.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestDecodeArtifact_Rejects(t *testing.T) {
	a, err := Compile("(pure 7)")
	require.NoError(t, err)
	data, err := a.Bytes()
	require.NoError(t, err)

	_, err = DecodeArtifact(append(data, 0))
	assert.Error(t, err)
	_, err = DecodeArtifact(data[:len(data)-1])
	assert.Error(t, err)
}

func TestArtifact_IncompleteFails(t *testing.T) {
	a := &Artifact{Source: "(pure 1)"}
	_, err := a.Bytes()
	assert.Error(t, err)
}
