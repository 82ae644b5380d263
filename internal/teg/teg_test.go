package teg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

func lit(v ir.Value) effect.Pure { return effect.Pure{Term: effect.Lit{Value: v}} }

func allocConsume() effect.Expr {
	return effect.Let("r",
		effect.Pure{Term: effect.Alloc{Linearity: ir.Linear, Type: ir.IntType, Init: effect.Lit{Value: ir.Int(42)}}},
		effect.Pure{Term: effect.Consume{Resource: effect.Var{Name: "r"}}},
	)
}

func chain() effect.Expr {
	return effect.CausalChain(
		effect.Label{Name: "a", Body: effect.Perform{Tag: "step"}},
		effect.Label{Name: "b", Body: effect.Perform{Tag: "step"}},
		effect.Label{Name: "c", Body: effect.Perform{Tag: "step"}},
	)
}

func TestBuild_AllocConsume(t *testing.T) {
	g, err := Build(allocConsume())
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	steps := g.Steps()
	require.Len(t, steps, 2)
	require.Len(t, g.Resources, 1)
	rid := g.ResourceIDs()[0]

	assert.Equal(t, []ir.NodeID{rid}, steps[0].Outputs)
	assert.Equal(t, []ir.NodeID{rid}, steps[1].Inputs)
	assert.Equal(t, steps[1].ID, g.Result)
	assert.Contains(t, g.Edges, Edge{Kind: EdgeProduces, From: steps[0].ID, To: rid})
	assert.Contains(t, g.Edges, Edge{Kind: EdgeConsumes, From: steps[1].ID, To: rid})
	assert.Contains(t, g.Edges, Edge{Kind: EdgeDataFlow, From: steps[0].ID, To: steps[1].ID})

	p, err := g.ToProgram()
	require.NoError(t, err)
	v, _, err := machine.Run(p, machine.DefaultLimits())
	require.NoError(t, err, p.Listing())
	assert.Equal(t, ir.Int(42), v)
}

func TestBuild_BindFeedsNextStep(t *testing.T) {
	x := effect.Bind{Effect: lit(ir.Int(1)), Var: "x", Body: effect.Pure{Term: effect.Var{Name: "x"}}}
	g, err := Build(x)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	require.Len(t, g.Steps(), 2)

	p, err := g.ToProgram()
	require.NoError(t, err)
	v, _, err := machine.Run(p, machine.DefaultLimits())
	require.NoError(t, err, p.Listing())
	assert.Equal(t, ir.Int(1), v)
}

func TestBuild_Deterministic(t *testing.T) {
	g1, err := Build(chain())
	require.NoError(t, err)
	g2, err := Build(chain())
	require.NoError(t, err)

	id1, err := g1.ID()
	require.NoError(t, err)
	id2, err := g2.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p1, err := g1.ToProgram()
	require.NoError(t, err)
	p2, err := g2.ToProgram()
	require.NoError(t, err)
	assert.Equal(t, p1.MustID(), p2.MustID())
}

func TestGraph_HashSensitive(t *testing.T) {
	g1, err := Build(lit(ir.Int(1)))
	require.NoError(t, err)
	g2, err := Build(lit(ir.Int(2)))
	require.NoError(t, err)
	id1, _ := g1.ID()
	id2, _ := g2.ID()
	assert.NotEqual(t, id1, id2)
}

func TestGraph_RoundTrip(t *testing.T) {
	g, err := Build(effect.Do(allocConsume(), chain()))
	require.NoError(t, err)
	data, err := g.Bytes()
	require.NoError(t, err)

	back, err := DecodeGraph(data)
	require.NoError(t, err)
	again, err := back.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, g.Result, back.Result)
	assert.Equal(t, g.EffectIDs(), back.EffectIDs())
}

func TestDecodeGraph_RejectsTrailing(t *testing.T) {
	g, err := Build(lit(ir.Unit{}))
	require.NoError(t, err)
	data, err := g.Bytes()
	require.NoError(t, err)
	_, err = DecodeGraph(append(data, 0))
	assert.Error(t, err)
}

func TestBuild_CausalChain(t *testing.T) {
	g, err := Build(chain())
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	a, ok := g.Label("a")
	require.True(t, ok)
	b, ok := g.Label("b")
	require.True(t, ok)
	c, ok := g.Label("c")
	require.True(t, ok)

	deps := g.EdgesOf(EdgeDependency)
	assert.ElementsMatch(t, []Edge{
		{Kind: EdgeDependency, From: a.ID, To: b.ID},
		{Kind: EdgeDependency, From: b.ID, To: c.ID},
	}, deps)
	assert.Len(t, g.EdgesOf(EdgeSequence), 2)
	assert.Empty(t, g.EdgesOf(EdgeConcurrent))

	order, err := g.Schedule()
	require.NoError(t, err)
	for i, n := range order {
		assert.Equal(t, i, n.Step, "effectful steps keep source order")
	}
}

func TestBuild_ParallelLabelsConcurrent(t *testing.T) {
	x := effect.Parallel{
		Left:  effect.Label{Name: "x", Body: effect.Perform{Tag: "p"}},
		Right: effect.Label{Name: "y", Body: effect.Perform{Tag: "q"}},
	}
	g, err := Build(x)
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	lx, _ := g.Label("x")
	ly, _ := g.Label("y")
	assert.Equal(t, []Edge{{Kind: EdgeConcurrent, From: lx.ID, To: ly.ID}}, g.EdgesOf(EdgeConcurrent))
	assert.Equal(t, g.Result, lx.Parent)
	assert.Nil(t, lx.Code)
}

func TestValidate_InconsistentTemporal(t *testing.T) {
	x := effect.Do(
		effect.Parallel{
			Left:  effect.Label{Name: "x", Body: effect.Perform{Tag: "p"}},
			Right: effect.Label{Name: "y", Body: effect.Perform{Tag: "q"}},
		},
		effect.VerifyCausal{Claims: []effect.Expr{effect.HappensBefore{A: "x", B: "y"}}},
	)
	g, err := Build(x)
	require.NoError(t, err)
	assert.True(t, IsCode(g.Validate(), ErrCodeInconsistentTemporal))
}

func TestValidate_ConcurrentAcrossOrderedSteps(t *testing.T) {
	x := effect.Do(
		effect.Label{Name: "a", Body: effect.Perform{Tag: "p"}},
		effect.Label{Name: "b", Body: effect.Perform{Tag: "q"}},
		effect.VerifyCausal{Claims: []effect.Expr{effect.Concurrent{A: "a", B: "b"}}},
	)
	g, err := Build(x)
	require.NoError(t, err)
	assert.True(t, IsCode(g.Validate(), ErrCodeInconsistentTemporal))
}

func TestValidate_CycleDetected(t *testing.T) {
	x := effect.Do(
		effect.Label{Name: "a", Body: effect.Perform{Tag: "p"}},
		effect.Label{Name: "b", Body: effect.Perform{Tag: "q"}},
		effect.VerifyCausal{Claims: []effect.Expr{effect.HappensBefore{A: "b", B: "a"}}},
	)
	g, err := Build(x)
	require.NoError(t, err)
	err = g.Validate()
	assert.True(t, IsCode(err, ErrCodeCycleDetected), "got %v", err)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))

	_, err = g.ToProgram()
	assert.True(t, IsCode(err, ErrCodeCycleDetected))
}

func TestValidate_DoubleConsume(t *testing.T) {
	x := effect.Let("r",
		effect.Pure{Term: effect.Alloc{Linearity: ir.Affine, Type: ir.IntType, Init: effect.Lit{Value: ir.Int(1)}}},
		effect.Do(
			effect.Pure{Term: effect.Consume{Resource: effect.Var{Name: "r"}}},
			effect.Pure{Term: effect.Consume{Resource: effect.Var{Name: "r"}}},
		),
	)
	g, err := Build(x)
	require.NoError(t, err)
	assert.True(t, IsCode(g.Validate(), ErrCodeDoubleConsume))
}

func TestBuild_UnknownLabel(t *testing.T) {
	_, err := Build(effect.Depend{A: "a", B: "b"})
	assert.True(t, IsCode(err, ErrCodeUnknownLabel))
}

func manual(t *testing.T, state ResourceState) (*Graph, ir.NodeID, ir.NodeID) {
	t.Helper()
	g := New()
	step, err := g.AddEffect(&EffectNode{Tag: "pure", Code: &effect.Fragment{}})
	require.NoError(t, err)
	res, err := g.AddResource(&ResourceNode{Type: ir.IntType, Linearity: ir.Linear, State: state})
	require.NoError(t, err)
	g.Result = step
	return g, step, res
}

func TestValidate_ResourceFlow(t *testing.T) {
	t.Run("active input may be consumed", func(t *testing.T) {
		g, step, res := manual(t, StateActive)
		g.AddEdge(EdgeConsumes, step, res)
		assert.NoError(t, g.Validate())
	})
	t.Run("inactive resource", func(t *testing.T) {
		g, step, res := manual(t, StateInactive)
		g.AddEdge(EdgeConsumes, step, res)
		assert.True(t, IsCode(g.Validate(), ErrCodeDanglingConsumes))
	})
	t.Run("frozen input without producer", func(t *testing.T) {
		g, step, res := manual(t, StateFrozen)
		g.AddEdge(EdgeConsumes, step, res)
		assert.True(t, IsCode(g.Validate(), ErrCodeDanglingConsumes))
	})
	t.Run("unknown resource", func(t *testing.T) {
		g, step, _ := manual(t, StateActive)
		g.AddEdge(EdgeConsumes, step, ir.NodeID{9})
		assert.True(t, IsCode(g.Validate(), ErrCodeDanglingConsumes))
	})
	t.Run("double produce", func(t *testing.T) {
		g, step, res := manual(t, StateActive)
		other, err := g.AddEffect(&EffectNode{Step: 1, Tag: "pure", Code: &effect.Fragment{}})
		require.NoError(t, err)
		g.AddEdge(EdgeProduces, step, res)
		g.AddEdge(EdgeProduces, other, res)
		assert.True(t, IsCode(g.Validate(), ErrCodeDoubleProduce))
	})
	t.Run("consumed before produced", func(t *testing.T) {
		g, step, res := manual(t, StateActive)
		other, err := g.AddEffect(&EffectNode{Step: 1, Tag: "pure", Code: &effect.Fragment{}})
		require.NoError(t, err)
		g.AddEdge(EdgeProduces, other, res)
		g.AddEdge(EdgeConsumes, step, res)
		assert.True(t, IsCode(g.Validate(), ErrCodeDanglingConsumes))
	})
}

func TestSchedule_TieBreakByID(t *testing.T) {
	g, err := Build(effect.Do(lit(ir.Int(1)), lit(ir.Int(2))))
	require.NoError(t, err)
	order, err := g.Schedule()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Negative(t, bytes.Compare(order[0].ID[:], order[1].ID[:]))

	p, err := g.ToProgram()
	require.NoError(t, err)
	v, _, err := machine.Run(p, machine.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), v)
}

func TestToProgram_Empty(t *testing.T) {
	p, err := New().ToProgram()
	require.NoError(t, err)
	assert.Empty(t, p.Code)
	v, _, err := machine.Run(p, machine.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, ir.Unit{}, v)
}
