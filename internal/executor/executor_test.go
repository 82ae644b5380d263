package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
	"github.com/roach88/causality/internal/machine"
)

func typeConst(r machine.RegisterID, t ir.TypeTag, l ir.Linearity) machine.Constant {
	return machine.Constant{Register: r, Value: ir.TypeDesc{Type: t, Linearity: l}}
}

func compile(t *testing.T, src string) *machine.Program {
	t.Helper()
	a, err := compiler.Compile(src)
	require.NoError(t, err, src)
	return a.Program
}

func run(t *testing.T, p *machine.Program, opts ...Option) (*Executor, ir.Value, error) {
	t.Helper()
	ex, err := New(p, opts...)
	require.NoError(t, err)
	v, err := ex.Execute(context.Background())
	require.True(t, ex.Done())
	require.NotNil(t, ex.Trace(), "a terminated run always has a trace")
	return ex, v, err
}

// incr is a host handler returning its integer argument plus one.
func incr(_ context.Context, call HostCall) (ir.Value, error) {
	return call.Args[0].(ir.Int) + 1, nil
}

func TestExecute_AllocateAndConsume(t *testing.T) {
	p := &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(42)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{
			machine.Alloc{Type: 3, Init: 2, Output: 1},
			machine.Consume{Resource: 1, Output: 0},
		},
	}

	ex, v, err := run(t, p)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), v)
	assert.Equal(t, 2, ex.Trace().Len())
	assert.False(t, ex.Trace().Failed())
	assert.Equal(t, 0, ex.State().Heap.Len())
	assert.Equal(t, uint64(2), ex.Stats().GasUsed)

	final, err := ex.State().Hash()
	require.NoError(t, err)
	assert.Equal(t, final, ex.Trace().Final)
	assert.Equal(t, ex.Trace().Entries[0].Post, ex.Trace().Entries[1].Pre)
}

func TestExecute_DoubleConsume(t *testing.T) {
	p := &machine.Program{
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

	ex, _, err := run(t, p)
	require.Error(t, err)
	assert.True(t, machine.IsCode(err, machine.ErrCodeAlreadyConsumed), "got %v", err)

	tr := ex.Trace()
	require.Equal(t, 3, tr.Len())
	assert.False(t, tr.Entries[1].Failed())
	assert.True(t, tr.Entries[2].Failed())
	assert.Equal(t, "ALREADY_CONSUMED", tr.Entries[2].Failure)
	assert.Equal(t, "ALREADY_CONSUMED", tr.Failure)
	assert.Equal(t, ir.ContentID{}, tr.Entries[2].Post)
}

func TestExecute_UnconsumedLinear(t *testing.T) {
	p := &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(1)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{machine.Alloc{Type: 3, Init: 2, Output: 1}},
	}

	ex, _, err := run(t, p)
	require.Error(t, err)
	assert.True(t, linear.Is(err, linear.ErrUnusedLinear), "got %v", err)
	assert.Equal(t, "UNUSED_LINEAR", ex.Trace().Failure)
	assert.Equal(t, 1, ex.Trace().Len(), "the alloc itself succeeded")

	r := ex.State().Registers.Get(1)
	require.NotNil(t, r, "slot must not be cleared")
	assert.False(t, r.Usage.Consumed)
}

func TestExecute_EmptyProgram(t *testing.T) {
	ex, v, err := run(t, &machine.Program{})
	require.NoError(t, err)
	assert.Equal(t, ir.Unit{}, v)
	assert.Equal(t, 0, ex.Trace().Len())
}

func TestExecute_OutOfGas(t *testing.T) {
	p := compile(t, "(transact (+ 2 3))")
	_, _, err := run(t, p, WithLimits(machine.Limits{Gas: 1}))
	assert.True(t, machine.IsCode(err, machine.ErrCodeOutOfGas), "transactions do not absorb gas exhaustion: %v", err)
}

func TestExecute_ForkInTransaction(t *testing.T) {
	ex, _, err := run(t, compile(t, "(transact (parallel (pure 1) (pure 2)))"))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeForkInTransaction), "got %v", err)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))
	assert.Equal(t, "FORK_IN_TRANSACTION", ex.Trace().Failure)
	assert.Equal(t, 1, ex.Stats().Tasks, "no branch was started")
}

func TestExecute_Compiled(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want ir.Value
	}{
		{"pure", "(pure 42)", ir.Int(42)},
		{"arithmetic", "(let x 4 (let y (* x x) (- y 1)))", ir.Int(15)},
		{"handler", "(handle (perform double 21) (double (x) (* x 2)))", ir.Int(42)},
		{"handler without args", "(handle (perform ask) (ask () (pure 41)))", ir.Int(41)},
		{"handler used twice", "(handle (bind (perform ask) x (bind (perform ask) y (+ x y))) (ask () (pure 2)))", ir.Int(4)},
		{"parallel", "(parallel (pure 1) (pure 2))", ir.Pair{Left: ir.Int(1), Right: ir.Int(2)}},
		{"race left wins", "(race (pure 1) (pure 2))", ir.Inl{V: ir.Int(1)}},
		{"commit", "(transact (pure 3))", ir.Inl{V: ir.Int(3)}},
		{"rollback", "(transact (perform boom))", ir.Inr{V: ir.Symbol("HANDLER_NOT_FOUND")}},
		{"session", "(with-session ping c (parallel (do (send c 5) (pure 1)) (receive c)))", ir.Pair{Left: ir.Int(1), Right: ir.Int(5)}},
		{"receive waits", "(with-session ping c (parallel (receive c) (do (send c 5) (pure 1))))", ir.Pair{Left: ir.Int(5), Right: ir.Int(1)}},
		{"offer", "(with-session ping c (parallel (select c go) (offer c (stop (pure 0)) (go (pure 7)))))", ir.Int(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, v, err := run(t, compile(t, tt.src))
			require.NoError(t, err)
			assert.True(t, ir.ValuesEqual(tt.want, v), "want %v, got %v", tt.want, v)
		})
	}
}

func TestExecute_MonadLaws(t *testing.T) {
	tests := []struct {
		name        string
		left, right string
	}{
		{"left identity", "(bind (pure 5) x (perform f x))", "(perform f 5)"},
		{"right identity", "(bind (perform f 5) x (pure x))", "(perform f 5)"},
		{
			"associativity",
			"(bind (bind (perform f 1) x (perform f x)) y (perform f y))",
			"(bind (perform f 1) x (bind (perform f x) y (perform f y)))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, l, err := run(t, compile(t, tt.left), WithHandler("f", incr))
			require.NoError(t, err)
			_, r, err := run(t, compile(t, tt.right), WithHandler("f", incr))
			require.NoError(t, err)
			assert.True(t, ir.ValuesEqual(l, r), "%v != %v", l, r)
		})
	}
}

func TestExecute_HostHandler(t *testing.T) {
	var calls []HostCall
	h := func(ctx context.Context, call HostCall) (ir.Value, error) {
		calls = append(calls, call)
		return incr(ctx, call)
	}
	ex, v, err := run(t, compile(t, "(perform f 9)"), WithHandler("f", h))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(10), v)
	require.Len(t, calls, 1)
	assert.Equal(t, "f", calls[0].Tag)
	assert.Equal(t, uint32(0), calls[0].Task)
	assert.Empty(t, ex.State().Effects, "handled effects leave the queue")
	assert.Equal(t, 1, ex.Stats().Effects)

	var kinds []EventKind
	for _, ev := range ex.Trace().Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventPerform, EventHandled}, kinds)
}

func TestExecute_CompiledHandlerShadowsHost(t *testing.T) {
	called := false
	h := func(context.Context, HostCall) (ir.Value, error) {
		called = true
		return ir.Int(0), nil
	}
	_, v, err := run(t, compile(t, "(handle (perform f 1) (f (x) (pure 100)))"), WithHandler("f", h))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(100), v)
	assert.False(t, called)
}

func TestExecute_HandlerErrors(t *testing.T) {
	_, _, err := run(t, compile(t, "(perform missing)"))
	assert.True(t, effect.IsCode(err, effect.ErrCodeHandlerNotFound), "got %v", err)

	_, _, err = run(t, compile(t, "(perform net 1)"), WithHandler("net", incr), WithCapabilities("log"))
	assert.True(t, effect.IsCode(err, effect.ErrCodeMissingCapability), "got %v", err)

	_, v, err := run(t, compile(t, "(perform net 1)"), WithHandler("net", incr), WithCapabilities("net"))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), v)

	boom := errors.New("boom")
	ex, _, err := run(t, compile(t, "(perform f 1)"), WithHandler("f", func(context.Context, HostCall) (ir.Value, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "INTERNAL", ex.Trace().Failure)
}

func TestExecute_RaceCancelsLoser(t *testing.T) {
	called := 0
	slow := func(context.Context, HostCall) (ir.Value, error) {
		called++
		return ir.Int(0), nil
	}
	ex, v, err := run(t, compile(t, "(race (perform slow) (pure 2))"), WithHandler("slow", slow))
	require.NoError(t, err)
	assert.Equal(t, ir.Inr{V: ir.Int(2)}, v)
	assert.Equal(t, 0, called, "the loser's effect is dropped before dispatch")
	assert.Equal(t, 1, ex.Stats().Cancellations)
	assert.Empty(t, ex.State().Effects)

	var cancel *Event
	for i, ev := range ex.Trace().Events {
		if ev.Kind == EventCancel {
			cancel = &ex.Trace().Events[i]
		}
	}
	require.NotNil(t, cancel)
	assert.Equal(t, uint32(1), cancel.Task)
	assert.Equal(t, "dropped 1 effects", cancel.Detail)
}

func TestExecute_RaceReleasesLinear(t *testing.T) {
	// The left branch yields so the right branch allocates a linear
	// resource and blocks on an empty channel before the left one wins.
	p := &machine.Program{
		Constants: []machine.Constant{
			{Register: 10, Value: ir.ConstMorph(ir.Int(1))},
			{Register: 11, Value: ir.Unit{}},
			{Register: 12, Value: ir.Int(7)},
			typeConst(13, ir.IntType, ir.Linear),
		},
	}
	p.Code = []machine.Op{
		machine.Fork{
			Mode:    machine.ForkRace,
			Left:    machine.Block{Start: 1, End: 3},
			Right:   machine.Block{Start: 3, End: 5},
			LeftOut: 5, RightOut: 6, Output: 0, Continue: 5,
		},
		machine.Yield{},
		machine.Transform{Morph: 10, Input: 11, Output: 5},
		machine.Alloc{Type: 13, Init: 12, Output: 7},
		machine.Recv{Channel: "never", Output: 6},
	}

	ex, v, err := run(t, p)
	require.NoError(t, err, "released linear values carry no obligation")
	assert.Equal(t, ir.Inl{V: ir.Int(1)}, v)

	r := ex.State().Registers.Get(7)
	require.NotNil(t, r)
	assert.True(t, r.Usage.Consumed)

	var released []machine.ResourceEvent
	for _, ev := range ex.Trace().Events {
		if ev.Kind == EventCancel {
			released = append(released, ev.Resources...)
		}
	}
	require.Len(t, released, 1)
	assert.Equal(t, machine.EventRelease, released[0].Kind)
}

func TestExecute_Barrier(t *testing.T) {
	p := &machine.Program{
		Constants: []machine.Constant{
			{Register: 10, Value: ir.ConstMorph(ir.Int(1))},
			{Register: 11, Value: ir.Unit{}},
			{Register: 12, Value: ir.ConstMorph(ir.Int(2))},
		},
		Code: []machine.Op{
			machine.Fork{
				Mode:    machine.ForkParallel,
				Left:    machine.Block{Start: 1, End: 3},
				Right:   machine.Block{Start: 3, End: 6},
				LeftOut: 5, RightOut: 6, Output: 0, Continue: 6,
			},
			machine.Barrier{Labels: []string{"a"}},
			machine.Transform{Morph: 10, Input: 11, Output: 5},
			machine.Mark{Label: "a", Phase: machine.PhaseStart},
			machine.Transform{Morph: 12, Input: 11, Output: 6},
			machine.Mark{Label: "a", Phase: machine.PhaseComplete},
		},
	}

	ex, v, err := run(t, p)
	require.NoError(t, err)
	assert.Equal(t, ir.Pair{Left: ir.Int(1), Right: ir.Int(2)}, v)

	// The right branch ran its block before the left passed the barrier.
	var order []uint32
	for _, en := range ex.Trace().Entries {
		order = append(order, en.Task)
	}
	assert.Equal(t, []uint32{2, 1}, order)
	assert.Equal(t, 3, ex.Stats().Tasks)
}

func TestExecute_Deadlock(t *testing.T) {
	_, _, err := run(t, compile(t, "(with-session ping c (receive c))"))
	assert.True(t, IsCode(err, ErrCodeDeadlock), "got %v", err)
	assert.Equal(t, ir.CategoryResourceState, ir.CategoryOf(err))
}

func TestExecute_UndeliveredMessage(t *testing.T) {
	p := &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(1)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []machine.Op{
			machine.Alloc{Type: 3, Init: 2, Output: 1},
			machine.Send{Channel: "c", Value: 1},
		},
	}
	_, _, err := run(t, p)
	assert.True(t, IsCode(err, ErrCodeUndelivered), "got %v", err)
	assert.True(t, linear.Is(err, linear.ErrUnusedLinear))
}

func TestExecute_UnknownBranch(t *testing.T) {
	p := &machine.Program{
		Code: []machine.Op{
			machine.Select{Channel: "c", Label: "left"},
			machine.Offer{Channel: "c", Branches: []machine.Branch{{Label: "right", Target: 2}}},
		},
	}
	_, _, err := run(t, p)
	assert.True(t, IsCode(err, ErrCodeUnknownBranch), "got %v", err)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))
}

func TestExecute_UnbalancedScope(t *testing.T) {
	for _, op := range []machine.Op{machine.PopHandlers{}, machine.Resume{Result: 1}, machine.Commit{Result: 1, Output: 2}} {
		_, _, err := run(t, &machine.Program{Code: []machine.Op{op}})
		assert.True(t, IsCode(err, ErrCodeUnbalanced), "%T: got %v", op, err)
	}
}

func TestExecute_CausalConflict(t *testing.T) {
	marks := []machine.Op{
		machine.Mark{Label: "a", Phase: machine.PhaseStart},
		machine.Mark{Label: "a", Phase: machine.PhaseComplete},
		machine.Mark{Label: "b", Phase: machine.PhaseStart},
		machine.Mark{Label: "b", Phase: machine.PhaseComplete},
	}
	tests := []struct {
		name string
		op   machine.Causal
		code effect.ErrorCode
	}{
		{"concurrent with ordered labels", machine.Causal{Kind: machine.CausalConcurrent, A: "a", B: "b", Output: 1}, effect.ErrCodeCausalConflict},
		{"reversed dependency", machine.Causal{Kind: machine.CausalDepend, A: "b", B: "a", Output: 1}, effect.ErrCodeUnverified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &machine.Program{Code: append(append([]machine.Op(nil), marks...), tt.op)}
			_, _, err := run(t, p)
			assert.True(t, effect.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestExecute_CausalChain(t *testing.T) {
	src := "(causal-chain (a (perform s)) (b (perform s)) (c (perform s)))"
	ex, v, err := run(t, compile(t, src), WithHandler("s", func(context.Context, HostCall) (ir.Value, error) {
		return ir.Unit{}, nil
	}))
	require.NoError(t, err)

	proof, err := effect.ProofFromValue(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, proof.Hops)

	log := ex.Log()
	assert.True(t, log.Recorded(effect.ClaimBefore, "a", "b"))
	assert.True(t, log.Recorded(effect.ClaimBefore, "b", "c"))
	assert.False(t, log.Recorded(effect.ClaimConcurrent, "a", "c"))
	assert.True(t, log.HappensBefore("a", "c"))
	assert.NoError(t, proof.Verify(log))
}

func TestExecute_Deterministic(t *testing.T) {
	src := "(causal-chain (a (perform s 1)) (b (parallel (perform s 2) (perform s 3))))"
	var hashes []ir.ContentID
	for range 3 {
		ex, _, err := run(t, compile(t, src), WithHandler("s", incr))
		require.NoError(t, err)
		h, err := ex.Trace().Hash()
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	assert.Equal(t, hashes[0], hashes[1])
	assert.Equal(t, hashes[0], hashes[2])
}

func TestExecute_Step(t *testing.T) {
	ex, err := New(compile(t, "(let x 4 (let y (* x x) (- y 1)))"))
	require.NoError(t, err)

	ctx := context.Background()
	var values []ir.Value
	for {
		v, ok, err := ex.Step(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		values = append(values, v)
	}
	require.NotEmpty(t, values)
	assert.Equal(t, ir.Int(4), values[0])
	assert.Equal(t, ir.Int(15), values[len(values)-1])
	assert.Len(t, values, ex.Trace().Len())

	v, err := ex.Result()
	require.NoError(t, err)
	assert.Equal(t, ir.Int(15), v)

	_, ok, err := ex.Step(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestExecute_ResultBeforeTermination(t *testing.T) {
	ex, err := New(compile(t, "(pure 1)"))
	require.NoError(t, err)
	_, err = ex.Result()
	assert.True(t, IsCode(err, ErrCodeTerminated))
}

func TestExecute_ContextCancelled(t *testing.T) {
	ex, err := New(compile(t, "(pure 1)"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ex.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ex.Done(), "a cancelled context leaves the run resumable")

	v, err := ex.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)
}

func TestExecute_VerifyLaws(t *testing.T) {
	_, v, err := run(t, compile(t, "(+ 2 3)"), WithVerifyLaws(true))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), v)
}

func TestExecute_InitialHeap(t *testing.T) {
	heap := machine.NewHeap()
	r, err := heap.Alloc(ir.IntType, ir.Affine, ir.Int(3))
	require.NoError(t, err)

	ex, _, err := run(t, &machine.Program{}, WithHeap(heap))
	require.NoError(t, err)
	assert.Equal(t, 1, ex.State().Heap.Len())

	got, err := ex.State().Heap.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), got.Value)
}

func TestReplay(t *testing.T) {
	p := compile(t, "(bind (perform f 1) x (perform f x))")
	ex, _, err := run(t, p, WithHandler("f", incr))
	require.NoError(t, err)

	fresh, err := Replay(context.Background(), p, ex.Trace(), WithHandler("f", incr))
	require.NoError(t, err)
	assert.Equal(t, ex.Trace().Len(), fresh.Len())

	double := func(_ context.Context, call HostCall) (ir.Value, error) {
		return call.Args[0].(ir.Int) * 2, nil
	}
	_, err = Replay(context.Background(), p, ex.Trace(), WithHandler("f", double))
	assert.True(t, IsCode(err, ErrCodeNonDeterministic), "got %v", err)

	other := compile(t, "(pure 1)")
	_, err = Replay(context.Background(), other, ex.Trace())
	assert.True(t, IsCode(err, ErrCodeNonDeterministic))
}

func TestReplay_RecordedFailure(t *testing.T) {
	p := compile(t, "(perform missing)")
	ex, _, err := run(t, p)
	require.Error(t, err)

	_, err = Replay(context.Background(), p, ex.Trace())
	assert.NoError(t, err, "the same failure replays cleanly")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	_, _, err = run(t, compile(t, "(perform f 1)"), WithHandler("f", incr), WithMetrics(m))
	require.NoError(t, err)
	_, _, err = run(t, compile(t, "(perform missing)"), WithMetrics(m))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("HANDLER_NOT_FOUND")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.effects))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice fails")
}
