package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

func TestTrace_RoundTrip(t *testing.T) {
	src := "(let r (alloc int 3) (bind (perform f 1) x (tensor x (consume r))))"
	ex, _, err := run(t, compile(t, src), WithHandler("f", incr))
	require.NoError(t, err)

	tr := ex.Trace()
	data, err := tr.Bytes()
	require.NoError(t, err)
	back, err := DecodeTrace(data)
	require.NoError(t, err)

	want, err := tr.Hash()
	require.NoError(t, err)
	got, err := back.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, tr.Len(), back.Len())
	assert.Len(t, back.Events, len(tr.Events))
	assert.Equal(t, tr.Program, back.Program)
}

func TestDecodeTrace_Rejects(t *testing.T) {
	ex, err := New(&machine.Program{})
	require.NoError(t, err)
	_, err = ex.Execute(context.Background())
	require.NoError(t, err)
	data, err := ex.Trace().Bytes()
	require.NoError(t, err)

	_, err = DecodeTrace(append(data, 0))
	assert.Error(t, err, "trailing byte")
	_, err = DecodeTrace(data[:len(data)-1])
	assert.Error(t, err, "truncated")
}

func TestTraceBuilder_Finalize(t *testing.T) {
	b := NewTraceBuilder(ir.ProgramID{})
	require.NoError(t, b.Event(Event{Kind: EventMark, Subject: "a"}))
	assert.False(t, b.Finalized())

	final := ir.ContentID{1}
	tr := b.Finalize(final, "")
	assert.True(t, b.Finalized())
	assert.Equal(t, final, tr.Final)
	assert.False(t, tr.Failed())

	again := b.Finalize(ir.ContentID{2}, "OUT_OF_GAS")
	assert.Same(t, tr, again)
	assert.Equal(t, final, again.Final, "finalize is idempotent")

	assert.ErrorIs(t, b.Append(TraceEntry{}), ErrTraceFinalized)
	assert.ErrorIs(t, b.Event(Event{}), ErrTraceFinalized)
}

func TestTrace_Instructions(t *testing.T) {
	ex, _, err := run(t, compile(t, "(+ 2 3)"))
	require.NoError(t, err)
	ins := ex.Trace().Instructions()
	require.Len(t, ins, ex.Trace().Len())
	assert.Equal(t, machine.OpTensor, ins[0].Opcode())
}

func TestEvent_String(t *testing.T) {
	ev := Event{Kind: EventPerform, Task: 2, PC: 7, Subject: "log", Detail: "x"}
	assert.Equal(t, "   7 t2 perform log x", ev.String())
	assert.Equal(t, "event(99)", EventKind(99).String())
}
