package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

func TestHeap_AllocDistinctIDs(t *testing.T) {
	h := NewHeap()
	a, err := h.Alloc(ir.IntType, ir.Linear, ir.Int(1))
	require.NoError(t, err)
	b, err := h.Alloc(ir.IntType, ir.Linear, ir.Int(1))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID, "equal values allocate distinct resources")
	assert.Equal(t, 2, h.Len())
}

func TestHeap_AllocDeterministic(t *testing.T) {
	h1, h2 := NewHeap(), NewHeap()
	a, err := h1.Alloc(ir.IntType, ir.Affine, ir.Int(9))
	require.NoError(t, err)
	b, err := h2.Alloc(ir.IntType, ir.Affine, ir.Int(9))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestHeap_ConsumeTwice(t *testing.T) {
	h := NewHeap()
	r, err := h.Alloc(ir.IntType, ir.Linear, ir.Int(1))
	require.NoError(t, err)

	got, err := h.Consume(r.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), got.Value)
	assert.Equal(t, Consumed, got.State)

	_, err = h.Consume(r.ID)
	assert.True(t, IsCode(err, ErrCodeAlreadyConsumed))

	st, ok := h.StateOf(r.ID)
	assert.True(t, ok)
	assert.Equal(t, Consumed, st)
}

func TestHeap_Lifecycle(t *testing.T) {
	tests := []struct {
		name  string
		path  []ResourceState
		valid bool
	}{
		{"lock and unlock", []ResourceState{Locked, Active}, true},
		{"freeze and thaw", []ResourceState{Frozen, Active}, true},
		{"archive and restore", []ResourceState{Archived, Active}, true},
		{"locked to frozen", []ResourceState{Locked, Frozen}, false},
		{"archived to locked", []ResourceState{Archived, Locked}, false},
		{"active to active", []ResourceState{Active}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeap()
			r, err := h.Alloc(ir.IntType, ir.Linear, ir.Int(1))
			require.NoError(t, err)

			var last error
			for _, to := range tt.path {
				if _, last = h.Transition(r.ID, to); last != nil {
					break
				}
			}
			if tt.valid {
				assert.NoError(t, last)
			} else {
				assert.True(t, IsCode(last, ErrCodeInvalidTransition), "got %v", last)
			}
		})
	}
}

func TestHeap_ConsumeRequiresActive(t *testing.T) {
	h := NewHeap()
	r, err := h.Alloc(ir.IntType, ir.Linear, ir.Int(1))
	require.NoError(t, err)
	_, err = h.Transition(r.ID, Frozen)
	require.NoError(t, err)

	_, err = h.Consume(r.ID)
	assert.True(t, IsCode(err, ErrCodeInvalidTransition))
}

func TestHeap_UnknownResource(t *testing.T) {
	_, err := NewHeap().Get(ir.ResourceID{1})
	assert.True(t, IsCode(err, ErrCodeUnknownResource))
}

func TestState_SnapshotRestore(t *testing.T) {
	p := &Program{Constants: []Constant{{Register: 1, Value: ir.Int(1)}}}
	s, err := NewState(p, DefaultLimits())
	require.NoError(t, err)

	sn := s.Snapshot()
	_, err = s.Heap.Alloc(ir.IntType, ir.Affine, ir.Int(2))
	require.NoError(t, err)
	require.NoError(t, s.Registers.Write(2, ir.Int(3), ir.Unrestricted))
	_, err = s.Enqueue("log", nil, 0)
	require.NoError(t, err)

	s.Restore(sn)
	assert.Equal(t, 0, s.Heap.Len())
	assert.Nil(t, s.Registers.Get(2))
	assert.Empty(t, s.Effects)
}

func TestState_DropTask(t *testing.T) {
	s, err := NewState(&Program{}, DefaultLimits())
	require.NoError(t, err)
	_, err = s.Enqueue("a", nil, 1)
	require.NoError(t, err)
	kept, err := s.Enqueue("b", nil, 2)
	require.NoError(t, err)

	dropped := s.DropTask(1)
	assert.Len(t, dropped, 1)
	require.Len(t, s.Effects, 1)
	assert.Equal(t, kept.ID, s.Effects[0].ID)
}
