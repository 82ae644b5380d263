package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

func sampleProgram() *Program {
	return &Program{
		Constants: []Constant{
			{Register: 0, Value: ir.Int(42)},
			typeConst(3, ir.IntType, ir.Linear),
		},
		Code: []Op{
			PushHandlers{Handlers: []HandlerEntry{{Tag: "log", Entry: 9, Params: []RegisterID{7}}}},
			Alloc{Type: 3, Init: 0, Output: 1},
			Mark{Label: "a", Phase: PhaseStart},
			Perform{Tag: "log", Args: []RegisterID{0}, Output: 5},
			Fork{Mode: ForkRace, Left: Block{5, 6}, Right: Block{6, 7}, LeftOut: 5, RightOut: 6, Output: 8, Continue: 7},
			Yield{},
			Yield{},
			Consume{Resource: 1, Output: 2},
			Jump{Target: 10},
			Resume{Result: 7},
			Barrier{Labels: []string{"a", "b"}},
			Causal{Kind: CausalHappensBefore, A: "a", B: "b", Output: 11},
			Offer{Channel: "c", Branches: []Branch{{Label: "no", Target: 13}, {Label: "yes", Target: 14}}},
			Assert{Register: 2, Type: ir.IntType},
			Transition{Resource: 12, Output: 13, To: Locked},
			PopHandlers{},
		},
	}
}

func TestProgram_RoundTrip(t *testing.T) {
	p := sampleProgram()
	require.NoError(t, p.Validate())

	data, err := p.Bytes()
	require.NoError(t, err)

	back, err := DecodeProgram(data)
	require.NoError(t, err)
	assert.Equal(t, p.Listing(), back.Listing())

	id1, err := p.ID()
	require.NoError(t, err)
	id2, err := back.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestProgram_IDStable(t *testing.T) {
	assert.Equal(t, sampleProgram().MustID(), sampleProgram().MustID())

	other := sampleProgram()
	other.Constants[0].Value = ir.Int(43)
	assert.NotEqual(t, sampleProgram().MustID(), other.MustID())
}

func TestProgram_InstructionCount(t *testing.T) {
	p := sampleProgram()
	assert.Equal(t, 2, p.InstructionCount())
	assert.Len(t, p.Instructions(), 2)
}

func TestProgram_Validate(t *testing.T) {
	tests := []struct {
		name string
		code []Op
	}{
		{"register out of range", []Op{Consume{Resource: MaxRegisters, Output: 1}}},
		{"backward jump", []Op{Yield{}, Jump{Target: 0}}},
		{"jump past end", []Op{Jump{Target: 5}}},
		{"unsorted handlers", []Op{PushHandlers{Handlers: []HandlerEntry{{Tag: "b"}, {Tag: "a"}}}}},
		{"fork block before fork", []Op{Yield{}, Fork{Mode: ForkParallel, Left: Block{0, 1}, Right: Block{1, 1}, Continue: 2}}},
		{"transition to consumed", []Op{Transition{Resource: 1, Output: 2, To: Consumed}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Program{Code: tt.code}).Validate()
			assert.True(t, IsCode(err, ErrCodeInvalidProgram), "got %v", err)
		})
	}
}

func TestProgram_EncodeRejectsUnsortedConstants(t *testing.T) {
	p := &Program{Constants: []Constant{
		{Register: 2, Value: ir.Int(1)},
		{Register: 1, Value: ir.Int(2)},
	}}
	_, err := p.Bytes()
	assert.Error(t, err)
}

func TestDecodeProgram_RejectsUnknownOpcode(t *testing.T) {
	e := ir.NewEncoder()
	e.Len(0)
	e.Len(1)
	e.Tag(0x7f)
	data, err := e.Bytes()
	require.NoError(t, err)

	_, err = DecodeProgram(data)
	assert.True(t, ir.IsDecodeError(err))
}

func TestDecodeProgram_RejectsTrailingBytes(t *testing.T) {
	data, err := (&Program{}).Bytes()
	require.NoError(t, err)
	_, err = DecodeProgram(append(data, 0))
	assert.Error(t, err)
}
