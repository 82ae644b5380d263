package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderWireFormat(t *testing.T) {
	e := NewEncoder()
	e.Tag(7)
	e.U32(1)
	e.I64(-1)
	e.Bool(true)
	e.Blob([]byte{0xaa})
	e.Option(false)

	got, err := e.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		7,
		1, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		1,
		1, 0, 0, 0, 0xaa,
		0,
	}, got, "tags are one byte, scalars little-endian, blobs u32-prefixed")
}

func TestEncoderRejectsUnsortedCollections(t *testing.T) {
	e := NewEncoder()
	e.IDs([]EntityID{{0x02}, {0x01}})

	_, err := e.Bytes()
	require.Error(t, err, "unsorted sets must not be encoded")
	var ee *EncodeError
	assert.ErrorAs(t, err, &ee)
}

func TestEncoderRejectsDuplicateKeys(t *testing.T) {
	e := NewEncoder()
	e.IDs([]EntityID{{0x01}, {0x01}})
	assert.Error(t, e.Err(), "duplicate keys are not strictly ascending")
}

func TestEncoderRejectsNonNFCStrings(t *testing.T) {
	e := NewEncoder()
	e.String("e\u0301") // decomposed é
	assert.Error(t, e.Err())

	e = NewEncoder()
	e.String("\u00e9") // composed é
	assert.NoError(t, e.Err())
}

func TestDecoderRejectsNonCanonicalInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(d *Decoder)
	}{
		{"bool byte 2", []byte{2}, func(d *Decoder) { d.Bool() }},
		{"truncated u32", []byte{1, 0}, func(d *Decoder) { d.U32() }},
		{"length beyond input", []byte{9, 0, 0, 0, 1}, func(d *Decoder) { d.Blob() }},
		{"unsorted ids", append(append([]byte{2, 0, 0, 0}, idBytes(0x02)...), idBytes(0x01)...), func(d *Decoder) { d.IDs() }},
		{"trailing bytes", []byte{1, 0}, func(d *Decoder) { d.Bool() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(tt.data)
			tt.read(d)
			err := d.Finish()
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))
		})
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []Value{
		Unit{},
		Bool(true),
		Int(-42),
		Symbol("token"),
		Pair{Left: Int(1), Right: Pair{Left: Bool(false), Right: Unit{}}},
		Inl{V: Int(3)},
		Inr{V: Symbol("b")},
		Ref{ID: ResourceID{0x09}},
		Channel("s"),
		Seq(Prim(MorphAdd), Prim(MorphNeg)),
		Par(Prim(MorphNot), Identity()),
		ConstMorph(Int(7)),
		TypeDesc{Type: ProductType(IntType, SumType(BoolType, UnitType)), Linearity: Relevant},
	}

	for _, v := range values {
		t.Run(v.String(), func(t *testing.T) {
			data, err := Encode(v)
			require.NoError(t, err)

			d := NewDecoder(data)
			back := DecodeValue(d)
			require.NoError(t, d.Finish())
			assert.True(t, ValuesEqual(v, back), "decode(encode(v)) == v")
		})
	}
}

func TestDecodeRejectsUnnormalizedMorphism(t *testing.T) {
	// seq with a single stage is not normal form
	data := []byte{byte(VMorph), byte(MorphSeq), 1, 0, 0, 0, byte(MorphAdd)}
	d := NewDecoder(data)
	DecodeValue(d)
	assert.Error(t, d.Finish())
}

func idBytes(b byte) []byte {
	id := EntityID{b}
	return id[:]
}
