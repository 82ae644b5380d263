package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	v := Pair{Left: Int(1), Right: Symbol("x")}

	id1, err := ValueHash(v)
	require.NoError(t, err)
	id2, err := ValueHash(Pair{Left: Int(1), Right: Symbol("x")})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "hash must be deterministic")
	assert.Len(t, id1.Hex(), 64, "256-bit hex is 64 characters")
}

func TestHashMatchesEncoding(t *testing.T) {
	a := Pair{Left: Int(1), Right: Int(2)}
	b := Pair{Left: Int(2), Right: Int(1)}

	encA, err := Encode(a)
	require.NoError(t, err)
	encB, err := Encode(b)
	require.NoError(t, err)
	require.NotEqual(t, encA, encB)

	assert.NotEqual(t, MustHash(valueEntity{a}), MustHash(valueEntity{b}),
		"different encodings give different ids")
	assert.Equal(t, SumBytes(DomainValue, encA), MustHash(valueEntity{a}),
		"content id is the hash of the canonical encoding")
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte("same bytes")
	assert.NotEqual(t, SumBytes(DomainValue, data), SumBytes(DomainProgram, data),
		"different domains give different ids")
}

func TestVerify(t *testing.T) {
	v := valueEntity{Int(42)}
	id := MustHash(v)

	assert.True(t, Verify(v, id))
	assert.False(t, Verify(valueEntity{Int(43)}, id))
}

func TestHashRejectsNonCanonicalValue(t *testing.T) {
	_, err := ValueHash(Pair{Left: Int(1)})
	assert.Error(t, err, "nil component cannot be encoded")
}

func TestHashAlgorithmName(t *testing.T) {
	assert.Contains(t, []string{"sha256", "blake3"}, HashAlgorithm())
}
