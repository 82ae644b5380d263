package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

func TestResourceConsumeOnce(t *testing.T) {
	r := New[Linear]("token")
	assert.Equal(t, ir.Linear, r.Linearity())

	v, err := r.Consume()
	require.NoError(t, err)
	assert.Equal(t, "token", v)
	assert.True(t, r.Consumed())

	_, err = r.Consume()
	assert.True(t, Is(err, ErrMultipleUse))
	assert.NoError(t, r.Drop(), "dropping a consumed linear value is fine")
}

func TestResourceLinearDropFails(t *testing.T) {
	r := New[Linear](42)
	assert.True(t, Is(r.Drop(), ErrUnusedLinear))

	_, err := r.Copy()
	assert.True(t, Is(err, ErrUseAfterDrop), "dropped values cannot be used")
}

func TestResourceRelevantCopySatisfiesObligation(t *testing.T) {
	r := New[Relevant](7)
	v, err := r.Copy()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.NoError(t, r.Drop())
}

func TestResourceAffineMayDrop(t *testing.T) {
	r := New[Affine]([]byte("x"))
	assert.True(t, r.UseOnce())
	assert.False(t, r.MustUse())
	assert.NoError(t, r.Drop())
}

func TestResourceUnrestrictedCopies(t *testing.T) {
	r := New[Unrestricted](1)
	for i := 0; i < 3; i++ {
		_, err := r.Copy()
		require.NoError(t, err)
	}
	assert.NoError(t, r.Drop())
}
