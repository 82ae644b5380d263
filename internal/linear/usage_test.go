package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

func TestUsageDropObligations(t *testing.T) {
	tests := []struct {
		name string
		lin  ir.Linearity
		act  func(u *Usage, l ir.Linearity)
		want ErrorKind
	}{
		{"linear dropped unused", ir.Linear, func(*Usage, ir.Linearity) {}, ErrUnusedLinear},
		{"linear consumed", ir.Linear, func(u *Usage, l ir.Linearity) { _ = u.Consume(l) }, ""},
		{"affine dropped unused", ir.Affine, func(*Usage, ir.Linearity) {}, ""},
		{"relevant dropped unused", ir.Relevant, func(*Usage, ir.Linearity) {}, ErrUnusedRelevant},
		{"relevant copied", ir.Relevant, func(u *Usage, l ir.Linearity) { _ = u.Copy(l) }, ""},
		{"relevant consumed", ir.Relevant, func(u *Usage, l ir.Linearity) { _ = u.Consume(l) }, ""},
		{"unrestricted dropped", ir.Unrestricted, func(*Usage, ir.Linearity) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u Usage
			tt.act(&u, tt.lin)
			err := u.Drop(tt.lin)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestUsageCheckOrdering(t *testing.T) {
	var u Usage
	require.NoError(t, u.Consume(ir.Linear))

	assert.True(t, Is(u.Consume(ir.Linear), ErrMultipleUse), "second consumption is MULTIPLE_USE")
	assert.True(t, Is(u.Copy(ir.Unrestricted), ErrUseAfterDrop), "use after consumption is USE_AFTER_DROP")
}

func TestUsageCopyRequiresCopyableDiscipline(t *testing.T) {
	for _, l := range []ir.Linearity{ir.Linear, ir.Affine} {
		var u Usage
		assert.True(t, Is(u.Copy(l), ErrMultipleUse), "%s values cannot be copied", l)
	}
	for _, l := range []ir.Linearity{ir.Relevant, ir.Unrestricted} {
		var u Usage
		assert.NoError(t, u.Copy(l))
		assert.NoError(t, u.Copy(l), "%s values can be copied repeatedly", l)
	}
}

func TestStaticBounds(t *testing.T) {
	assert.True(t, ir.Linear.MustUse())
	assert.True(t, ir.Relevant.MustUse())
	assert.False(t, ir.Affine.MustUse())
	assert.False(t, ir.Unrestricted.MustUse())

	assert.True(t, ir.Linear.UseOnce())
	assert.True(t, ir.Affine.UseOnce())
	assert.False(t, ir.Relevant.UseOnce())
	assert.False(t, ir.Unrestricted.UseOnce())
}

func TestErrorCategory(t *testing.T) {
	err := (&Usage{}).Drop(ir.Linear)
	assert.Equal(t, ir.CategoryResourceState, ir.CategoryOf(err))
}
