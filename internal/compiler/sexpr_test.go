package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

func TestRead_Atoms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want SExpr
	}{
		{"int", "42", SExpr{Kind: SInt, Int: 42}},
		{"negative", "-7", SExpr{Kind: SInt, Int: -7}},
		{"true", "true", SExpr{Kind: SBool, Bool: true}},
		{"hash false", "#f", SExpr{Kind: SBool}},
		{"symbol", "perform", SExpr{Kind: SSymbol, Text: "perform"}},
		{"minus symbol", "-", SExpr{Kind: SSymbol, Text: "-"}},
		{"quote", "'ping", SExpr{Kind: SQuote, Text: "ping"}},
		{"string", `"a\nb"`, SExpr{Kind: SString, Text: "a\nb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadOne(tt.src)
			require.NoError(t, err)
			got.Pos = Pos{}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRead_Positions(t *testing.T) {
	forms, err := Read("; header\n(pure 1)\n  (perform log)")
	require.NoError(t, err)
	require.Len(t, forms, 2)

	assert.Equal(t, Pos{Line: 2, Column: 1}, forms[0].Pos)
	assert.Equal(t, Pos{Line: 2, Column: 7}, forms[0].List[1].Pos)
	assert.Equal(t, Pos{Line: 3, Column: 3}, forms[1].Pos)
	assert.Equal(t, "perform", forms[1].Head())
}

func TestReadOne_ImplicitDo(t *testing.T) {
	s, err := ReadOne("(pure 1) (pure 2)")
	require.NoError(t, err)
	assert.Equal(t, "do", s.Head())
	assert.Len(t, s.List, 3)
	assert.Equal(t, "(do (pure 1) (pure 2))", s.String())
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		pos  Pos
	}{
		{"empty", "   ", Pos{Line: 1, Column: 1}},
		{"unclosed", "(pure 1", Pos{Line: 1, Column: 1}},
		{"stray close", "\n)", Pos{Line: 2, Column: 1}},
		{"unterminated string", `(send c "abc`, Pos{Line: 1, Column: 9}},
		{"overflow", "99999999999999999999", Pos{Line: 1, Column: 1}},
		{"bare quote", "'(a)", Pos{Line: 1, Column: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOne(tt.src)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeParse), "got %v", err)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.pos, ce.Pos)
			assert.Equal(t, ir.CategoryValidation, ce.Category())
		})
	}
}

func TestRead_NormalizesNFC(t *testing.T) {
	// e followed by a combining acute accent.
	decomposed, err := ReadOne("'cafe\u0301")
	require.NoError(t, err)
	composed, err := ReadOne("'caf\u00e9")
	require.NoError(t, err)

	assert.Equal(t, composed.Text, decomposed.Text)
	assert.Equal(t, ir.MustHash(composed), ir.MustHash(decomposed))
}

func TestSExpr_RoundTrip(t *testing.T) {
	s, err := ReadOne(`(handle (perform 'log "hi" 3 #t) (log (m) (pure unit)))`)
	require.NoError(t, err)

	data, err := ir.Encode(s)
	require.NoError(t, err)
	d := ir.NewDecoder(data)
	back := DecodeSExpr(d)
	require.NoError(t, d.Finish())

	assert.Equal(t, s.String(), back.String())
	assert.Equal(t, ir.MustHash(s), ir.MustHash(back))
}

func TestSExpr_PositionNotHashed(t *testing.T) {
	a, err := ReadOne("(pure 1)")
	require.NoError(t, err)
	b, err := ReadOne("\n\n   (pure    1)")
	require.NoError(t, err)
	assert.Equal(t, ir.MustHash(a), ir.MustHash(b))
}
