package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/queryir"
)

var catalog = queryir.Catalog{
	"runs":    {"id", "program_id", "failure", "seq"},
	"objects": {"id", "kind", "seq"},
}

func TestCompile_SimpleSelect(t *testing.T) {
	c := NewSQLCompiler(catalog)

	sql, params, err := c.Compile(queryir.Select{
		From:    "objects",
		Columns: []string{"id"},
		Filter:  queryir.Equals{Field: "kind", Value: "proof"},
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT id FROM objects WHERE kind = ? ORDER BY seq ASC", sql)
	assert.NotContains(t, sql, "proof")
	assert.Equal(t, []any{"proof"}, params)
}

func TestCompile_Pointer(t *testing.T) {
	c := NewSQLCompiler(catalog)
	sql, params, err := c.Compile(&queryir.Select{
		From:    "runs",
		Columns: []string{"id", "failure"},
		Filter:  &queryir.Equals{Field: "failure", Value: "OUT_OF_GAS"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, failure FROM runs WHERE failure = ? ORDER BY seq ASC", sql)
	assert.Equal(t, []any{"OUT_OF_GAS"}, params)
}

func TestCompile_NoFilter(t *testing.T) {
	sql, params, err := NewSQLCompiler(catalog).Compile(queryir.Select{From: "runs", Columns: []string{"id"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM runs ORDER BY seq ASC", sql)
	assert.Empty(t, params)
}

func TestCompile_NewestWithLimit(t *testing.T) {
	program := ir.ProgramID(ir.SumBytes("test", []byte("p")))
	c := NewSQLCompiler(catalog).Bind("program", program)

	sql, params, err := c.Compile(queryir.Select{
		From:    "runs",
		Columns: []string{"id"},
		Filter:  queryir.BoundEquals{Field: "program_id", BoundVar: "program"},
		Newest:  true,
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM runs WHERE program_id = ? ORDER BY seq DESC LIMIT ?", sql)
	assert.Equal(t, []any{program.Entity().Bytes(), int64(1)}, params)
}

func TestCompile_AndNot(t *testing.T) {
	c := NewSQLCompiler(catalog).Bind("program", []byte{1, 2})

	sql, params, err := c.Compile(queryir.Select{
		From:    "runs",
		Columns: []string{"id"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.BoundEquals{Field: "program_id", BoundVar: "program"},
			queryir.Not{Predicate: queryir.Equals{Field: "failure", Value: ""}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM runs WHERE (program_id = ? AND NOT (failure = ?)) ORDER BY seq ASC", sql)
	assert.Equal(t, []any{[]byte{1, 2}, ""}, params)
}

func TestCompile_AndEdgeCases(t *testing.T) {
	c := NewSQLCompiler(catalog)

	sql, _, err := c.Compile(queryir.Select{From: "runs", Columns: []string{"id"}, Filter: queryir.And{}})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 1 = 1")

	sql, params, err := c.Compile(queryir.Select{
		From:    "runs",
		Columns: []string{"id"},
		Filter:  queryir.And{Predicates: []queryir.Predicate{queryir.Equals{Field: "failure", Value: "X"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE failure = ? ORDER")
	assert.Equal(t, []any{"X"}, params)
}

func TestCompile_Deterministic(t *testing.T) {
	q := queryir.Select{
		From:    "runs",
		Columns: []string{"id", "program_id"},
		Filter:  queryir.Equals{Field: "failure", Value: ""},
	}
	c := NewSQLCompiler(catalog)
	first, _, err := c.Compile(q)
	require.NoError(t, err)
	for range 10 {
		again, _, err := c.Compile(q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query queryir.Query
		want  string
	}{
		{"nil", nil, "nil query"},
		{"unknown table", queryir.Select{From: "runs; DROP TABLE runs", Columns: []string{"id"}}, "unknown table"},
		{"unknown column", queryir.Select{From: "runs", Columns: []string{"*"}}, "unknown column"},
		{"unbound", queryir.Select{From: "runs", Columns: []string{"id"}, Filter: queryir.BoundEquals{Field: "id", BoundVar: "missing"}}, `no value bound for "missing"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler(catalog).Compile(tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidQuery)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_WithoutCatalog(t *testing.T) {
	c := &SQLCompiler{}
	sql, _, err := c.Compile(queryir.Select{From: "anything", Columns: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT x FROM anything ORDER BY seq ASC", sql)

	_, _, err = c.Compile(queryir.Select{From: "anything"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, _, err = c.Compile(queryir.Select{From: "t", Columns: []string{"x"}, Filter: queryir.Equals{Field: "x", Value: 1.5}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
