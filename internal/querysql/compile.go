// Package querysql compiles queryir queries to parameterized SQLite.
package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/causality/internal/queryir"
)

// ErrInvalidQuery is returned for a query that fails catalog validation.
var ErrInvalidQuery = errors.New("invalid query")

// SQLCompiler compiles queries to parameterized SQL for SQLite.
//
// CRITICAL: every query is ordered by seq (queryir CP-2).
// CRITICAL: values are always parameters, never interpolated.
type SQLCompiler struct {
	// Catalog, when set, is checked before compiling. Table and column
	// names are spliced into the SQL, so callers compiling queries built
	// from user input must set it.
	Catalog queryir.Catalog

	// BoundValues holds the values for BoundEquals predicates.
	BoundValues map[string]any
}

// NewSQLCompiler creates a compiler that validates against catalog.
func NewSQLCompiler(catalog queryir.Catalog) *SQLCompiler {
	return &SQLCompiler{Catalog: catalog, BoundValues: map[string]any{}}
}

// Bind sets a bound value and returns c for chaining.
func (c *SQLCompiler) Bind(name string, v any) *SQLCompiler {
	if c.BoundValues == nil {
		c.BoundValues = map[string]any{}
	}
	c.BoundValues[name] = v
	return c
}

// Compile converts q to SQL and its parameters.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("%w: nil query", ErrInvalidQuery)
	}
	if c.Catalog != nil {
		if res := queryir.Validate(q, c.Catalog); !res.Valid {
			return "", nil, fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(res.Errors, "; "))
		}
	}
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("%w: unsupported query type %T", ErrInvalidQuery, q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("%w: no columns selected from %s", ErrInvalidQuery, q.From)
	}
	var (
		b      strings.Builder
		params []any
	)
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.From)
	if q.Filter != nil {
		where, p, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE " + where)
		params = p
	}
	b.WriteString(" ORDER BY " + stableOrderKey(q))
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, int64(q.Limit))
	}
	return b.String(), params, nil
}

// stableOrderKey orders by the table's logical sequence. Every stored
// table has a unique seq column.
func stableOrderKey(q queryir.Select) string {
	if q.Newest {
		return "seq DESC"
	}
	return "seq ASC"
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred)
	case queryir.Not:
		return c.compileNot(pred)
	case *queryir.Not:
		return c.compileNot(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	case nil:
		return "", nil, fmt.Errorf("%w: nil predicate", ErrInvalidQuery)
	default:
		return "", nil, fmt.Errorf("%w: unsupported predicate type %T", ErrInvalidQuery, p)
	}
}

func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := queryir.Literal(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, eq.Field, err)
	}
	return eq.Field + " = ?", []any{param}, nil
}

// compileBoundEquals looks the value up in BoundValues. A missing value
// is an error rather than an unbound placeholder.
func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals) (string, []any, error) {
	v, ok := c.BoundValues[beq.BoundVar]
	if !ok {
		return "", nil, fmt.Errorf("%w: no value bound for %q", ErrInvalidQuery, beq.BoundVar)
	}
	param, err := queryir.Literal(v)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, beq.BoundVar, err)
	}
	return beq.Field + " = ?", []any{param}, nil
}

func (c *SQLCompiler) compileNot(n queryir.Not) (string, []any, error) {
	sql, params, err := c.compilePredicate(n.Predicate)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", params, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}
