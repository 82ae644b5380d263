package queryir

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"github.com/roach88/causality/internal/ir"
)

// Catalog lists the columns of each queryable table.
type Catalog map[string][]string

// HasColumn reports whether table has column.
func (c Catalog) HasColumn(table, column string) bool {
	return slices.Contains(c[table], column)
}

// ValidationResult lists the problems found in a query. A query with no
// errors is Valid.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks a query against catalog: the table and every column it
// names must exist, literals must be of a supported kind and bound
// variables must be named.
//
// Validate is a pure function.
func Validate(q Query, catalog Catalog) ValidationResult {
	v := &validator{catalog: catalog, errors: []string{}}
	v.query(q)
	return ValidationResult{Valid: len(v.errors) == 0, Errors: v.errors}
}

type validator struct {
	catalog Catalog
	table   string
	errors  []string
}

func (v *validator) fail(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) query(q Query) {
	switch query := q.(type) {
	case Select:
		v.selectQuery(query)
	case *Select:
		if query == nil {
			v.fail("nil query")
			return
		}
		v.selectQuery(*query)
	case nil:
		v.fail("nil query")
	default:
		v.fail("unknown query type %T", q)
	}
}

func (v *validator) selectQuery(sel Select) {
	if _, ok := v.catalog[sel.From]; !ok {
		v.fail("unknown table %q", sel.From)
		return
	}
	v.table = sel.From
	if len(sel.Columns) == 0 {
		v.fail("no columns selected from %s", sel.From)
	}
	for _, c := range sel.Columns {
		v.column(c)
	}
	if sel.Limit < 0 {
		v.fail("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.predicate(sel.Filter)
	}
}

func (v *validator) column(name string) {
	if !v.catalog.HasColumn(v.table, name) {
		v.fail("unknown column %s.%s", v.table, name)
	}
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.equals(pred)
	case *Equals:
		v.equals(*pred)
	case BoundEquals:
		v.boundEquals(pred)
	case *BoundEquals:
		v.boundEquals(*pred)
	case Not:
		v.not(pred)
	case *Not:
		v.not(*pred)
	case And:
		v.and(pred)
	case *And:
		v.and(*pred)
	case nil:
		v.fail("nil predicate")
	default:
		v.fail("unknown predicate type %T", p)
	}
}

func (v *validator) equals(eq Equals) {
	v.column(eq.Field)
	if _, err := Literal(eq.Value); err != nil {
		v.fail("%s: %v", eq.Field, err)
	}
}

func (v *validator) boundEquals(beq BoundEquals) {
	v.column(beq.Field)
	if beq.BoundVar == "" {
		v.fail("%s: empty bound variable", beq.Field)
	}
}

func (v *validator) not(n Not) {
	if n.Predicate == nil {
		v.fail("not: nil predicate")
		return
	}
	v.predicate(n.Predicate)
}

func (v *validator) and(and And) {
	for _, sub := range and.Predicates {
		v.predicate(sub)
	}
}

// Literal converts v to a driver parameter. Strings, integers, booleans,
// byte slices, ir ints and bools, and entity ids are supported; ids are
// passed as their raw bytes.
func Literal(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		n, err := safecast.Conv[int64](val)
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", val, err)
		}
		return n, nil
	case bool:
		return val, nil
	case []byte:
		return val, nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.EntityID:
		return val.Bytes(), nil
	case interface{ Entity() ir.EntityID }:
		return val.Entity().Bytes(), nil
	case nil:
		return nil, fmt.Errorf("NULL is not comparable")
	}
	return nil, fmt.Errorf("unsupported literal type %T", v)
}
