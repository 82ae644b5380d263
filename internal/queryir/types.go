package queryir

// Query is a read over a stored table.
//
// This is a sealed interface: only Select implements it.
type Query interface {
	queryNode()
}

// Predicate is a filter condition.
//
// This is a sealed interface. The implementations are Equals,
// BoundEquals, Not and And.
type Predicate interface {
	predicateNode()
}

// Select reads Columns from one table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY seq [DESC] LIMIT <limit>
//
// Example:
//
//	Select{
//	  From:    "runs",
//	  Columns: []string{"id", "failure"},
//	  Filter: And{Predicates: []Predicate{
//	    BoundEquals{Field: "program_id", BoundVar: "program"},
//	    Not{Predicate: Equals{Field: "failure", Value: ""}},
//	  }},
//	}
//
// Columns come back in the order given, so callers can scan positionally.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	Newest  bool      // order by seq descending
	Limit   int       // 0 = no limit
}

func (Select) queryNode() {}

// Equals is <field> = <value>. Value must be a Literal.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// BoundEquals is <field> = <bound value>. The value is supplied by name
// when the query is compiled, so one query can be reused with different
// arguments.
type BoundEquals struct {
	Field    string
	BoundVar string
}

func (BoundEquals) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And is a conjunction. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
