package ir

import (
	"fmt"
	"strings"
)

// Linearity is the closed set of usage disciplines carried by resources
// and registers.
type Linearity uint8

const (
	// Linear values are consumed exactly once.
	Linear Linearity = iota
	// Affine values are consumed at most once and may be dropped.
	Affine
	// Relevant values are used at least once; copies count as use.
	Relevant
	// Unrestricted values carry no constraint.
	Unrestricted
)

// MustUse reports whether dropping an unused value is fatal.
func (l Linearity) MustUse() bool { return l == Linear || l == Relevant }

// UseOnce reports whether a second consumption is an error.
func (l Linearity) UseOnce() bool { return l == Linear || l == Affine }

// CanCopy reports whether the value may be copied.
func (l Linearity) CanCopy() bool { return l == Relevant || l == Unrestricted }

// Valid reports whether l is one of the four disciplines.
func (l Linearity) Valid() bool { return l <= Unrestricted }

func (l Linearity) String() string {
	switch l {
	case Linear:
		return "linear"
	case Affine:
		return "affine"
	case Relevant:
		return "relevant"
	case Unrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("linearity(%d)", uint8(l))
	}
}

// ParseLinearity parses a lowercase discipline name.
func ParseLinearity(s string) (Linearity, error) {
	switch s {
	case "linear":
		return Linear, nil
	case "affine":
		return Affine, nil
	case "relevant":
		return Relevant, nil
	case "unrestricted":
		return Unrestricted, nil
	}
	return 0, fmt.Errorf("unknown linearity %q", s)
}

// TypeKind discriminates TypeTag variants. Values are wire tags.
type TypeKind uint8

const (
	KindUnit TypeKind = iota + 1
	KindBool
	KindInt
	KindSymbol
	KindProduct
	KindSum
	KindLinearFn
	KindSession
	KindTransform
	KindLocated
)

// TypeTag is drawn from a closed set: Unit, Bool, Int, Symbol,
// Product(a,b), Sum(a,b), LinearFn(a,b), Session(σ), Transform(a,b,loc)
// and Located(a,loc). TypeTags are immutable after construction.
type TypeTag struct {
	Kind     TypeKind
	Left     *TypeTag // Product/Sum/LinearFn/Transform domain, Located inner
	Right    *TypeTag // Product/Sum/LinearFn/Transform codomain
	Protocol string   // Session protocol name
	Location DomainID // Transform and Located
}

// Scalar type tags.
var (
	UnitType   = TypeTag{Kind: KindUnit}
	BoolType   = TypeTag{Kind: KindBool}
	IntType    = TypeTag{Kind: KindInt}
	SymbolType = TypeTag{Kind: KindSymbol}
)

func ProductType(a, b TypeTag) TypeTag  { return TypeTag{Kind: KindProduct, Left: &a, Right: &b} }
func SumType(a, b TypeTag) TypeTag      { return TypeTag{Kind: KindSum, Left: &a, Right: &b} }
func LinearFnType(a, b TypeTag) TypeTag { return TypeTag{Kind: KindLinearFn, Left: &a, Right: &b} }
func SessionType(protocol string) TypeTag {
	return TypeTag{Kind: KindSession, Protocol: protocol}
}
func TransformType(a, b TypeTag, loc DomainID) TypeTag {
	return TypeTag{Kind: KindTransform, Left: &a, Right: &b, Location: loc}
}
func LocatedType(a TypeTag, loc DomainID) TypeTag {
	return TypeTag{Kind: KindLocated, Left: &a, Location: loc}
}

// Equal compares type tags structurally.
func (t TypeTag) Equal(o TypeTag) bool {
	if t.Kind != o.Kind || t.Protocol != o.Protocol || t.Location != o.Location {
		return false
	}
	return eqTypePtr(t.Left, o.Left) && eqTypePtr(t.Right, o.Right)
}

func eqTypePtr(a, b *TypeTag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (t TypeTag) String() string {
	switch t.Kind {
	case KindUnit:
		return "Unit"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindSymbol:
		return "Symbol"
	case KindProduct:
		return fmt.Sprintf("(%s ⊗ %s)", t.Left, t.Right)
	case KindSum:
		return fmt.Sprintf("(%s ⊕ %s)", t.Left, t.Right)
	case KindLinearFn:
		return fmt.Sprintf("(%s ⊸ %s)", t.Left, t.Right)
	case KindSession:
		return "Session(" + t.Protocol + ")"
	case KindTransform:
		return fmt.Sprintf("Transform(%s, %s @%s)", t.Left, t.Right, EntityID(t.Location).Short())
	case KindLocated:
		return fmt.Sprintf("%s@%s", t.Left, EntityID(t.Location).Short())
	default:
		return fmt.Sprintf("type(%d)", t.Kind)
	}
}

// ParseTypeName parses the scalar names used by the surface language.
func ParseTypeName(s string) (TypeTag, error) {
	switch strings.ToLower(s) {
	case "unit":
		return UnitType, nil
	case "bool":
		return BoolType, nil
	case "int":
		return IntType, nil
	case "symbol":
		return SymbolType, nil
	}
	return TypeTag{}, fmt.Errorf("unknown type %q", s)
}

// HashDomain implements Entity.
func (t TypeTag) HashDomain() string { return DomainType }

// EncodeTo implements Canonical.
func (t TypeTag) EncodeTo(e *Encoder) {
	e.Tag(byte(t.Kind))
	switch t.Kind {
	case KindUnit, KindBool, KindInt, KindSymbol:
	case KindProduct, KindSum, KindLinearFn:
		if t.Left == nil || t.Right == nil {
			e.Fail("%d type tag missing operand", t.Kind)
			return
		}
		t.Left.EncodeTo(e)
		t.Right.EncodeTo(e)
	case KindSession:
		e.String(t.Protocol)
	case KindTransform:
		if t.Left == nil || t.Right == nil {
			e.Fail("transform type tag missing operand")
			return
		}
		t.Left.EncodeTo(e)
		t.Right.EncodeTo(e)
		e.ID(EntityID(t.Location))
	case KindLocated:
		if t.Left == nil {
			e.Fail("located type tag missing operand")
			return
		}
		t.Left.EncodeTo(e)
		e.ID(EntityID(t.Location))
	default:
		e.Fail("unknown type kind %d", t.Kind)
	}
}

// DecodeType reads a TypeTag.
func DecodeType(d *Decoder) TypeTag {
	return decodeType(d, 0)
}

const maxTypeDepth = 64

func decodeType(d *Decoder, depth int) TypeTag {
	if depth > maxTypeDepth {
		d.Fail("type nesting exceeds %d", maxTypeDepth)
		return TypeTag{}
	}
	k := TypeKind(d.Tag())
	switch k {
	case KindUnit, KindBool, KindInt, KindSymbol:
		return TypeTag{Kind: k}
	case KindProduct, KindSum, KindLinearFn:
		a := decodeType(d, depth+1)
		b := decodeType(d, depth+1)
		return TypeTag{Kind: k, Left: &a, Right: &b}
	case KindSession:
		return SessionType(d.String())
	case KindTransform:
		a := decodeType(d, depth+1)
		b := decodeType(d, depth+1)
		return TransformType(a, b, DomainID(d.ID()))
	case KindLocated:
		a := decodeType(d, depth+1)
		return LocatedType(a, DomainID(d.ID()))
	default:
		d.Fail("unknown type kind %d", k)
		return TypeTag{}
	}
}
