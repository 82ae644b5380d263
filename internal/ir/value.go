package ir

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates machine values. Values are wire tags.
type ValueKind uint8

const (
	VUnit ValueKind = iota + 1
	VBool
	VInt
	VSymbol
	VPair
	VInl
	VInr
	VRef
	VMorph
	VChannel
	VType
)

// Value is a sealed interface over machine values.
// Only the types in this file and Morphism implement it.
// NO float values - numbers are int64 (CP-3).
type Value interface {
	Canonical
	Kind() ValueKind
	String() string
	value() // Sealed
}

// Unit is the unit value and the identity of ⊗.
type Unit struct{}

// Bool is a boolean value.
type Bool bool

// Int is a 64-bit signed integer value.
type Int int64

// Symbol is an interned name. Symbols must be NFC-normalized.
type Symbol string

// Pair is the tensor product of two values.
type Pair struct {
	Left, Right Value
}

// Inl is the left injection into a sum.
type Inl struct{ V Value }

// Inr is the right injection into a sum.
type Inr struct{ V Value }

// Ref points at a heap-resident resource.
type Ref struct{ ID ResourceID }

// Channel names a session endpoint.
type Channel string

// TypeDesc describes an allocation: the resource type and its discipline.
// Alloc reads it from its type register.
type TypeDesc struct {
	Type      TypeTag
	Linearity Linearity
}

func (Unit) value()     {}
func (Bool) value()     {}
func (Int) value()      {}
func (Symbol) value()   {}
func (Pair) value()     {}
func (Inl) value()      {}
func (Inr) value()      {}
func (Ref) value()      {}
func (Channel) value()  {}
func (TypeDesc) value() {}

func (Unit) Kind() ValueKind     { return VUnit }
func (Bool) Kind() ValueKind     { return VBool }
func (Int) Kind() ValueKind      { return VInt }
func (Symbol) Kind() ValueKind   { return VSymbol }
func (Pair) Kind() ValueKind     { return VPair }
func (Inl) Kind() ValueKind      { return VInl }
func (Inr) Kind() ValueKind      { return VInr }
func (Ref) Kind() ValueKind      { return VRef }
func (Channel) Kind() ValueKind  { return VChannel }
func (TypeDesc) Kind() ValueKind { return VType }

func (Unit) String() string       { return "unit" }
func (v Bool) String() string     { return strconv.FormatBool(bool(v)) }
func (v Int) String() string      { return strconv.FormatInt(int64(v), 10) }
func (v Symbol) String() string   { return "'" + string(v) }
func (v Pair) String() string     { return fmt.Sprintf("(%s ⊗ %s)", v.Left, v.Right) }
func (v Inl) String() string      { return fmt.Sprintf("(inl %s)", v.V) }
func (v Inr) String() string      { return fmt.Sprintf("(inr %s)", v.V) }
func (v Ref) String() string      { return "#" + v.ID.Short() }
func (v Channel) String() string  { return "chan:" + string(v) }
func (v TypeDesc) String() string { return v.Linearity.String() + " " + v.Type.String() }

func (Unit) EncodeTo(e *Encoder) { e.Tag(byte(VUnit)) }

func (v Bool) EncodeTo(e *Encoder) {
	e.Tag(byte(VBool))
	e.Bool(bool(v))
}

func (v Int) EncodeTo(e *Encoder) {
	e.Tag(byte(VInt))
	e.I64(int64(v))
}

func (v Symbol) EncodeTo(e *Encoder) {
	e.Tag(byte(VSymbol))
	e.String(string(v))
}

func (v Pair) EncodeTo(e *Encoder) {
	e.Tag(byte(VPair))
	encodeValue(e, v.Left)
	encodeValue(e, v.Right)
}

func (v Inl) EncodeTo(e *Encoder) {
	e.Tag(byte(VInl))
	encodeValue(e, v.V)
}

func (v Inr) EncodeTo(e *Encoder) {
	e.Tag(byte(VInr))
	encodeValue(e, v.V)
}

func (v Ref) EncodeTo(e *Encoder) {
	e.Tag(byte(VRef))
	e.ID(EntityID(v.ID))
}

func (v Channel) EncodeTo(e *Encoder) {
	e.Tag(byte(VChannel))
	e.String(string(v))
}

func (v TypeDesc) EncodeTo(e *Encoder) {
	e.Tag(byte(VType))
	v.Type.EncodeTo(e)
	if !v.Linearity.Valid() {
		e.Fail("invalid linearity %d", v.Linearity)
	}
	e.U8(uint8(v.Linearity))
}

func encodeValue(e *Encoder, v Value) {
	if v == nil {
		e.Fail("nil value")
		return
	}
	v.EncodeTo(e)
}

// EncodeValue writes v; a nil value is an encoding error.
func EncodeValue(e *Encoder, v Value) {
	encodeValue(e, v)
}

// DecodeValue reads a Value.
func DecodeValue(d *Decoder) Value {
	return decodeValue(d, 0)
}

const maxValueDepth = 256

func decodeValue(d *Decoder, depth int) Value {
	if depth > maxValueDepth {
		d.Fail("value nesting exceeds %d", maxValueDepth)
		return Unit{}
	}
	switch k := ValueKind(d.Tag()); k {
	case VUnit:
		return Unit{}
	case VBool:
		return Bool(d.Bool())
	case VInt:
		return Int(d.I64())
	case VSymbol:
		return Symbol(d.String())
	case VPair:
		l := decodeValue(d, depth+1)
		r := decodeValue(d, depth+1)
		return Pair{Left: l, Right: r}
	case VInl:
		return Inl{V: decodeValue(d, depth+1)}
	case VInr:
		return Inr{V: decodeValue(d, depth+1)}
	case VRef:
		return Ref{ID: ResourceID(d.ID())}
	case VMorph:
		return decodeMorphismBody(d, depth+1)
	case VChannel:
		return Channel(d.String())
	case VType:
		t := DecodeType(d)
		l := Linearity(d.U8())
		if !l.Valid() {
			d.Fail("invalid linearity %d", l)
		}
		return TypeDesc{Type: t, Linearity: l}
	default:
		d.Fail("unknown value kind %d", k)
		return Unit{}
	}
}

// ValueHash hashes a value under the value domain.
func ValueHash(v Value) (ContentID, error) {
	return Hash(valueEntity{v})
}

type valueEntity struct{ Value }

func (valueEntity) HashDomain() string { return DomainValue }

// ValuesEqual compares values by canonical encoding.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ea) == string(eb)
}

// Conforms reports whether v inhabits t. Located types check the inner
// type; function and transform types accept morphisms; sessions accept
// channels.
func Conforms(v Value, t TypeTag) bool {
	switch t.Kind {
	case KindUnit:
		_, ok := v.(Unit)
		return ok
	case KindBool:
		_, ok := v.(Bool)
		return ok
	case KindInt:
		_, ok := v.(Int)
		return ok
	case KindSymbol:
		_, ok := v.(Symbol)
		return ok
	case KindProduct:
		p, ok := v.(Pair)
		return ok && Conforms(p.Left, *t.Left) && Conforms(p.Right, *t.Right)
	case KindSum:
		switch s := v.(type) {
		case Inl:
			return Conforms(s.V, *t.Left)
		case Inr:
			return Conforms(s.V, *t.Right)
		}
		return false
	case KindLinearFn, KindTransform:
		_, ok := v.(Morphism)
		return ok
	case KindSession:
		_, ok := v.(Channel)
		return ok
	case KindLocated:
		return Conforms(v, *t.Left)
	}
	return false
}

// KindName returns a short name for a value's kind, used in type errors.
func KindName(v Value) string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind() {
	case VUnit:
		return "Unit"
	case VBool:
		return "Bool"
	case VInt:
		return "Int"
	case VSymbol:
		return "Symbol"
	case VPair:
		return "Product"
	case VInl, VInr:
		return "Sum"
	case VRef:
		return "Resource"
	case VMorph:
		return "Morphism"
	case VChannel:
		return "Session"
	case VType:
		return "Type"
	}
	return "unknown"
}
