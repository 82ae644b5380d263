package ir

import (
	"fmt"
	"strings"
)

// MorphOp discriminates morphisms. Values are wire tags.
type MorphOp uint8

const (
	MorphIdentity MorphOp = iota + 1
	MorphConst
	MorphAdd
	MorphSub
	MorphMul
	MorphEq
	MorphLt
	MorphNot
	MorphNeg
	MorphFst
	MorphSnd
	MorphSwap
	MorphInjL
	MorphInjR
	MorphSeq
	MorphPar
	MorphLocated
)

var morphNames = map[MorphOp]string{
	MorphIdentity: "id",
	MorphConst:    "const",
	MorphAdd:      "add",
	MorphSub:      "sub",
	MorphMul:      "mul",
	MorphEq:       "eq",
	MorphLt:       "lt",
	MorphNot:      "not",
	MorphNeg:      "neg",
	MorphFst:      "fst",
	MorphSnd:      "snd",
	MorphSwap:     "swap",
	MorphInjL:     "inl",
	MorphInjR:     "inr",
	MorphSeq:      "seq",
	MorphPar:      "par",
	MorphLocated:  "located",
}

func (op MorphOp) String() string {
	if n, ok := morphNames[op]; ok {
		return n
	}
	return fmt.Sprintf("morph(%d)", uint8(op))
}

// PrimitiveMorph looks up a parameterless morphism by surface name.
func PrimitiveMorph(name string) (Morphism, bool) {
	for op, n := range morphNames {
		if n != name {
			continue
		}
		switch op {
		case MorphConst, MorphSeq, MorphPar, MorphLocated:
			return Morphism{}, false
		}
		return Morphism{Op: op}, true
	}
	return Morphism{}, false
}

// Morphism is a closed-set arrow over machine values. Morphisms are values:
// they live in registers and are applied by Transform.
//
// Composition is kept in normal form: Seq is flat, contains no identities,
// and adjacent Par stages are fused (interchange law). Associativity and
// bifunctoriality therefore hold structurally.
type Morphism struct {
	Op       MorphOp
	Const    Value      // MorphConst
	Parts    []Morphism // MorphSeq stages, MorphPar [left, right], MorphLocated [inner]
	Location DomainID   // MorphLocated
}

func (Morphism) value()          {}
func (Morphism) Kind() ValueKind { return VMorph }

// Identity returns the identity morphism.
func Identity() Morphism { return Morphism{Op: MorphIdentity} }

// ConstMorph returns the morphism that ignores its input and yields v.
func ConstMorph(v Value) Morphism { return Morphism{Op: MorphConst, Const: v} }

// Prim returns a parameterless primitive.
func Prim(op MorphOp) Morphism { return Morphism{Op: op} }

// Located tags a morphism with the domain it must run in.
func Located(m Morphism, loc DomainID) Morphism {
	return Morphism{Op: MorphLocated, Parts: []Morphism{m}, Location: loc}
}

// Then composes sequentially: first f, then g.
func Then(f, g Morphism) Morphism {
	return Seq(f, g)
}

// Seq composes stages left to right into normal form.
func Seq(stages ...Morphism) Morphism {
	var flat []Morphism
	for _, s := range stages {
		switch s.Op {
		case MorphIdentity:
			continue
		case MorphSeq:
			for _, inner := range s.Parts {
				flat = appendStage(flat, inner)
			}
		default:
			flat = appendStage(flat, s)
		}
	}
	switch len(flat) {
	case 0:
		return Identity()
	case 1:
		return flat[0]
	}
	return Morphism{Op: MorphSeq, Parts: flat}
}

// appendStage fuses par(f1,g1) ; par(f2,g2) into par(f1;f2, g1;g2).
func appendStage(flat []Morphism, m Morphism) []Morphism {
	if n := len(flat); n > 0 && m.Op == MorphPar && flat[n-1].Op == MorphPar {
		prev := flat[n-1]
		fused := Par(Seq(prev.Parts[0], m.Parts[0]), Seq(prev.Parts[1], m.Parts[1]))
		flat = flat[:n-1]
		if fused.Op == MorphIdentity {
			return flat
		}
		return append(flat, fused)
	}
	return append(flat, m)
}

// Par is the tensor of two morphisms: it maps (a ⊗ b) to (f a ⊗ g b).
// par(id, id) normalizes to id.
func Par(f, g Morphism) Morphism {
	if f.Op == MorphIdentity && g.Op == MorphIdentity {
		return Identity()
	}
	return Morphism{Op: MorphPar, Parts: []Morphism{f, g}}
}

// Equal compares morphisms structurally.
func (m Morphism) Equal(o Morphism) bool {
	return ValuesEqual(m, o)
}

func (m Morphism) String() string {
	switch m.Op {
	case MorphConst:
		return fmt.Sprintf("(const %s)", m.Const)
	case MorphSeq:
		parts := make([]string, len(m.Parts))
		for i, p := range m.Parts {
			parts[i] = p.String()
		}
		return "(seq " + strings.Join(parts, " ") + ")"
	case MorphPar:
		return fmt.Sprintf("(par %s %s)", m.Parts[0], m.Parts[1])
	case MorphLocated:
		return fmt.Sprintf("(located %s %s)", m.Parts[0], EntityID(m.Location).Short())
	}
	return m.Op.String()
}

// EncodeTo implements Canonical.
func (m Morphism) EncodeTo(e *Encoder) {
	e.Tag(byte(VMorph))
	m.encodeBody(e)
}

func (m Morphism) encodeBody(e *Encoder) {
	e.Tag(byte(m.Op))
	switch m.Op {
	case MorphConst:
		encodeValue(e, m.Const)
	case MorphSeq:
		e.Len(len(m.Parts))
		for _, p := range m.Parts {
			p.encodeBody(e)
		}
	case MorphPar:
		if len(m.Parts) != 2 {
			e.Fail("par morphism needs 2 parts, has %d", len(m.Parts))
			return
		}
		m.Parts[0].encodeBody(e)
		m.Parts[1].encodeBody(e)
	case MorphLocated:
		if len(m.Parts) != 1 {
			e.Fail("located morphism needs 1 part, has %d", len(m.Parts))
			return
		}
		m.Parts[0].encodeBody(e)
		e.ID(EntityID(m.Location))
	default:
		if _, ok := morphNames[m.Op]; !ok {
			e.Fail("unknown morphism op %d", m.Op)
		}
	}
}

func decodeMorphismBody(d *Decoder, depth int) Morphism {
	if depth > maxValueDepth {
		d.Fail("morphism nesting exceeds %d", maxValueDepth)
		return Identity()
	}
	op := MorphOp(d.Tag())
	switch op {
	case MorphConst:
		return ConstMorph(decodeValue(d, depth+1))
	case MorphSeq:
		n := d.Len()
		parts := make([]Morphism, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			parts = append(parts, decodeMorphismBody(d, depth+1))
		}
		m := Morphism{Op: MorphSeq, Parts: parts}
		if d.Err() == nil && !Seq(parts...).Equal(m) {
			d.Fail("morphism composition is not in normal form")
		}
		return m
	case MorphPar:
		f := decodeMorphismBody(d, depth+1)
		g := decodeMorphismBody(d, depth+1)
		if f.Op == MorphIdentity && g.Op == MorphIdentity {
			d.Fail("par(id, id) is not in normal form")
		}
		return Morphism{Op: MorphPar, Parts: []Morphism{f, g}}
	case MorphLocated:
		inner := decodeMorphismBody(d, depth+1)
		return Located(inner, DomainID(d.ID()))
	default:
		if _, ok := morphNames[op]; !ok {
			d.Fail("unknown morphism op %d", op)
		}
		return Morphism{Op: op}
	}
}
