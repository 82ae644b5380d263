package machine

import (
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// LawError reports a failed category-law check.
type LawError struct {
	Law    string
	Detail string
}

func (e *LawError) Error() string {
	return fmt.Sprintf("category law %s violated: %s", e.Law, e.Detail)
}

// Category implements ir.Categorized.
func (e *LawError) Category() ir.Category { return ir.CategoryInternal }

// CheckIdentity verifies id ; f = f = f ; id.
func CheckIdentity(f ir.Morphism) error {
	if !ir.Then(ir.Identity(), f).Equal(f) {
		return &LawError{Law: "left identity", Detail: f.String()}
	}
	if !ir.Then(f, ir.Identity()).Equal(f) {
		return &LawError{Law: "right identity", Detail: f.String()}
	}
	return nil
}

// CheckAssociativity verifies (f ; g) ; h = f ; (g ; h).
func CheckAssociativity(f, g, h ir.Morphism) error {
	left := ir.Then(ir.Then(f, g), h)
	right := ir.Then(f, ir.Then(g, h))
	if !left.Equal(right) {
		return &LawError{Law: "associativity", Detail: left.String() + " != " + right.String()}
	}
	return nil
}

// CheckFunctoriality verifies that applying m to v agrees with applying
// its stages one after another, split at every point.
func CheckFunctoriality(m ir.Morphism, v ir.Value) error {
	whole, err := Apply(m, v)
	if err != nil {
		// Ill-typed applications are reported by execution itself.
		return nil
	}
	if m.Op != ir.MorphSeq {
		viaID, err := Apply(ir.Then(ir.Identity(), m), v)
		if err != nil || !ir.ValuesEqual(whole, viaID) {
			return &LawError{Law: "functoriality", Detail: "identity prefix changed " + m.String()}
		}
		return nil
	}
	for k := 1; k < len(m.Parts); k++ {
		head := ir.Seq(m.Parts[:k]...)
		tail := ir.Seq(m.Parts[k:]...)
		mid, err := Apply(head, v)
		if err != nil {
			return &LawError{Law: "functoriality", Detail: err.Error()}
		}
		out, err := Apply(tail, mid)
		if err != nil || !ir.ValuesEqual(out, whole) {
			return &LawError{Law: "functoriality", Detail: fmt.Sprintf("split at %d of %s", k, m)}
		}
	}
	return nil
}

// CheckBifunctoriality verifies the tensor laws for operands l and r:
// unit is an identity on both sides, and par(id, id) fixes the pair.
func CheckBifunctoriality(l, r ir.Value) error {
	if !ir.ValuesEqual(TensorValues(ir.Unit{}, l), l) || !ir.ValuesEqual(TensorValues(l, ir.Unit{}), l) {
		return &LawError{Law: "tensor unit", Detail: l.String()}
	}
	pair := TensorValues(l, r)
	if p, ok := pair.(ir.Pair); ok {
		out, err := Apply(ir.Par(ir.Identity(), ir.Identity()), p)
		if err != nil || !ir.ValuesEqual(out, p) {
			return &LawError{Law: "bifunctoriality", Detail: p.String()}
		}
	}
	fm, okF := l.(ir.Morphism)
	gm, okG := r.(ir.Morphism)
	if okF && okG {
		// (f ⊗ g) ; (id ⊗ id) = f ⊗ g
		if !ir.Then(ir.Par(fm, gm), ir.Par(ir.Identity(), ir.Identity())).Equal(ir.Par(fm, gm)) {
			return &LawError{Law: "bifunctoriality", Detail: fm.String() + " ⊗ " + gm.String()}
		}
	}
	return nil
}
