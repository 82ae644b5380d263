package linear

import "github.com/roach88/causality/internal/ir"

// Usage records whether a value has been consumed or copied.
// The zero value is a fresh, unused value.
type Usage struct {
	Consumed bool
	Used     bool
}

// Consume marks the value consumed. It is always permitted once.
func (u *Usage) Consume(l ir.Linearity) error {
	if u.Consumed {
		return &Error{Kind: ErrMultipleUse, Linearity: l}
	}
	u.Consumed = true
	u.Used = true
	return nil
}

// Copy reads the value without consuming it. Only relevant and
// unrestricted values may be copied.
func (u *Usage) Copy(l ir.Linearity) error {
	if u.Consumed {
		return &Error{Kind: ErrUseAfterDrop, Linearity: l}
	}
	if !l.CanCopy() {
		return &Error{Kind: ErrMultipleUse, Linearity: l}
	}
	u.Used = true
	return nil
}

// Drop checks the drop obligation of the value.
func (u *Usage) Drop(l ir.Linearity) error {
	switch {
	case l == ir.Linear && !u.Consumed:
		return &Error{Kind: ErrUnusedLinear, Linearity: l}
	case l == ir.Relevant && !u.Used:
		return &Error{Kind: ErrUnusedRelevant, Linearity: l}
	}
	return nil
}

// Satisfied reports whether dropping now would succeed.
func (u Usage) Satisfied(l ir.Linearity) bool {
	return u.Drop(l) == nil
}
