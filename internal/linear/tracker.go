package linear

import (
	"errors"
	"slices"

	"github.com/roach88/causality/internal/ir"
)

type binding struct {
	lin   ir.Linearity
	usage Usage
}

// Tracker checks variable usage at compile time. Each scope level owns the
// variables declared in it; Exit runs the drop checks for that level.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	scopes []map[string]*binding
}

// NewTracker creates a tracker with one open scope.
func NewTracker() *Tracker {
	return &Tracker{scopes: []map[string]*binding{{}}}
}

// Enter opens a nested scope.
func (t *Tracker) Enter() {
	t.scopes = append(t.scopes, map[string]*binding{})
}

// Exit closes the innermost scope and reports every unmet drop obligation
// in name order.
func (t *Tracker) Exit() error {
	if len(t.scopes) == 0 {
		return nil
	}
	top := t.scopes[len(t.scopes)-1]
	t.scopes = t.scopes[:len(t.scopes)-1]
	return dropAll(top)
}

func dropAll(scope map[string]*binding) error {
	names := make([]string, 0, len(scope))
	for name := range scope {
		names = append(names, name)
	}
	slices.Sort(names)
	var errs []error
	for _, name := range names {
		b := scope[name]
		if err := b.usage.Drop(b.lin); err != nil {
			err.(*Error).Subject = name
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Declare binds name in the innermost scope, shadowing outer bindings.
func (t *Tracker) Declare(name string, l ir.Linearity) {
	t.scopes[len(t.scopes)-1][name] = &binding{lin: l}
}

func (t *Tracker) lookup(name string) *binding {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if b, ok := t.scopes[i][name]; ok {
			return b
		}
	}
	return nil
}

// Use records a reference to name. Linear and affine values are moved by
// a reference; relevant and unrestricted values are copied. Unknown names
// are ignored.
func (t *Tracker) Use(name string) error {
	b := t.lookup(name)
	if b == nil {
		return nil
	}
	var err error
	if b.lin.CanCopy() {
		err = b.usage.Copy(b.lin)
	} else {
		err = b.usage.Consume(b.lin)
	}
	if le, ok := err.(*Error); ok {
		le.Subject = name
	}
	return err
}

// Snapshot captures the usage of every visible binding.
func (t *Tracker) Snapshot() map[string]Usage {
	out := map[string]Usage{}
	for _, scope := range t.scopes {
		for name, b := range scope {
			out[name] = b.usage
		}
	}
	return out
}

// Restore resets usage to a snapshot taken on the same scope stack.
func (t *Tracker) Restore(snap map[string]Usage) {
	for _, scope := range t.scopes {
		for name, b := range scope {
			if u, ok := snap[name]; ok {
				b.usage = u
			}
		}
	}
}

// Merge joins the outcomes of two alternative branches. A linear binding
// must be consumed in both or neither; an affine binding consumed in one
// branch is unavailable afterwards; relevant bindings count as used only
// when both branches used them.
func (t *Tracker) Merge(left, right map[string]Usage) error {
	var errs []error
	names := make([]string, 0, len(left))
	for name := range left {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		b := t.lookup(name)
		if b == nil {
			continue
		}
		l, r := left[name], right[name]
		if b.lin == ir.Linear && l.Consumed != r.Consumed {
			errs = append(errs, &Error{Kind: ErrUnusedLinear, Linearity: b.lin, Subject: name})
		}
		b.usage = Usage{
			Consumed: l.Consumed || r.Consumed,
			Used:     l.Used && r.Used,
		}
	}
	return errors.Join(errs...)
}

// Linearity returns the discipline of the innermost binding of name.
func (t *Tracker) Linearity(name string) (ir.Linearity, bool) {
	if b := t.lookup(name); b != nil {
		return b.lin, true
	}
	return 0, false
}
