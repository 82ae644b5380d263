package linear

import "github.com/roach88/causality/internal/ir"

// Discipline is implemented by the phantom marker types below.
type Discipline interface {
	Linearity() ir.Linearity
}

// Marker types for Resource's discipline parameter.
type (
	Linear       struct{}
	Affine       struct{}
	Relevant     struct{}
	Unrestricted struct{}
)

func (Linear) Linearity() ir.Linearity       { return ir.Linear }
func (Affine) Linearity() ir.Linearity       { return ir.Affine }
func (Relevant) Linearity() ir.Linearity     { return ir.Relevant }
func (Unrestricted) Linearity() ir.Linearity { return ir.Unrestricted }

// Resource wraps a host value with a usage discipline.
//
//	r := linear.New[linear.Linear](token)
//	v, err := r.Consume()
type Resource[T any, L Discipline] struct {
	value T
	usage Usage
}

// New wraps v under discipline L.
func New[L Discipline, T any](v T) *Resource[T, L] {
	return &Resource[T, L]{value: v}
}

// Linearity returns the discipline of L.
func (r *Resource[T, L]) Linearity() ir.Linearity {
	var l L
	return l.Linearity()
}

// MustUse reports whether L forbids silent drops.
func (r *Resource[T, L]) MustUse() bool { return r.Linearity().MustUse() }

// UseOnce reports whether L forbids a second consumption.
func (r *Resource[T, L]) UseOnce() bool { return r.Linearity().UseOnce() }

// Consume moves the value out.
func (r *Resource[T, L]) Consume() (T, error) {
	var zero T
	if err := r.usage.Consume(r.Linearity()); err != nil {
		return zero, err
	}
	v := r.value
	r.value = zero
	return v, nil
}

// Copy returns the value without consuming it.
func (r *Resource[T, L]) Copy() (T, error) {
	var zero T
	if err := r.usage.Copy(r.Linearity()); err != nil {
		return zero, err
	}
	return r.value, nil
}

// Drop releases the resource. Afterwards it counts as consumed.
func (r *Resource[T, L]) Drop() error {
	err := r.usage.Drop(r.Linearity())
	r.usage.Consumed = true
	var zero T
	r.value = zero
	return err
}

// Consumed reports whether the value has been moved out or dropped.
func (r *Resource[T, L]) Consumed() bool { return r.usage.Consumed }
