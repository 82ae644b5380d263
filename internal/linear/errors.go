package linear

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorKind identifies a linearity violation.
type ErrorKind string

const (
	ErrMultipleUse    ErrorKind = "MULTIPLE_USE"
	ErrUseAfterDrop   ErrorKind = "USE_AFTER_DROP"
	ErrUnusedLinear   ErrorKind = "UNUSED_LINEAR"
	ErrUnusedRelevant ErrorKind = "UNUSED_RELEVANT"
)

// Error is a linearity violation. Subject names the value (a variable or
// register) when known.
type Error struct {
	Kind      ErrorKind
	Linearity ir.Linearity
	Subject   string
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s value %s", e.Kind, e.Linearity, e.Subject)
	}
	return fmt.Sprintf("%s: %s value", e.Kind, e.Linearity)
}

// Category implements ir.Categorized.
func (e *Error) Category() ir.Category { return ir.CategoryResourceState }

// KindOf returns the violation kind of err, or "" when err is not a
// linearity error. Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Is reports whether err is a linearity error of the given kind.
func Is(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
