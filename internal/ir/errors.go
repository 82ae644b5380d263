package ir

import (
	"errors"
	"fmt"
)

// Category groups errors for exit-code mapping at command surfaces.
type Category int

const (
	// CategoryInternal is the fallback for untyped errors.
	CategoryInternal Category = iota
	// CategoryValidation covers parse, type, graph and usage errors.
	CategoryValidation
	// CategoryResourceState covers linearity, heap and runtime-state errors.
	CategoryResourceState
	// CategoryBoundary covers adapter and network errors.
	CategoryBoundary
)

// String returns the lowercase category name.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryResourceState:
		return "resource_state"
	case CategoryBoundary:
		return "boundary"
	default:
		return "internal"
	}
}

// Categorized is implemented by every typed error in the module.
type Categorized interface {
	error
	Category() Category
}

// CategoryOf returns the category of the first categorized error in err's
// chain, or CategoryInternal.
func CategoryOf(err error) Category {
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return CategoryInternal
}

// DecodeError reports malformed or non-canonical input.
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %s", e.Offset, e.Message)
}

// Category implements Categorized.
func (e *DecodeError) Category() Category { return CategoryValidation }

// EncodeError reports a value that cannot be encoded canonically.
// It is a programmer error: the caller built a non-canonical value.
type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "encode error: " + e.Message
}

// Category implements Categorized.
func (e *EncodeError) Category() Category { return CategoryValidation }

// IsDecodeError returns true if err is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
