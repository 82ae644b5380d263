package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies a compilation failure.
type ErrorCode string

const (
	ErrCodeParse          ErrorCode = "PARSE_ERROR"
	ErrCodeLowering       ErrorCode = "LOWERING_ERROR"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// Pos is a 1-based line and column in the source.
type Pos struct {
	Line   int
	Column int
}

// IsValid reports whether p points into a source.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// CompileError represents a compilation error with source position.
type CompileError struct {
	Code    ErrorCode
	Message string
	Feature string // NOT_IMPLEMENTED
	Pos     Pos
	Cause   error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Pos.IsValid() {
		msg = e.Pos.String() + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Cause }

// Category implements ir.Categorized. A wrapped categorized cause, such
// as a linearity violation, keeps its own category.
func (e *CompileError) Category() ir.Category {
	var c ir.Categorized
	if e.Cause != nil && errors.As(e.Cause, &c) {
		return c.Category()
	}
	return ir.CategoryValidation
}

func parseError(pos Pos, format string, args ...any) *CompileError {
	return &CompileError{Code: ErrCodeParse, Message: fmt.Sprintf(format, args...), Pos: pos}
}

func loweringError(pos Pos, format string, args ...any) *CompileError {
	return &CompileError{Code: ErrCodeLowering, Message: fmt.Sprintf(format, args...), Pos: pos}
}

func notImplemented(pos Pos, feature string) *CompileError {
	return &CompileError{
		Code:    ErrCodeNotImplemented,
		Message: feature + " is not implemented",
		Feature: feature,
		Pos:     pos,
	}
}

// CodeOf returns the compile error code of err, or "".
func CodeOf(err error) ErrorCode {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err is a compile error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
