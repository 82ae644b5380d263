package machine

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies a machine failure.
type ErrorCode string

const (
	ErrCodeInvalidRegister    ErrorCode = "INVALID_REGISTER"
	ErrCodeAlreadyConsumed    ErrorCode = "ALREADY_CONSUMED"
	ErrCodeTypeMismatch       ErrorCode = "TYPE_MISMATCH"
	ErrCodeCallStackOverflow  ErrorCode = "CALL_STACK_OVERFLOW"
	ErrCodeCallStackUnderflow ErrorCode = "CALL_STACK_UNDERFLOW"
	ErrCodeOutOfGas           ErrorCode = "OUT_OF_GAS"
	ErrCodeLinearity          ErrorCode = "LINEARITY_VIOLATION"
	ErrCodeUnknownResource    ErrorCode = "UNKNOWN_RESOURCE"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeInvalidProgram     ErrorCode = "INVALID_PROGRAM"
	ErrCodeConstraint         ErrorCode = "CONSTRAINT_VIOLATED"
	ErrCodeArithmetic         ErrorCode = "ARITHMETIC"
)

// Error is a machine failure. It aborts execution; the executor records
// the aborting entry and its pre-state.
type Error struct {
	Code     ErrorCode
	Message  string
	PC       int
	Register *RegisterID
	Expected string // TYPE_MISMATCH
	Actual   string // TYPE_MISMATCH
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Register != nil {
		msg += fmt.Sprintf(" (r%d)", *e.Register)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements ir.Categorized.
func (e *Error) Category() ir.Category {
	switch e.Code {
	case ErrCodeInvalidRegister, ErrCodeTypeMismatch, ErrCodeInvalidProgram:
		return ir.CategoryValidation
	}
	return ir.CategoryResourceState
}

// CodeOf returns the machine error code of err, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsCode reports whether err is a machine error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func regPtr(r RegisterID) *RegisterID { return &r }

func invalidRegister(r RegisterID, msg string) *Error {
	return &Error{Code: ErrCodeInvalidRegister, Message: msg, Register: regPtr(r)}
}

func alreadyConsumed(r RegisterID) *Error {
	return &Error{Code: ErrCodeAlreadyConsumed, Message: "register already consumed", Register: regPtr(r)}
}

// TypeMismatch builds a TYPE_MISMATCH error.
func TypeMismatch(expected, actual string) *Error {
	return &Error{
		Code:     ErrCodeTypeMismatch,
		Message:  fmt.Sprintf("expected %s, got %s", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

func linearityViolation(r RegisterID, cause error) *Error {
	return &Error{Code: ErrCodeLinearity, Message: "linearity violated", Register: regPtr(r), Cause: cause}
}
