package zk

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies a witness or proof failure.
type ErrorCode string

const (
	ErrCodeWitnessValidation  ErrorCode = "WITNESS_VALIDATION"
	ErrCodeProofGeneration    ErrorCode = "PROOF_GENERATION_FAILED"
	ErrCodeVerification       ErrorCode = "VERIFICATION_FAILED"
	ErrCodeInvalidProofData   ErrorCode = "INVALID_PROOF_DATA"
	ErrCodeInsufficientMemory ErrorCode = "INSUFFICIENT_RESOURCES"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
)

// Error is a witness or proof failure. Step and Input locate witness
// validation failures; they are -1 when not applicable.
type Error struct {
	Code    ErrorCode
	Message string
	Step    int
	Input   int
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Step >= 0 {
		msg += fmt.Sprintf(" (step %d", e.Step)
		if e.Input >= 0 {
			msg += fmt.Sprintf(", input %d", e.Input)
		}
		msg += ")"
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
	case ErrCodeWitnessValidation:
		return ir.CategoryValidation
	case ErrCodeVerification:
		return ir.CategoryResourceState
	case ErrCodeInsufficientMemory, ErrCodeTimeout:
		return ir.CategoryBoundary
	}
	return ir.CategoryInternal
}

func newError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Step: -1, Input: -1, Cause: cause}
}

func witnessError(step, input int, format string, args ...any) *Error {
	return &Error{Code: ErrCodeWitnessValidation, Message: fmt.Sprintf(format, args...), Step: step, Input: input}
}

// CodeOf returns the zk error code of err, or "".
func CodeOf(err error) ErrorCode {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Code
	}
	return ""
}

// IsCode reports whether err is a zk error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
