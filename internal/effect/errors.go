package effect

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies an effect-layer failure.
type ErrorCode string

const (
	ErrCodeHandlerNotFound   ErrorCode = "HANDLER_NOT_FOUND"
	ErrCodeMissingCapability ErrorCode = "MISSING_CAPABILITY"
	ErrCodeCausalCycle       ErrorCode = "CAUSAL_CYCLE"
	ErrCodeCausalConflict    ErrorCode = "CAUSAL_CONFLICT"
	ErrCodeBrokenChain       ErrorCode = "BROKEN_CHAIN"
	ErrCodeUnverified        ErrorCode = "UNVERIFIED"
	ErrCodeInvalidProof      ErrorCode = "INVALID_PROOF"
	ErrCodeUnbound           ErrorCode = "UNBOUND_VARIABLE"
	ErrCodeLowering          ErrorCode = "LOWERING"
)

// Error is an effect-layer failure.
type Error struct {
	Code    ErrorCode
	Message string
	Tag     string // HANDLER_NOT_FOUND
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements ir.Categorized.
func (e *Error) Category() ir.Category {
	switch e.Code {
	case ErrCodeUnbound, ErrCodeLowering, ErrCodeInvalidProof:
		return ir.CategoryValidation
	}
	return ir.CategoryResourceState
}

// HandlerNotFound reports a perform with no handler in scope.
func HandlerNotFound(tag string) *Error {
	return &Error{Code: ErrCodeHandlerNotFound, Message: "no handler for " + tag, Tag: tag}
}

// MissingCapability reports a perform the host refuses to serve.
func MissingCapability(capability string) *Error {
	return &Error{Code: ErrCodeMissingCapability, Message: "capability " + capability + " not granted", Tag: capability}
}

// CodeOf returns the effect error code of err, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err is an effect error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
