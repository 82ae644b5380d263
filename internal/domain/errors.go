package domain

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies a boundary failure.
type ErrorCode string

const (
	ErrCodeUnavailable           ErrorCode = "UNAVAILABLE"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeRequestRejected       ErrorCode = "REQUEST_REJECTED"
	ErrCodeInsufficientResources ErrorCode = "INSUFFICIENT_RESOURCES"
	ErrCodeJobNotFound           ErrorCode = "JOB_NOT_FOUND"
)

// Error is a failure reported by or on behalf of an adapter. GasEstimate
// is set when a submission was rejected for gas.
type Error struct {
	Code        ErrorCode
	Domain      ir.DomainID
	Message     string
	GasEstimate uint64
	Cause       error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.GasEstimate > 0 {
		msg += fmt.Sprintf(" (gas estimate %d)", e.GasEstimate)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements ir.Categorized. Every boundary failure is a
// boundary error.
func (e *Error) Category() ir.Category { return ir.CategoryBoundary }

// Retryable reports whether a call may succeed when repeated.
func (e *Error) Retryable() bool {
	return e.Code == ErrCodeUnavailable || e.Code == ErrCodeTimeout
}

// Rejected creates a REQUEST_REJECTED error.
func Rejected(domain ir.DomainID, format string, args ...any) *Error {
	return &Error{Code: ErrCodeRequestRejected, Domain: domain, Message: fmt.Sprintf(format, args...)}
}

// Unavailable creates an UNAVAILABLE error.
func Unavailable(domain ir.DomainID, cause error) *Error {
	return &Error{Code: ErrCodeUnavailable, Domain: domain, Message: "domain unavailable", Cause: cause}
}

// CodeOf returns the boundary error code of err, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err is a boundary error with the given code.
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// IsRetryable reports whether err is a retryable boundary error.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable()
}
