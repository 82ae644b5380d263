package executor

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
	"github.com/roach88/causality/internal/machine"
)

// ErrorCode identifies an effect-runtime failure.
type ErrorCode string

const (
	// ErrCodeDeadlock means every live task is blocked.
	ErrCodeDeadlock ErrorCode = "DEADLOCK"
	// ErrCodeUnbalanced means a scope-closing directive had no open scope.
	ErrCodeUnbalanced ErrorCode = "UNBALANCED_SCOPE"
	// ErrCodeArity means a handler block declares a different number of
	// parameters than the perform supplies.
	ErrCodeArity ErrorCode = "HANDLER_ARITY"
	// ErrCodeUnknownBranch means an offer received a label it has no arm for.
	ErrCodeUnknownBranch ErrorCode = "UNKNOWN_BRANCH"
	// ErrCodeUndelivered means a linear or relevant value was left in a
	// session channel at termination.
	ErrCodeUndelivered ErrorCode = "UNDELIVERED_MESSAGE"
	// ErrCodeTerminated means the executor has already finished.
	ErrCodeTerminated ErrorCode = "TERMINATED"
	// ErrCodeForkInTransaction means a task forked while a transaction
	// was open.
	ErrCodeForkInTransaction ErrorCode = "FORK_IN_TRANSACTION"
	// ErrCodeNonDeterministic means a replay diverged from a recorded trace.
	ErrCodeNonDeterministic ErrorCode = "NON_DETERMINISTIC"
)

// Error is an effect-runtime failure.
type Error struct {
	Code    ErrorCode
	Message string
	Task    uint32
	PC      int
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (task %d, pc %d)", e.Code, e.Message, e.Task, e.PC)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements ir.Categorized.
func (e *Error) Category() ir.Category {
	switch e.Code {
	case ErrCodeUnbalanced, ErrCodeArity, ErrCodeUnknownBranch, ErrCodeForkInTransaction:
		return ir.CategoryValidation
	case ErrCodeTerminated:
		return ir.CategoryInternal
	}
	return ir.CategoryResourceState
}

// CodeOf returns the executor error code of err, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err is an executor error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// FailureTag returns the most specific code carried by err, for traces.
func FailureTag(err error) string {
	if err == nil {
		return ""
	}
	if k := linear.KindOf(err); k != "" {
		return string(k)
	}
	if c := machine.CodeOf(err); c != "" {
		return string(c)
	}
	if c := effect.CodeOf(err); c != "" {
		return string(c)
	}
	if c := CodeOf(err); c != "" {
		return string(c)
	}
	return "INTERNAL"
}
