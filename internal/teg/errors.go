package teg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/causality/internal/ir"
)

// ErrorCode identifies a graph validation failure.
type ErrorCode string

const (
	ErrCodeCycleDetected        ErrorCode = "CYCLE_DETECTED"
	ErrCodeDanglingConsumes     ErrorCode = "DANGLING_CONSUMES"
	ErrCodeDoubleProduce        ErrorCode = "DOUBLE_PRODUCE"
	ErrCodeDoubleConsume        ErrorCode = "DOUBLE_CONSUME"
	ErrCodeInconsistentTemporal ErrorCode = "INCONSISTENT_TEMPORAL"
	ErrCodeUnknownLabel         ErrorCode = "UNKNOWN_LABEL"
	ErrCodeUnknownNode          ErrorCode = "UNKNOWN_NODE"
)

// Error is a graph validation failure. Nodes lists the offending node ids
// in canonical order.
type Error struct {
	Code    ErrorCode
	Message string
	Nodes   []ir.NodeID
}

func (e *Error) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	short := make([]string, len(e.Nodes))
	for i, n := range e.Nodes {
		short[i] = n.Short()
	}
	return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(short, " "))
}

// Category implements ir.Categorized. Every graph error is a validation
// error.
func (e *Error) Category() ir.Category { return ir.CategoryValidation }

func newError(code ErrorCode, nodes []ir.NodeID, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Nodes: nodes}
}

// CodeOf returns the graph error code of err, or "".
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCode reports whether err is a graph error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
