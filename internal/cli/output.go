package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/config"
	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/zk"
)

// Exit codes for CLI commands.
const (
	ExitSuccess       = 0 // Successful execution
	ExitFailure       = 1 // Scenario failures reported by test
	ExitValidation    = 2 // Parse, type, graph, config and usage errors
	ExitResourceState = 3 // Linearity, heap, runtime-state and determinism errors
	ExitBoundary      = 4 // Adapter and network errors
	ExitInternal      = 5 // Everything else
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Category implements ir.Categorized from the exit code.
func (e *ExitError) Category() ir.Category {
	switch e.Code {
	case ExitValidation:
		return ir.CategoryValidation
	case ExitResourceState:
		return ir.CategoryResourceState
	case ExitBoundary:
		return ir.CategoryBoundary
	}
	return ir.CategoryInternal
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCodeFor maps err to a process exit code. An ExitError keeps its own
// code; anything else is mapped by its error category.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch ir.CategoryOf(err) {
	case ir.CategoryValidation:
		return ExitValidation
	case ir.CategoryResourceState:
		return ExitResourceState
	case ir.CategoryBoundary:
		return ExitBoundary
	}
	return ExitInternal
}

// ErrorCode returns the most specific typed code carried by err.
func ErrorCode(err error) string {
	if c := compiler.CodeOf(err); c != "" {
		return string(c)
	}
	if c := zk.CodeOf(err); c != "" {
		return string(c)
	}
	if c := domain.CodeOf(err); c != "" {
		return string(c)
	}
	var ce *config.Error
	if errors.As(err, &ce) {
		return "CONFIG"
	}
	var le *LoadError
	if errors.As(err, &le) {
		return "LOAD_ERROR"
	}
	tag := executor.FailureTag(err)
	var exitErr *ExitError
	if tag == "INTERNAL" && errors.As(err, &exitErr) && exitErr.Code == ExitValidation {
		return "USAGE"
	}
	return tag
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Verbose output; keeps JSON on Writer clean
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Details  any    `json:"details,omitempty"`
}

var (
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// JSON reports whether the formatter writes JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success outputs a successful result. Text output is left to text, which
// may be nil when data prints well on its own.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		fmt.Fprintln(f.Writer, data)
		return nil
	}
	text(f.Writer)
	return nil
}

// Fail outputs err in the configured format and returns the ExitError the
// command should return.
func (f *OutputFormatter) Fail(message string, err error, details any) error {
	code := ExitCodeFor(err)
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:     ErrorCode(err),
				Category: ir.CategoryOf(err).String(),
				Message:  err.Error(),
				Details:  details,
			},
		})
	} else {
		fmt.Fprintf(f.Writer, "%s %s\n  [%s] %v\n", failMark("✗"), message, ErrorCode(err), err)
		if f.Verbose && details != nil {
			fmt.Fprintf(f.Writer, "  details: %v\n", details)
		}
	}
	return WrapExitError(code, message, err)
}

// VerboseLog outputs a message only in verbose mode, on ErrWriter when set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
