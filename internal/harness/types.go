package harness

import (
	"github.com/roach88/causality/internal/executor"
)

// TraceEvent is one row of a scenario trace: an instruction entry or a
// directive event.
type TraceEvent struct {
	Op      string `json:"op,omitempty"`
	Kind    string `json:"kind,omitempty"`
	PC      int    `json:"pc"`
	Task    uint32 `json:"task"`
	Subject string `json:"subject,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when the expect clause and every assertion hold.
	Pass bool `json:"pass"`

	// Value is the rendered result, empty when the run failed.
	Value string `json:"value,omitempty"`

	// Failure is the failure code recorded in the trace.
	Failure string `json:"failure,omitempty"`

	// Category is the error category of a failed run.
	Category string `json:"category,omitempty"`

	TraceHash string `json:"trace_hash"`

	Entries []TraceEvent `json:"entries"`
	Events  []TraceEvent `json:"events"`

	Stats executor.Stats `json:"stats"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Entries: []TraceEvent{},
		Events:  []TraceEvent{},
		Errors:  []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record copies the trace rows into the result.
func (r *Result) record(tr *executor.Trace) {
	for _, en := range tr.Entries {
		r.Entries = append(r.Entries, TraceEvent{
			Op:      en.Instruction.Opcode().String(),
			PC:      en.PC,
			Task:    en.Task,
			Failure: en.Failure,
		})
	}
	for _, ev := range tr.Events {
		r.Events = append(r.Events, TraceEvent{
			Kind:    ev.Kind.String(),
			PC:      ev.PC,
			Task:    ev.Task,
			Subject: ev.Subject,
		})
	}
}
